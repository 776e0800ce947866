package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/montage_panel/internal/adapters/backend"
	"github.com/mikey-austin/montage_panel/internal/adapters/flags"
	"github.com/mikey-austin/montage_panel/internal/adapters/mqttserver"
	embeddedmqtt "github.com/mikey-austin/montage_panel/internal/modules/embedded_mqtt"
	mediaserver "github.com/mikey-austin/montage_panel/internal/modules/media_server"
	"github.com/mikey-austin/montage_panel/internal/modules/navigator"
	"github.com/mikey-austin/montage_panel/internal/modules/surface"
	"github.com/mikey-austin/montage_panel/internal/mpd"
	"github.com/mikey-austin/montage_panel/internal/ports"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

type overrides struct {
	broker    string
	identity  string
	topicBase string
	logLevel  string
	logFormat string
	logOutput string
	logSource bool
	logUTC    bool
	logColor  bool
}

func main() {
	var (
		configPath  string
		ov          overrides
		printConfig bool
		dryRun      bool
		moduleOnly  string
	)

	defaultConfig, err := mpd.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&configPath, "config", defaultConfig, "config file path")
	flag.StringVar(&ov.broker, "broker", "", "MQTT broker URL override")
	flag.StringVar(&ov.identity, "identity", "", "server identity override")
	flag.StringVar(&ov.topicBase, "topic-base", "", "topic base override")
	flag.StringVar(&ov.logLevel, "log-level", "", "log level override")
	flag.StringVar(&ov.logFormat, "log-format", "", "log format override (text|json)")
	flag.StringVar(&ov.logOutput, "log-output", "", "log output override (stdout|stderr)")
	flag.BoolVar(&ov.logSource, "log-source", false, "include source file in logs")
	flag.BoolVar(&ov.logUTC, "log-utc", false, "use UTC timestamps in logs")
	flag.BoolVar(&ov.logColor, "log-color", false, "enable colored log output (text only)")
	flag.StringVar(&moduleOnly, "module", "", "limit to a single module")
	flag.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.Parse()

	cfg, err := mpd.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyOverrides(&cfg, ov)

	if printConfig {
		printResolvedConfig(os.Stdout, cfg)
		return
	}
	if dryRun {
		return
	}

	logger := mpd.NewLogger(mpd.LogConfig{
		Level:     cfg.Server.LogLevel,
		Format:    cfg.Server.LogFormat,
		Output:    cfg.Server.LogOutput,
		AddSource: cfg.Server.LogSource,
		UTC:       cfg.Server.LogUTC,
		Color:     cfg.Server.LogColor,
	})
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger, moduleOnly); err != nil {
		logger.Error("mpd failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg mpd.Config, logger *zap.Logger, moduleOnly string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	embeddedURL := embeddedBrokerURL(cfg)
	skipEmbedded := false
	if moduleOnly != "embedded_mqtt" && cfg.Modules.EmbeddedMQTT.Enabled && cfg.Server.Broker == embeddedURL {
		if err := startEmbeddedBroker(ctx, cfg, logger, cancel); err != nil {
			return fmt.Errorf("embedded mqtt: %w", err)
		}
		skipEmbedded = true
	}

	if cfg.Server.Broker == "" && moduleOnly != "embedded_mqtt" {
		return errors.New("broker is required")
	}
	logger.Info("mpd starting",
		zap.String("broker", cfg.Server.Broker),
		zap.String("identity", cfg.Server.Identity),
		zap.String("topic_base", cfg.Server.TopicBase),
		zap.String("log_level", cfg.Server.LogLevel),
		zap.Strings("modules", enabledModules(cfg)),
	)

	var client *mqttserver.Client
	if needsMQTT(cfg, moduleOnly) {
		var err error
		client, err = mqttserver.NewClient(mqttOptions(cfg, logger))
		if err != nil {
			return fmt.Errorf("mqtt connection failed: %w", err)
		}
		defer client.Close()
	}

	var store ports.FlagStore
	if cfg.Modules.Navigator.Enabled && (moduleOnly == "" || moduleOnly == "navigator") {
		var closeStore func()
		var err error
		store, closeStore, err = openFlagStore(ctx, cfg.Flags)
		if err != nil {
			return fmt.Errorf("flag store: %w", err)
		}
		defer closeStore()
	}

	modules, err := buildModules(cfg, client, store, logger, moduleOnly, skipEmbedded)
	if err != nil {
		return fmt.Errorf("build modules: %w", err)
	}

	supervisor := mpd.Supervisor{Logger: logger}
	return supervisor.Run(ctx, modules)
}

func applyOverrides(cfg *mpd.Config, ov overrides) {
	if ov.broker != "" {
		cfg.Server.Broker = ov.broker
	}
	if ov.identity != "" {
		cfg.Server.Identity = ov.identity
	}
	if ov.topicBase != "" {
		cfg.Server.TopicBase = ov.topicBase
	}
	if ov.logLevel != "" {
		cfg.Server.LogLevel = ov.logLevel
	}
	if ov.logFormat != "" {
		cfg.Server.LogFormat = ov.logFormat
	}
	if ov.logOutput != "" {
		cfg.Server.LogOutput = ov.logOutput
	}
	if ov.logSource {
		cfg.Server.LogSource = true
	}
	if ov.logUTC {
		cfg.Server.LogUTC = true
	}
	if ov.logColor {
		cfg.Server.LogColor = true
	}
	if cfg.Server.TopicBase == "" {
		cfg.Server.TopicBase = mp.BaseTopic
	}
	if cfg.Server.Identity == "" {
		cfg.Server.Identity = "mpd"
	}
	if cfg.Server.Broker == "" && cfg.Modules.EmbeddedMQTT.Enabled {
		cfg.Server.Broker = embeddedBrokerURL(*cfg)
	}
	nav := &cfg.Modules.Navigator
	if nav.SurfaceNodeID == "" && cfg.Modules.Surface.Enabled {
		nav.SurfaceNodeID = cfg.Modules.Surface.NodeID
	}
	if nav.ServerURL == "" && cfg.Modules.MediaServer.Enabled {
		listen := cfg.Modules.MediaServer.Listen
		if listen == "" {
			listen = mediaserver.DefaultListen
		}
		nav.ServerURL = "http://" + listen
		if nav.ServerToken == "" {
			nav.ServerToken = cfg.Modules.MediaServer.Token
		}
	}
}

func needsMQTT(cfg mpd.Config, moduleOnly string) bool {
	switch moduleOnly {
	case "":
		return cfg.Modules.Navigator.Enabled || cfg.Modules.Surface.Enabled
	case "navigator", "surface":
		return true
	default:
		return false
	}
}

func mqttOptions(cfg mpd.Config, logger *zap.Logger) mqttserver.Options {
	opts := mqttserver.Options{
		BrokerURL: cfg.Server.Broker,
		ClientID:  fmt.Sprintf("%s-%d", cfg.Server.Identity, time.Now().UnixNano()),
		Username:  cfg.Server.Auth.User,
		Password:  cfg.Server.Auth.Pass,
		TLSCA:     cfg.Server.TLS.CA,
		TLSCert:   cfg.Server.TLS.Cert,
		TLSKey:    cfg.Server.TLS.Key,
		Timeout:   2 * time.Second,
		Logger:    logger.Named("mqtt"),
		Debug:     cfg.Server.LogLevel == "debug",
	}
	// Clear retained navigator presence if the daemon drops off the broker.
	if cfg.Modules.Navigator.Enabled && cfg.Modules.Navigator.NodeID != "" {
		opts.Will = &mqttserver.Will{
			Topic:    mp.TopicPresence(cfg.Server.TopicBase, cfg.Modules.Navigator.NodeID),
			Retained: true,
		}
	}
	return opts
}

func openFlagStore(ctx context.Context, cfg mpd.FlagsConfig) (ports.FlagStore, func(), error) {
	switch cfg.Backend {
	case "", "file":
		path := cfg.Path
		if path == "" {
			var err error
			path, err = flags.DefaultPath()
			if err != nil {
				return nil, nil, err
			}
		}
		store, err := flags.NewFileStore(path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "redis":
		store, err := flags.NewRedisStore(ctx, flags.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown flags backend %q", cfg.Backend)
	}
}

func buildModules(cfg mpd.Config, client *mqttserver.Client, store ports.FlagStore, logger *zap.Logger, moduleOnly string, skipEmbedded bool) ([]mpd.ModuleRunner, error) {
	wanted := func(name string) bool { return moduleOnly == "" || moduleOnly == name }
	modules := []mpd.ModuleRunner{}

	if cfg.Modules.EmbeddedMQTT.Enabled && !skipEmbedded && wanted("embedded_mqtt") {
		mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedConfig(cfg))
		if err != nil {
			return nil, err
		}
		modules = append(modules, mpd.ModuleRunner{Name: "embedded_mqtt", Run: mod.Run})
	}

	if cfg.Modules.MediaServer.Enabled && wanted("media_server") {
		storagePath := cfg.Modules.MediaServer.StoragePath
		if storagePath == "" {
			var err error
			storagePath, err = defaultMediaPath()
			if err != nil {
				return nil, err
			}
		}
		mod, err := mediaserver.NewModule(logger.With(zap.String("module", "media_server")), mediaserver.Config{
			Listen:      cfg.Modules.MediaServer.Listen,
			StoragePath: storagePath,
			Token:       cfg.Modules.MediaServer.Token,
			ConfirmLag:  time.Duration(cfg.Modules.MediaServer.ConfirmLagMS) * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, mpd.ModuleRunner{Name: "media_server", Run: mod.Run})
	}

	if cfg.Modules.Surface.Enabled && wanted("surface") {
		mod, err := surface.NewModule(logger.With(zap.String("module", "surface")), client, nil, surface.Config{
			NodeID:    cfg.Modules.Surface.NodeID,
			TopicBase: cfg.Server.TopicBase,
			Name:      cfg.Modules.Surface.Name,
			InitDelay: time.Duration(cfg.Modules.Surface.InitDelayMS) * time.Millisecond,
			History:   cfg.Modules.Surface.History,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, mpd.ModuleRunner{Name: "surface", Run: mod.Run})
	}

	if cfg.Modules.Navigator.Enabled && wanted("navigator") {
		navCfg := cfg.Modules.Navigator
		if navCfg.ServerURL == "" {
			return nil, errors.New("navigator server_url required")
		}
		navLog := logger.With(zap.String("module", "navigator"))
		api, err := navigator.NewBackend(backend.Config{
			BaseURL:      navCfg.ServerURL,
			Token:        navCfg.ServerToken,
			Timeout:      time.Duration(navCfg.TimeoutMS) * time.Millisecond,
			CommandRate:  navCfg.CommandRate,
			CommandBurst: navCfg.CommandBurst,
		}, navLog.Named("backend"))
		if err != nil {
			return nil, err
		}
		mod, err := navigator.NewModule(navLog, client, api, store, navigator.Config{
			NodeID:        navCfg.NodeID,
			TopicBase:     cfg.Server.TopicBase,
			Name:          navCfg.Name,
			DeviceID:      navCfg.DeviceID,
			ScreenID:      navCfg.ScreenID,
			SurfaceNodeID: navCfg.SurfaceNodeID,
			Timings:       navCfg.Timings.Timings(),
			FeedRetryMax:  time.Duration(navCfg.FeedRetryMaxMS) * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, mpd.ModuleRunner{Name: "navigator", Run: mod.Run})
	}

	if cfg.Modules.Metrics.Enabled && wanted("metrics") {
		srv := mpd.NewMetricsServer(logger.With(zap.String("module", "metrics")), cfg.Modules.Metrics.Listen)
		modules = append(modules, mpd.ModuleRunner{Name: "metrics", Run: srv.Run})
	}

	if moduleOnly != "" && len(modules) == 0 {
		return nil, errors.New("no modules enabled")
	}
	return modules, nil
}

func enabledModules(cfg mpd.Config) []string {
	out := []string{}
	if cfg.Modules.EmbeddedMQTT.Enabled {
		out = append(out, "embedded_mqtt")
	}
	if cfg.Modules.MediaServer.Enabled {
		out = append(out, "media_server")
	}
	if cfg.Modules.Surface.Enabled {
		out = append(out, "surface")
	}
	if cfg.Modules.Navigator.Enabled {
		out = append(out, "navigator")
	}
	if cfg.Modules.Metrics.Enabled {
		out = append(out, "metrics")
	}
	return out
}

func printResolvedConfig(w io.Writer, cfg mpd.Config) {
	fmt.Fprintf(w,
		"broker=%s identity=%s topic_base=%s log_level=%s log_format=%s log_output=%s log_source=%t log_utc=%t log_color=%t flags=%s modules=%v\n",
		cfg.Server.Broker,
		cfg.Server.Identity,
		cfg.Server.TopicBase,
		cfg.Server.LogLevel,
		cfg.Server.LogFormat,
		cfg.Server.LogOutput,
		cfg.Server.LogSource,
		cfg.Server.LogUTC,
		cfg.Server.LogColor,
		cfg.Flags.Backend,
		enabledModules(cfg),
	)
}

func embeddedConfig(cfg mpd.Config) embeddedmqtt.Config {
	return embeddedmqtt.Config{
		Listen:         cfg.Modules.EmbeddedMQTT.Listen,
		AllowAnonymous: cfg.Modules.EmbeddedMQTT.AllowAnonymous,
		Username:       cfg.Modules.EmbeddedMQTT.Username,
		Password:       cfg.Modules.EmbeddedMQTT.Password,
		TLSCA:          cfg.Modules.EmbeddedMQTT.TLSCA,
		TLSCert:        cfg.Modules.EmbeddedMQTT.TLSCert,
		TLSKey:         cfg.Modules.EmbeddedMQTT.TLSKey,
	}
}

func embeddedListen(cfg mpd.Config) string {
	if cfg.Modules.EmbeddedMQTT.Listen == "" {
		return embeddedmqtt.DefaultListen
	}
	return cfg.Modules.EmbeddedMQTT.Listen
}

func embeddedBrokerURL(cfg mpd.Config) string {
	return embeddedmqtt.BrokerURL(embeddedListen(cfg), embeddedConfig(cfg).TLSEnabled())
}

func startEmbeddedBroker(ctx context.Context, cfg mpd.Config, logger *zap.Logger, cancel context.CancelFunc) error {
	mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedConfig(cfg))
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- mod.Run(ctx)
	}()
	go func() {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("embedded mqtt exited", zap.Error(err))
			cancel()
		}
	}()
	return embeddedmqtt.WaitForListen(embeddedListen(cfg), 3*time.Second)
}

func defaultMediaPath() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "mp", "media"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "mp", "media"), nil
}
