package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/montage_panel/internal/adapters/clock"
	"github.com/mikey-austin/montage_panel/internal/adapters/config"
	"github.com/mikey-austin/montage_panel/internal/adapters/idgen"
	"github.com/mikey-austin/montage_panel/internal/adapters/mqtt"
	"github.com/mikey-austin/montage_panel/internal/adapters/output"
	"github.com/mikey-austin/montage_panel/internal/core"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

type app struct {
	service core.Service
	printer output.Printer
	quiet   bool
	json    bool
	timeout time.Duration
}

type globalFlags struct {
	broker    string
	topicBase string
	identity  string
	timeout   time.Duration
	quiet     bool
	jsonOut   bool
	noColor   bool
	tlsCA     string
	tlsCert   string
	tlsKey    string
	user      string
	pass      string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(core.ExitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "mp",
		Short:        "Montage panel CLI",
		SilenceUsage: true,
	}

	var flags globalFlags
	root.PersistentFlags().StringVarP(&flags.broker, "broker", "b", "", "MQTT broker URL")
	root.PersistentFlags().StringVar(&flags.topicBase, "topic-base", mp.BaseTopic, "MQTT topic base")
	root.PersistentFlags().StringVarP(&flags.identity, "identity", "i", "", "controller identity")
	root.PersistentFlags().DurationVarP(&flags.timeout, "timeout", "t", 5*time.Second, "command timeout")
	root.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "suppress non-essential output")
	root.PersistentFlags().BoolVarP(&flags.jsonOut, "json", "j", false, "output json")
	root.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "disable color")
	root.PersistentFlags().StringVar(&flags.tlsCA, "tls-ca", "", "TLS CA path")
	root.PersistentFlags().StringVar(&flags.tlsCert, "tls-cert", "", "TLS cert path")
	root.PersistentFlags().StringVar(&flags.tlsKey, "tls-key", "", "TLS key path")
	root.PersistentFlags().StringVar(&flags.user, "user", "", "MQTT username")
	root.PersistentFlags().StringVar(&flags.pass, "pass", "", "MQTT password")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return core.WrapError(core.ExitUsage, "load config", err)
		}
		resolved, err := resolveFlags(cmd, flags, cfg)
		if err != nil {
			return err
		}
		if resolved.noColor {
			output.DisableColor()
		}

		client, err := mqtt.NewClient(mqtt.Options{
			BrokerURL: resolved.broker,
			ClientID:  fmt.Sprintf("mp-%d", time.Now().UnixNano()),
			Username:  resolved.user,
			Password:  resolved.pass,
			TLSCA:     resolved.tlsCA,
			TLSCert:   resolved.tlsCert,
			TLSKey:    resolved.tlsKey,
			TopicBase: resolved.topicBase,
			Timeout:   resolved.timeout,
		})
		if err != nil {
			return core.WrapError(core.ExitRuntime, "connect broker", err)
		}

		coreCfg := core.Config{
			Broker:    resolved.broker,
			Identity:  resolved.identity,
			TopicBase: resolved.topicBase,
			Aliases:   cfg.Aliases,
			Defaults:  core.Defaults{Navigator: cfg.Defaults.Navigator},
		}
		service := core.Service{
			Broker:   client,
			Resolver: core.Resolver{Presence: client, Config: coreCfg},
			Clock:    clock.Clock{},
			IDGen:    idgen.Generator{},
			Config:   coreCfg,
		}

		var printer output.Printer = output.HumanPrinter{}
		if resolved.jsonOut {
			printer = output.JSONPrinter{}
		}

		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{
			service: service,
			printer: printer,
			quiet:   resolved.quiet,
			json:    resolved.jsonOut,
			timeout: resolved.timeout,
		}))
		return nil
	}

	root.AddCommand(lsCommand())
	root.AddCommand(statusCommand())
	root.AddCommand(navCommand())
	root.AddCommand(playNowCommand())
	root.AddCommand(stopCommand())
	root.AddCommand(sweepCommand())
	root.AddCommand(reloadCommand())
	root.AddCommand(screenCommand())
	root.AddCommand(playlistsCommand())
	return root
}

// resolveFlags merges command line flags over config file values.
func resolveFlags(cmd *cobra.Command, flags globalFlags, cfg config.Config) (globalFlags, error) {
	out := flags
	out.identity = defaultIdentity(flags.identity, cfg.Identity)
	if out.broker == "" {
		out.broker = cfg.Broker
	}
	if !cmd.Flags().Changed("topic-base") && cfg.TopicBase != "" {
		out.topicBase = cfg.TopicBase
	}
	if !cmd.Flags().Changed("timeout") && cfg.Timeout != "" {
		timeout, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return globalFlags{}, core.WrapError(core.ExitUsage, "invalid timeout in config", err)
		}
		out.timeout = timeout
	}
	if out.tlsCA == "" {
		out.tlsCA = cfg.TLS.CA
	}
	if out.tlsCert == "" {
		out.tlsCert = cfg.TLS.Cert
	}
	if out.tlsKey == "" {
		out.tlsKey = cfg.TLS.Key
	}
	if out.user == "" {
		out.user = cfg.Auth.User
	}
	if out.pass == "" {
		out.pass = cfg.Auth.Pass
	}
	if out.broker == "" {
		return globalFlags{}, &core.CLIError{Code: core.ExitUsage, Msg: "broker is required (set --broker or config)"}
	}
	return out, nil
}

type appKey struct{}

func fromContext(cmd *cobra.Command) (*app, error) {
	val, ok := cmd.Context().Value(appKey{}).(*app)
	if !ok || val == nil {
		return nil, errors.New("cli not initialised")
	}
	return val, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

func defaultIdentity(flagVal string, cfgVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if cfgVal != "" {
		return cfgVal
	}
	usr, _ := user.Current()
	host, _ := os.Hostname()
	if usr != nil && host != "" {
		return fmt.Sprintf("%s@%s", usr.Username, host)
	}
	if host != "" {
		return host
	}
	return "mp-unknown"
}
