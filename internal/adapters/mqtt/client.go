package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mikey-austin/montage_panel/internal/adapters/mqttserver"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// Options configures the MQTT client.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLSCA     string
	TLSCert   string
	TLSKey    string
	TopicBase string
	Timeout   time.Duration
}

// Client is an MQTT adapter implementing the Broker port.
type Client struct {
	client     paho.Client
	replyTopic string
	topicBase  string
	timeout    time.Duration

	mu      sync.Mutex
	pending map[string]chan mp.ReplyEnvelope
}

// NewClient creates and connects an MQTT client.
func NewClient(opts Options) (*Client, error) {
	if opts.TopicBase == "" {
		opts.TopicBase = mp.BaseTopic
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}

	c := &Client{
		replyTopic: mp.TopicReply(opts.TopicBase, opts.ClientID),
		topicBase:  opts.TopicBase,
		timeout:    opts.Timeout,
		pending:    map[string]chan mp.ReplyEnvelope{},
	}

	clientOpts := paho.NewClientOptions().AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetConnectTimeout(opts.Timeout)
	clientOpts.SetAutoReconnect(true)
	// The reply subscription is (re)established on every connect.
	clientOpts.SetOnConnectHandler(func(client paho.Client) {
		client.Subscribe(c.replyTopic, 1, c.handleReply).WaitTimeout(c.timeout)
	})
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	tlsConfig, err := mqttserver.BuildTLSConfig(opts.TLSCA, opts.TLSCert, opts.TLSKey)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(clientOpts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	if token := c.client.Subscribe(c.replyTopic, 1, c.handleReply); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return c, nil
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(100)
}

// ReplyTopic returns the topic used for replies.
func (c *Client) ReplyTopic() string {
	return c.replyTopic
}

// PublishCommand publishes a command and waits for its reply.
func (c *Client) PublishCommand(ctx context.Context, nodeID string, cmd mp.CommandEnvelope) (mp.ReplyEnvelope, error) {
	req, err := json.Marshal(cmd)
	if err != nil {
		return mp.ReplyEnvelope{}, fmt.Errorf("marshal command: %w", err)
	}

	replyCh := make(chan mp.ReplyEnvelope, 1)
	c.mu.Lock()
	c.pending[cmd.ID] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}()

	topic := mp.TopicCommands(c.topicBase, nodeID)
	if token := c.client.Publish(topic, 1, false, req); token.Wait() && token.Error() != nil {
		return mp.ReplyEnvelope{}, token.Error()
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return mp.ReplyEnvelope{}, ctx.Err()
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		return mp.ReplyEnvelope{}, fmt.Errorf("timeout waiting for reply to %s", cmd.Type)
	}
}

// ListPresence collects retained presence messages for a short window.
func (c *Client) ListPresence(ctx context.Context) ([]mp.Presence, error) {
	var lock sync.Mutex
	collect := make(map[string]mp.Presence)
	handler := func(_ paho.Client, msg paho.Message) {
		// An empty retained payload clears a node that went away.
		if len(msg.Payload()) == 0 {
			return
		}
		var presence mp.Presence
		if err := json.Unmarshal(msg.Payload(), &presence); err != nil || presence.NodeID == "" {
			return
		}
		lock.Lock()
		collect[presence.NodeID] = presence
		lock.Unlock()
	}

	topic := fmt.Sprintf("%s/node/+/presence", c.topicBase)
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	defer c.client.Unsubscribe(topic).Wait()

	wait := time.NewTimer(250 * time.Millisecond)
	select {
	case <-ctx.Done():
		wait.Stop()
	case <-wait.C:
	}

	lock.Lock()
	defer lock.Unlock()
	out := make([]mp.Presence, 0, len(collect))
	for _, presence := range collect {
		out = append(out, presence)
	}
	return out, nil
}

// GetNavigatorState returns the retained state of a navigator node.
func (c *Client) GetNavigatorState(ctx context.Context, nodeID string) (mp.NavigatorState, error) {
	stateCh := make(chan mp.NavigatorState, 1)
	handler := func(_ paho.Client, msg paho.Message) {
		var state mp.NavigatorState
		if err := json.Unmarshal(msg.Payload(), &state); err != nil {
			return
		}
		select {
		case stateCh <- state:
		default:
		}
	}

	topic := mp.TopicState(c.topicBase, nodeID)
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return mp.NavigatorState{}, token.Error()
	}
	defer c.client.Unsubscribe(topic).Wait()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return mp.NavigatorState{}, ctx.Err()
	case state := <-stateCh:
		return state, nil
	case <-timer.C:
		return mp.NavigatorState{}, errors.New("timeout waiting for navigator state")
	}
}

// WatchNavigator streams state and events for a navigator until ctx ends.
func (c *Client) WatchNavigator(ctx context.Context, nodeID string) (<-chan mp.NavigatorState, <-chan mp.Event, <-chan error) {
	stateCh := make(chan mp.NavigatorState, 8)
	eventCh := make(chan mp.Event, 8)
	errCh := make(chan error, 1)

	stateTopic := mp.TopicState(c.topicBase, nodeID)
	eventTopic := mp.TopicEvents(c.topicBase, nodeID)
	handlers := map[string]paho.MessageHandler{
		stateTopic: decodeInto(stateCh),
		eventTopic: decodeInto(eventCh),
	}
	for topic, handler := range handlers {
		if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			errCh <- token.Error()
			return stateCh, eventCh, errCh
		}
	}

	go func() {
		<-ctx.Done()
		c.client.Unsubscribe(stateTopic, eventTopic).Wait()
		close(stateCh)
		close(eventCh)
		close(errCh)
	}()
	return stateCh, eventCh, errCh
}

// decodeInto returns a handler that decodes JSON payloads onto ch, dropping
// messages when the reader falls behind.
func decodeInto[T any](ch chan<- T) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		var value T
		if err := json.Unmarshal(msg.Payload(), &value); err != nil {
			return
		}
		select {
		case ch <- value:
		default:
		}
	}
}

func (c *Client) handleReply(_ paho.Client, msg paho.Message) {
	var reply mp.ReplyEnvelope
	if err := json.Unmarshal(msg.Payload(), &reply); err != nil {
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[reply.ID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- reply:
	default:
	}
}
