package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/toolchat/internal/config"
	"github.com/nugget/toolchat/internal/events"
)

const (
	eventBuffer    = 256
	publishTimeout = 5 * time.Second
)

// Publisher forwards bus events to an MQTT broker.
type Publisher struct {
	cfg      config.MQTTConfig
	clientID string
	bus      *events.Bus
	tokens   *DailyTokens
	logger   *slog.Logger

	cm      *autopaho.ConnectionManager
	publish func(ctx context.Context, pub *paho.Publish) error
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to connect and begin forwarding. instanceID names the MQTT client
// when cfg.ClientID is empty.
func New(cfg config.MQTTConfig, instanceID string, bus *events.Bus, tokens *DailyTokens, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if tokens == nil {
		tokens = NewDailyTokens(nil)
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "toolchat-" + shortID(instanceID)
	}
	return &Publisher{
		cfg:      cfg,
		clientID: clientID,
		bus:      bus,
		tokens:   tokens,
		logger:   logger,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Start connects to the broker and forwards bus events until ctx is
// cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, "online")
			p.publishTokens(ctx)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Subscribe before connecting so events raised during the
	// handshake are queued rather than dropped.
	ch := p.bus.Subscribe(eventBuffer)
	defer p.bus.Unsubscribe(ch)

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm
	p.publish = func(ctx context.Context, pub *paho.Publish) error {
		_, err := cm.Publish(ctx, pub)
		return err
	}

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			p.handle(ctx, e)
		}
	}
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, "offline")
	return p.cm.Disconnect(ctx)
}

// --- Topic helpers ---

func (p *Publisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/availability"
}

func (p *Publisher) eventTopic(kind string) string {
	return p.cfg.TopicPrefix + "/events/" + kind
}

func (p *Publisher) tokensTopic() string {
	return p.cfg.TopicPrefix + "/tokens_today"
}

// --- Forwarding ---

func (p *Publisher) handle(ctx context.Context, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	p.send(ctx, &paho.Publish{
		Topic:   p.eventTopic(e.Kind),
		Payload: payload,
		QoS:     0,
	})

	if p.tokens.Observe(e) {
		p.publishTokens(ctx)
	}
}

func (p *Publisher) publishTokens(ctx context.Context) {
	input, output, _ := p.tokens.Snapshot()
	p.send(ctx, &paho.Publish{
		Topic:   p.tokensTopic(),
		Payload: []byte(strconv.FormatInt(input+output, 10)),
		QoS:     0,
		Retain:  true,
	})
}

func (p *Publisher) publishAvailability(ctx context.Context, status string) {
	p.send(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	})
}

func (p *Publisher) send(ctx context.Context, pub *paho.Publish) {
	if p.publish == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.publish(ctx, pub); err != nil {
		p.logger.Debug("mqtt publish failed", "topic", pub.Topic, "error", err)
	}
}
