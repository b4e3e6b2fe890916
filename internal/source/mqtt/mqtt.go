// Package mqtt provides an MQTT subscriber source using paho.golang's
// autopaho connection manager. Reconnects and resubscription are handled
// by autopaho; the session expiry interval lets the broker queue QoS 1+
// messages across short disconnects.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"sensorlog/internal/logging"
	"sensorlog/internal/source"
)

// Config holds MQTT source configuration.
type Config struct {
	ID      string
	Servers []*url.URL
	// Filter is the topic filter to subscribe to, e.g. "sensors/#".
	Filter   string
	QoS      byte
	ClientID string
	Username string
	Password string
	// KeepAlive and SessionExpiry are in seconds, per the MQTT 5 packet
	// fields they feed.
	KeepAlive     uint16
	SessionExpiry uint32
	// CleanStart discards any server-side session state on the first
	// connection instead of resuming it.
	CleanStart bool
	Logger     *slog.Logger
}

// Source subscribes to an MQTT topic filter and emits every publish.
type Source struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a new MQTT source.
func New(cfg Config) *Source {
	return &Source{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With(logging.Key, "source", "type", "mqtt"),
	}
}

// Run maintains the broker connection until ctx is cancelled. Received
// publishes block on out, which applies backpressure to the connection
// rather than buffering unboundedly.
func (s *Source) Run(ctx context.Context, out chan<- source.Message) error {
	cliCfg := autopaho.ClientConfig{
		ServerUrls:                    s.cfg.Servers,
		KeepAlive:                     s.cfg.KeepAlive,
		SessionExpiryInterval:         s.cfg.SessionExpiry,
		CleanStartOnInitialConnection: s.cfg.CleanStart,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			s.logger.Info("mqtt connected", "filter", s.cfg.Filter, "qos", s.cfg.QoS)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: s.cfg.Filter, QoS: s.cfg.QoS},
				},
			}); err != nil {
				s.logger.Error("mqtt subscribe failed", "filter", s.cfg.Filter, "error", err)
			}
		},
		OnConnectError: func(err error) {
			s.logger.Warn("mqtt connect error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: s.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					msg := source.Message{
						Topic:      pr.Packet.Topic,
						Payload:    pr.Packet.Payload,
						ReceivedAt: time.Now(),
						SourceID:   s.cfg.ID,
					}
					select {
					case out <- msg:
						return true, nil
					case <-ctx.Done():
						return false, ctx.Err()
					}
				},
			},
			OnClientError: func(err error) {
				s.logger.Warn("mqtt client error", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				if d.Properties != nil && d.Properties.ReasonString != "" {
					s.logger.Warn("mqtt server disconnect", "reason", d.Properties.ReasonString)
					return
				}
				s.logger.Warn("mqtt server disconnect", "code", d.ReasonCode)
			},
		},
	}
	if s.cfg.Username != "" {
		cliCfg.ConnectUsername = s.cfg.Username
		cliCfg.ConnectPassword = []byte(s.cfg.Password)
	}

	cm, err := autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return fmt.Errorf("mqtt connection: %w", err)
	}

	s.logger.Info("mqtt source started",
		"servers", urlStrings(s.cfg.Servers),
		"client_id", s.cfg.ClientID,
	)

	<-ctx.Done()
	s.logger.Info("mqtt source stopping")

	// ctx is already cancelled; the disconnect needs its own deadline.
	dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = cm.Disconnect(dctx)
	<-cm.Done()
	return nil
}

func urlStrings(urls []*url.URL) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = u.String()
	}
	return out
}
