// Package mqttsrc feeds telemetry published on an MQTT broker into the
// ingest pipeline.
package mqttsrc

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"fleet-gateway/internal/config"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // ms
)

// Handler processes one payload. assetID is taken from the last topic level
// and may be empty.
type Handler func(ctx context.Context, payload []byte, assetID string) error

type Subscriber struct {
	cfg       config.MQTTConfig
	logger    *zap.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewSubscriber(cfg config.MQTTConfig, logger *zap.Logger) *Subscriber {
	return &Subscriber{cfg: cfg, logger: logger, newClient: mqtt.NewClient}
}

// Run connects, subscribes and blocks until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context, handle Handler) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(connectTimeout).
		SetOrderMatters(false)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		// resubscribe on every (re)connect
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, MessageHandler(ctx, handle, s.logger))
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			s.logger.Error("mqtt subscribe failed", zap.String("topic", s.cfg.Topic), zap.Error(token.Error()))
			return
		}
		s.logger.Info("mqtt subscribed", zap.String("broker", s.cfg.Broker), zap.String("topic", s.cfg.Topic))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("mqtt connection lost", zap.Error(err))
	})

	client := s.newClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", s.cfg.Broker, err)
		}
	case <-ctx.Done():
		client.Disconnect(disconnectQuiesce)
		return nil
	}

	<-ctx.Done()
	client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	client.Disconnect(disconnectQuiesce)
	s.logger.Info("mqtt subscriber stopped")
	return nil
}

// MessageHandler adapts a Handler to paho's callback signature.
func MessageHandler(ctx context.Context, handle Handler, logger *zap.Logger) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		assetID := AssetIDFromTopic(msg.Topic())
		if err := handle(ctx, msg.Payload(), assetID); err != nil {
			logger.Warn("mqtt telemetry rejected",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	}
}

// AssetIDFromTopic returns the last non-wildcard level of topic.
func AssetIDFromTopic(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	last := parts[len(parts)-1]
	if last == "#" || last == "+" {
		return ""
	}
	return last
}
