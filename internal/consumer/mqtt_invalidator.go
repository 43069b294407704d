package consumer

import (
	"context"
	"fmt"

	mqttcommon "contact-aggregator/common/mqtt"

	"go.uber.org/zap"
)

// Subscriber is the part of the MQTT client the invalidator needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
}

// MQTTInvalidator clears caches on package events published over MQTT.
type MQTTInvalidator struct {
	subscriber Subscriber
	clearer    CacheClearer
	topic      string
	qos        byte
	logger     *zap.Logger
	ctx        context.Context
}

// NewMQTTInvalidator creates an invalidator for topic.
func NewMQTTInvalidator(subscriber Subscriber, clearer CacheClearer, topic string, qos byte, logger *zap.Logger) *MQTTInvalidator {
	return &MQTTInvalidator{
		subscriber: subscriber,
		clearer:    clearer,
		topic:      topic,
		qos:        qos,
		logger:     logger,
		ctx:        context.Background(),
	}
}

// Start subscribes to the topic. Messages are handled on the MQTT client's
// goroutines; ctx is passed to ClearCaches.
func (m *MQTTInvalidator) Start(ctx context.Context) error {
	m.ctx = ctx
	if err := m.subscriber.Subscribe(m.topic, m.qos, m.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to invalidation topic: %w", err)
	}
	m.logger.Info("MQTT invalidator started", zap.String("topic", m.topic))
	return nil
}

func (m *MQTTInvalidator) handleMessage(topic string, payload []byte) error {
	event, err := ParsePayload(payload)
	if err != nil {
		return err
	}
	if !event.Invalidates() {
		m.logger.Debug("Ignoring package event",
			zap.String("topic", topic),
			zap.String("event_type", event.EventType),
		)
		return nil
	}

	m.logger.Info("Processing package event",
		zap.String("topic", topic),
		zap.String("event_type", event.EventType),
		zap.String("package", event.Package),
	)
	m.clearer.ClearCaches(m.ctx)
	return nil
}
