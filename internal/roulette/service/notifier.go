package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"maproulette/internal/common/mq"
	"maproulette/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
)

// DefaultNotificationTopic carries mails for the external mailer.
const DefaultNotificationTopic = "roulette.notifications"

// Notification is a maintainer mail.
type Notification struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Notifier delivers maintainer notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// MQNotifier publishes notifications as JSON to a Kafka topic.
type MQNotifier struct {
	producer mq.Producer
	topic    string
}

// NewMQNotifier publishes to topic, or DefaultNotificationTopic when it is empty.
func NewMQNotifier(producer mq.Producer, topic string) (*MQNotifier, error) {
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if topic == "" {
		topic = DefaultNotificationTopic
	}
	return &MQNotifier{producer: producer, topic: topic}, nil
}

func (n *MQNotifier) Notify(ctx context.Context, notification Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	msg := mq.NewMessage(body)
	msg.SetHeader("subject", notification.Subject)
	return n.producer.Publish(ctx, n.topic, msg)
}

// LogNotifier writes notifications to the log. It stands in when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	logger.Info(ctx, "maintainer notification",
		zap.Strings("to", n.To),
		zap.String("subject", n.Subject),
	)
	return nil
}

// notifyAsync sends in the background. Failures are logged only.
func notifyAsync(ctx context.Context, notifier Notifier, n Notification, timeout time.Duration, observe func(error)) {
	if notifier == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	threading.GoSafe(func() {
		sendCtx := withTimeout(detached, timeout)
		defer sendCtx.cancel()
		err := notifier.Notify(sendCtx.ctx, n)
		if observe != nil {
			observe(err)
		}
		if err != nil {
			logger.Warn(detached, "send notification failed", zap.String("subject", n.Subject), zap.Error(err))
		}
	})
}
