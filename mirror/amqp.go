package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"homeus/config"
	"homeus/models"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes each new listing as a persistent JSON message.
type AMQPSink struct {
	channel    publisher
	closer     func() error
	exchange   string
	routingKey string
	logger     *slog.Logger
}

func NewAMQPSink(cfg config.AMQPConfig, logger *slog.Logger) (*AMQPSink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if cfg.Exchange != "" {
		kind := cfg.ExchangeType
		if kind == "" {
			kind = amqp.ExchangeTopic
		}
		if err := ch.ExchangeDeclare(cfg.Exchange, kind, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
		}
	}

	s := newAMQPSink(ch, cfg.Exchange, cfg.RoutingKey, logger)
	s.closer = func() error {
		ch.Close()
		return conn.Close()
	}
	return s, nil
}

func newAMQPSink(ch publisher, exchange, routingKey string, logger *slog.Logger) *AMQPSink {
	return &AMQPSink{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger.With("sink", "amqp", "exchange", exchange),
	}
}

func (s *AMQPSink) AppendOne(ctx context.Context, l *models.Listing) error {
	body, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("amqp marshal %s: %w", l.ExternalID, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    l.ExternalID,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{"source": l.Source},
	}

	publishCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.channel.PublishWithContext(publishCtx, s.exchange, s.routingKey, false, false, msg); err != nil {
		return fmt.Errorf("amqp publish %s: %w", l.ExternalID, err)
	}
	return nil
}

func (s *AMQPSink) AppendBatch(ctx context.Context, listings []models.Listing) error {
	for i := range listings {
		if err := s.AppendOne(ctx, &listings[i]); err != nil {
			return err
		}
	}
	s.logger.Info("batch published", "count", len(listings))
	return nil
}

func (s *AMQPSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
