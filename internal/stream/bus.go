package stream

import (
	"fmt"

	"Go2NetSentinel/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// PacketHandler processes one decoded packet.
type PacketHandler func(p model.PacketRecord)

// Publisher publishes packets or findings to NATS subjects.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewPublisher connects to url and publishes on subject.
func NewPublisher(url, subject string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url, nats.Name("ns-sentinel publisher"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("connected to NATS", zap.String("url", url), zap.String("subject", subject))
	return &Publisher{nc: nc, subject: subject, logger: logger.Named("publisher")}, nil
}

// PublishPacket serializes a packet and publishes it.
func (p *Publisher) PublishPacket(packet *model.PacketRecord) error {
	data, err := EncodePacket(packet)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// PublishFindings publishes one message per finding and flushes.
func (p *Publisher) PublishFindings(findings []model.Finding) error {
	for i := range findings {
		data, err := EncodeFinding(&findings[i])
		if err != nil {
			return err
		}
		if err := p.nc.Publish(p.subject, data); err != nil {
			return fmt.Errorf("failed to publish finding %s: %w", findings[i].ID, err)
		}
	}
	return p.nc.Flush()
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.logger.Info("NATS connection drained and closed")
	}
}

// Subscriber receives packets from a NATS subject.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	logger  *zap.Logger
}

// NewSubscriber connects to url.
func NewSubscriber(url, subject string, logger *zap.Logger) (*Subscriber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url, nats.Name("ns-sentinel subscriber"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("connected to NATS", zap.String("url", url))
	return &Subscriber{nc: nc, subject: subject, logger: logger.Named("subscriber")}, nil
}

// Start subscribes and hands every decodable packet to handler. Undecodable
// messages are logged and dropped.
func (s *Subscriber) Start(handler PacketHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		packet, err := DecodePacket(msg.Data)
		if err != nil {
			s.logger.Warn("dropping undecodable packet", zap.Error(err))
			return
		}
		handler(packet)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info("subscribed, waiting for packets", zap.String("subject", s.subject))
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS connection closed")
	}
}
