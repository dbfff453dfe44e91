package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrTopicNotReady = errors.New("topic not ready")

const (
	DefaultPartitions = 4
	readyAttempts     = 5
	readyInterval     = 200 * time.Millisecond
)

// AdminConn is the part of *kafka.Conn used to manage topics.
type AdminConn interface {
	Controller() (kafka.Broker, error)
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (AdminConn, error)
}

// BrokerDialer dials real brokers.
type BrokerDialer struct {
	*kafka.Dialer
}

func (d BrokerDialer) DialContext(ctx context.Context, network, address string) (AdminConn, error) {
	conn, err := d.Dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// TopicCreator makes sure the feed topic exists before the sink writes to it.
type TopicCreator struct {
	logger     *zap.Logger
	dialer     Dialer
	clock      clockwork.Clock
	Partitions int
}

func NewTopicCreator(logger *zap.Logger, dialer Dialer, clock clockwork.Clock) *TopicCreator {
	return &TopicCreator{
		logger:     logger,
		dialer:     dialer,
		clock:      clock,
		Partitions: DefaultPartitions,
	}
}

// Create asks the controller for the topic and waits until its partitions
// are visible. An existing topic is not an error.
func (tc *TopicCreator) Create(ctx context.Context, brokers []string, topic string) error {
	var (
		conn AdminConn
		err  error
	)
	for _, addr := range brokers {
		conn, err = tc.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
		tc.logger.Debug("Broker unreachable", zap.String("broker", addr), zap.Error(err))
	}
	if conn == nil {
		if err == nil {
			err = errors.New("no brokers configured")
		}
		return fmt.Errorf("dial brokers: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("get controller: %w", err)
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := tc.dialer.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", controllerAddr, err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     tc.Partitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		tc.logger.Info("Topic creation finished (might already exist)", zap.String("topic", topic), zap.Error(err))
	} else {
		tc.logger.Info("Topic creation request sent", zap.String("topic", topic), zap.Int("partitions", tc.Partitions))
	}

	return tc.waitForTopic(ctx, conn, topic)
}

func (tc *TopicCreator) waitForTopic(ctx context.Context, conn AdminConn, topic string) error {
	for i := 0; i < readyAttempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tc.clock.After(readyInterval):
		}

		partitions, err := conn.ReadPartitions(topic)
		if err == nil && len(partitions) > 0 {
			tc.logger.Info("Topic is ready", zap.String("topic", topic), zap.Int("partitions", len(partitions)))
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrTopicNotReady, topic)
}
