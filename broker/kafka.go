// Package broker wraps the message queue, MQTT and overlay clients shared by
// the transports, the callback listeners and the simulated peers.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

// KafkaReader is the consuming half of *kafka.Reader.
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaWriter is the producing half of *kafka.Writer.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader consumes topic as a member of groupID. A group without
// committed offsets starts at the end of the topic, so records produced
// before the reader existed are never delivered.
func NewKafkaReader(brokers []string, topic, groupID string) KafkaReader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     10 * time.Millisecond,
	})
}

// NewPartitionReader reads one partition of topic from offset on, outside
// any consumer group.
func NewPartitionReader(brokers []string, topic string, partition int, offset int64) KafkaReader {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: partition,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   10 * time.Millisecond,
	})
	// only fails for group readers
	_ = r.SetOffset(offset)
	return r
}

// TailOffsets returns the end offset of every partition of topic. A reader
// started at these offsets sees every record produced after the call, no
// matter how late it issues its first fetch. The topic is created on demand
// when the broker allows it, so unknown topic answers are retried.
func TailOffsets(ctx context.Context, brokers []string, topic string, retry Retry) (map[int]int64, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka broker configured")
	}
	var err error
	for i := 0; i < max(retry.Attempts, 1); i++ {
		var offsets map[int]int64
		if offsets, err = tailOffsets(ctx, brokers[0], topic); err == nil {
			return offsets, nil
		}
		if !IsUnknownTopic(err) && !errors.Is(err, kafka.LeaderNotAvailable) {
			return nil, err
		}
		log.WithError(err).WithField("topic", topic).Debug("topic not ready, retrying offsets")
		if err := sleep(ctx, retry.Backoff); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no offsets for topic [%s] after %d attempts: %w", topic, retry.Attempts, err)
}

func tailOffsets(ctx context.Context, addr, topic string) (map[int]int64, error) {
	conn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial kafka broker [%s]: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	partitions, err := conn.ReadPartitions(topic)
	if err != nil {
		return nil, err
	}
	if len(partitions) == 0 {
		return nil, kafka.UnknownTopicOrPartition
	}

	offsets := make(map[int]int64, len(partitions))
	for _, p := range partitions {
		leader, err := kafka.DialLeader(ctx, "tcp", addr, topic, p.ID)
		if err != nil {
			return nil, fmt.Errorf("dial leader of [%s/%d]: %w", topic, p.ID, err)
		}
		last, err := leader.ReadLastOffset()
		_ = leader.Close()
		if err != nil {
			return nil, fmt.Errorf("read last offset of [%s/%d]: %w", topic, p.ID, err)
		}
		offsets[p.ID] = last
	}
	return offsets, nil
}

// NewKafkaWriter returns a synchronous writer that flushes every record on
// its own and waits for the leader ack.
func NewKafkaWriter(brokers []string) KafkaWriter {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchSize:              1,
		BatchTimeout:           time.Millisecond,
	}
}

// PingKafka dials every broker once so that a wrong address fails at
// startup rather than on the first attempt.
func PingKafka(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("no kafka broker configured")
	}
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			return fmt.Errorf("dial kafka broker [%s]: %w", b, err)
		}
		_ = conn.Close()
	}
	return nil
}

// IsUnknownTopic reports whether err, or any of the per-message errors it
// carries, is UnknownTopicOrPartition. Brokers answer with it while an auto
// created topic is still being set up.
func IsUnknownTopic(err error) bool {
	if errors.Is(err, kafka.UnknownTopicOrPartition) {
		return true
	}
	var werr kafka.WriteErrors
	if errors.As(err, &werr) {
		for _, e := range werr {
			if errors.Is(e, kafka.UnknownTopicOrPartition) {
				return true
			}
		}
	}
	return false
}

// Retry bounds the transparent retries on unknown topic errors.
type Retry struct {
	Attempts int
	Backoff  time.Duration
}

var DefaultRetry = Retry{Attempts: 10, Backoff: 50 * time.Millisecond}

// Write sends msgs, retrying while the topic is unknown to the broker.
// Other errors are returned at once.
func Write(ctx context.Context, w KafkaWriter, retry Retry, msgs ...kafka.Message) error {
	var err error
	for i := 0; i < max(retry.Attempts, 1); i++ {
		if err = w.WriteMessages(ctx, msgs...); err == nil || !IsUnknownTopic(err) {
			return err
		}
		log.WithError(err).WithField("attempt", i+1).Debug("topic not ready, retrying write")
		if err := sleep(ctx, retry.Backoff); err != nil {
			return err
		}
	}
	return fmt.Errorf("topic still unknown after %d attempts: %w", retry.Attempts, err)
}

// Consume calls fn for every record until ctx is done. The reader is closed
// and rebuilt when the topic is reported unknown, and after other read
// errors once backoff has elapsed.
func Consume(ctx context.Context, newReader func() KafkaReader, backoff time.Duration, fn func(kafka.Message)) error {
	r := newReader()
	defer func() { _ = r.Close() }()

	for {
		msg, err := r.ReadMessage(ctx)
		if err == nil {
			fn(msg)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if IsUnknownTopic(err) {
			log.WithError(err).Info("topic unknown, resubscribing")
		} else {
			log.WithError(err).Warn("read failed, resubscribing")
		}
		_ = r.Close()
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		r = newReader()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
