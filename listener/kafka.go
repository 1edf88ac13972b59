package listener

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"nothing.com/sessionbench/broker"
	"nothing.com/sessionbench/rendezvous"
)

// Kafka consumes termination notifications from the callback topic.
//
// Start pins the end offset of every partition before it returns, so a
// notification produced by the first attempt is delivered even when the
// readers fetch for the first time later on.
type Kafka struct {
	topic     string
	flag      rendezvous.Setter
	tail      func(ctx context.Context) (map[int]int64, error)
	newReader func(partition int, offset int64) broker.KafkaReader
	backoff   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewKafka(brokers []string, topic string, flag rendezvous.Setter) *Kafka {
	return &Kafka{
		topic: topic,
		flag:  flag,
		tail: func(ctx context.Context) (map[int]int64, error) {
			return broker.TailOffsets(ctx, brokers, topic, broker.DefaultRetry)
		},
		newReader: func(partition int, offset int64) broker.KafkaReader {
			return broker.NewPartitionReader(brokers, topic, partition, offset)
		},
		backoff: 100 * time.Millisecond,
	}
}

func (k *Kafka) Start(ctx context.Context) error {
	offsets, err := k.tail(ctx)
	if err != nil {
		return err
	}

	ctx, k.cancel = context.WithCancel(ctx)
	for partition, offset := range offsets {
		k.wg.Add(1)
		go func() {
			defer k.wg.Done()
			k.consume(ctx, partition, offset)
		}()
	}

	log.WithFields(log.Fields{"topic": k.topic, "partitions": len(offsets)}).Info("callback consumer started")
	return nil
}

// consume reads one partition. A reader rebuilt after an error resumes
// right after the last record seen.
func (k *Kafka) consume(ctx context.Context, partition int, next int64) {
	newReader := func() broker.KafkaReader {
		return k.newReader(partition, next)
	}
	err := broker.Consume(ctx, newReader, k.backoff, func(m kafka.Message) {
		next = m.Offset + 1
		k.flag.Set()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).WithFields(log.Fields{"topic": k.topic, "partition": partition}).
			Error("callback consumer stopped")
	}
}

func (k *Kafka) Close() error {
	if k.cancel == nil {
		return nil
	}
	k.cancel()
	k.wg.Wait()
	return nil
}
