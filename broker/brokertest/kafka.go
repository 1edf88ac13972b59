package brokertest

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"

	"nothing.com/sessionbench/broker"
)

// KafkaBus keeps one single-partition log per topic. Readers hold their own
// offset into it, like partition readers on a real broker.
type KafkaBus struct {
	mu         sync.Mutex
	logs       map[string][]kafka.Message
	appended   chan struct{}
	writeErrs  []error
	readErrs   []error
	written    []kafka.Message
	newReaders int
}

func NewKafkaBus() *KafkaBus {
	return &KafkaBus{
		logs:     make(map[string][]kafka.Message),
		appended: make(chan struct{}),
	}
}

// FailWrites makes the next writes return errs, one per call.
func (b *KafkaBus) FailWrites(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeErrs = append(b.writeErrs, errs...)
}

// FailReads makes the next reads, across all readers, return errs. Readers
// blocked on an empty log are woken up to take them.
func (b *KafkaBus) FailReads(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readErrs = append(b.readErrs, errs...)
	b.wake()
}

func (b *KafkaBus) Written() []kafka.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]kafka.Message(nil), b.written...)
}

// ReadersCreated counts readers ever created, including closed ones.
func (b *KafkaBus) ReadersCreated() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.newReaders
}

// Tail returns the end offset of topic, keyed by its only partition.
func (b *KafkaBus) Tail(_ context.Context, topic string) (map[int]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[int]int64{0: int64(len(b.logs[topic]))}, nil
}

func (b *KafkaBus) Writer() broker.KafkaWriter {
	return &writer{bus: b}
}

// Reader sees only records written after it was created.
func (b *KafkaBus) Reader(topic string) broker.KafkaReader {
	b.mu.Lock()
	offset := int64(len(b.logs[topic]))
	b.mu.Unlock()
	return b.ReaderAt(topic, offset)
}

// ReaderAt starts reading topic at offset.
func (b *KafkaBus) ReaderAt(topic string, offset int64) broker.KafkaReader {
	b.mu.Lock()
	b.newReaders++
	b.mu.Unlock()
	return &reader{bus: b, topic: topic, offset: offset, closed: make(chan struct{})}
}

// wake must be called with mu held.
func (b *KafkaBus) wake() {
	close(b.appended)
	b.appended = make(chan struct{})
}

type writer struct {
	bus *KafkaBus
}

func (w *writer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	b := w.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.writeErrs) > 0 {
		err := b.writeErrs[0]
		b.writeErrs = b.writeErrs[1:]
		return err
	}
	for _, m := range msgs {
		m.Partition = 0
		m.Offset = int64(len(b.logs[m.Topic]))
		b.logs[m.Topic] = append(b.logs[m.Topic], m)
		b.written = append(b.written, m)
	}
	b.wake()
	return ctx.Err()
}

func (w *writer) Close() error {
	return nil
}

type reader struct {
	bus    *KafkaBus
	topic  string
	offset int64
	once   sync.Once
	closed chan struct{}
}

func (r *reader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	for {
		b := r.bus
		b.mu.Lock()
		if len(b.readErrs) > 0 {
			err := b.readErrs[0]
			b.readErrs = b.readErrs[1:]
			b.mu.Unlock()
			return kafka.Message{}, err
		}
		if log := b.logs[r.topic]; r.offset < int64(len(log)) {
			m := log[r.offset]
			r.offset++
			b.mu.Unlock()
			return m, nil
		}
		appended := b.appended
		b.mu.Unlock()

		select {
		case <-appended:
		case <-r.closed:
			return kafka.Message{}, context.Canceled
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		}
	}
}

func (r *reader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}
