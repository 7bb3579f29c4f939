package protocol

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
)

// MessageHandler consumes one inbound message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, topic string, payload []byte)
}

type inbound struct {
	topic   string
	payload []byte
}

// Dispatcher fans inbound messages out to a fixed set of workers. Messages
// for the same device always land on the same worker, so per-device arrival
// order is kept while different devices are handled concurrently.
type Dispatcher struct {
	handler MessageHandler
	logger  *slog.Logger
	shards  []chan inbound
	wg      sync.WaitGroup
}

// NewDispatcher builds a dispatcher with workers shards of the given queue depth.
func NewDispatcher(handler MessageHandler, workers, depth int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 8
	}
	if depth <= 0 {
		depth = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	shards := make([]chan inbound, workers)
	for i := range shards {
		shards[i] = make(chan inbound, depth)
	}
	return &Dispatcher{handler: handler, logger: logger, shards: shards}
}

// Start launches the workers. ctx is passed to the handler; workers exit after Close drains their queues.
func (d *Dispatcher) Start(ctx context.Context) {
	for _, ch := range d.shards {
		d.wg.Add(1)
		go func(ch chan inbound) {
			defer d.wg.Done()
			for msg := range ch {
				d.handler.HandleMessage(ctx, msg.topic, msg.payload)
			}
		}(ch)
	}
}

// Submit enqueues a message, blocking while the device's shard is full.
func (d *Dispatcher) Submit(topic string, payload []byte) {
	key := topic
	if t, err := ParseTopic(topic); err == nil {
		key = t.Namespace + "/" + formatDeviceID(t.DeviceID)
	}
	d.shards[shardFor(key, len(d.shards))] <- inbound{topic: topic, payload: append([]byte(nil), payload...)}
}

// Close stops accepting messages and waits for in-flight ones.
func (d *Dispatcher) Close() {
	for _, ch := range d.shards {
		close(ch)
	}
	d.wg.Wait()
}

func shardFor(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
