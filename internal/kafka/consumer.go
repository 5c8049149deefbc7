package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/segmentio/kafka-go"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r           reader
	workers     int
	maxAttempts int
	backoff     time.Duration
	// hold is the pause between attempts once a message is holding its partition.
	hold time.Duration
	log  *slog.Logger

	// Park, when set, takes a message whose transient failures outlasted the
	// retries (for example by writing it to a dead topic). A parked message
	// is committed. Without Park, or when Park fails, the message keeps its
	// partition until it succeeds.
	Park func(ctx context.Context, m kafka.Message, cause error) error
}

func NewConsumer(brokers []string, group, topic string, workers int, log *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r reader, workers int, log *slog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, maxAttempts: 5, backoff: 200 * time.Millisecond, hold: 5 * time.Second, log: log}
}

// Start dispatches messages to a worker pool until ctx ends. A partition
// always goes to the same worker, so its offsets are handled and committed
// in order. Transient handler errors are retried in place with backoff;
// permanent ones are logged and committed so the partition keeps moving.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	done := make(chan struct{})
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 64)
		go func(in <-chan kafka.Message) {
			defer func() { done <- struct{}{} }()
			for m := range in {
				if !c.process(ctx, h, m) {
					// shutting down; drop the rest uncommitted
					for range in {
					}
					return
				}
			}
		}(jobs[i])
	}
	wait := func() {
		for _, ch := range jobs {
			close(ch)
		}
		for i := 0; i < c.workers; i++ {
			<-done
		}
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			wait()
			// kecilkan noise saat shutdown
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			wait()
			return nil
		}
	}
}

// attempt runs h up to maxAttempts times while the error is transient.
func (c *Consumer) attempt(ctx context.Context, h Handler, m kafka.Message, log *slog.Logger) error {
	var err error
	for n := 1; n <= c.maxAttempts; n++ {
		if err = h(ctx, m); err == nil || !apperr.Retryable(err) || n == c.maxAttempts {
			return err
		}
		log.Warn("handler failed, retrying", "attempt", n, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(n)):
		}
	}
	return err
}

// process settles m and reports false when ctx ended before it could.
// Committing an offset commits everything before it on the partition, so m
// is committed only once handled, dropped as unprocessable, or parked.
func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) bool {
	log := c.log.With("topic", m.Topic, "partition", m.Partition, "offset", m.Offset)
	err := c.attempt(ctx, h, m, log)
	for {
		if ctx.Err() != nil {
			return false
		}
		if err == nil || !apperr.Retryable(err) {
			break
		}
		if c.Park != nil {
			perr := c.Park(ctx, m, err)
			if perr == nil {
				log.Error("handler gave up, message parked", "err", err)
				break
			}
			log.Error("park failed", "err", perr)
		}
		log.Error("handler gave up, holding partition", "err", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.hold):
		}
		err = c.attempt(ctx, h, m, log)
	}
	if err != nil && !apperr.Retryable(err) {
		log.Error("dropping unprocessable message", "err", err)
	}
	if cerr := c.r.CommitMessages(ctx, m); cerr != nil {
		log.Error("commit failed", "err", cerr)
	}
	return true
}
