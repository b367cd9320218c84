package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/analysis-portal/internal/infrastructure/resilience"
)

const (
	workerQueueGroup    = "analysis-workers"
	publishFlushTimeout = 2 * time.Second
)

// Broker carries job ids from the web process to the worker pool. A queue
// group subscription hands each id to exactly one worker.
type Broker struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

// Subject returns the subject jobs for the named queue are published on.
func Subject(prefix, queueName string) string {
	if queueName == "" {
		queueName = "default"
	}
	if prefix == "" {
		return queueName
	}
	return prefix + "." + queueName
}

func New(url, subject string) (*Broker, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Broker, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("analysis-portal"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Broker{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (b *Broker) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// Connected reports whether the underlying connection is currently usable.
func (b *Broker) Connected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// OpenCircuits lists breaker-guarded operations that currently fail fast.
func (b *Broker) OpenCircuits() []string {
	if b.executor == nil {
		return nil
	}
	return b.executor.OpenCircuits()
}

// Publish hands a job id to the worker pool. A disconnected client or an
// open circuit is reported as a temporary failure.
func (b *Broker) Publish(ctx context.Context, jobID string) error {
	call := func(_ context.Context) error {
		if !b.conn.IsConnected() {
			return fmt.Errorf("nats publish: %w", nats.ErrDisconnected)
		}
		if err := b.conn.Publish(b.subject, []byte(jobID)); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		if err := b.conn.FlushTimeout(publishFlushTimeout); err != nil {
			return fmt.Errorf("nats flush: %w", err)
		}
		return nil
	}

	var err error
	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// Subscribe hands every delivered job id to handler until ctx is done, then
// drains the subscription.
func (b *Broker) Subscribe(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := b.conn.QueueSubscribe(b.subject, workerQueueGroup, func(msg *nats.Msg) {
		deliver(ctx, handler, string(msg.Data))
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// deliver runs handler for one job id. Ids that arrive after shutdown began
// are not run; their records stay queued for the next consumer's sweep.
func deliver(ctx context.Context, handler func(context.Context, string) error, jobID string) bool {
	if errors.Is(ctx.Err(), context.Canceled) {
		slog.Info("job_left_queued", "job_id", jobID, "reason", "worker shutting down")
		return false
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, jobID); err != nil {
		slog.Error("worker_handler_error", "job_id", jobID, "error", err)
	}
	return true
}
