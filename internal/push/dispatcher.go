package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

// Result summarizes one broadcast.
type Result struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Evicted int `json:"evicted"`
	Skipped int `json:"skipped"`
}

// Dispatcher fans a payload out to every registered subscription.
type Dispatcher struct {
	registry *Registry
	sender   Sender
	limit    int
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher running at most limit sends at once.
func NewDispatcher(registry *Registry, sender Sender, limit int, logger *slog.Logger) *Dispatcher {
	if limit <= 0 {
		limit = defaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		sender:   sender,
		limit:    limit,
		logger:   logger,
	}
}

// Broadcast sends payload to a snapshot of the registry. A failure on one
// subscription never affects the others; expired subscriptions are
// evicted and transient failures are logged without retry.
func (d *Dispatcher) Broadcast(ctx context.Context, payload Payload) Result {
	subs := d.registry.All()
	if len(subs) == 0 {
		return Result{}
	}

	var (
		mu  sync.Mutex
		res Result
	)
	count := func(n *int) {
		mu.Lock()
		*n++
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(d.limit)
	for _, sub := range subs {
		g.Go(func() error {
			// Unregistered after the snapshot was taken.
			if !d.registry.Contains(sub) {
				count(&res.Skipped)
				return nil
			}

			err := d.sender.Send(ctx, sub, payload)
			switch {
			case err == nil:
				count(&res.Sent)
			case errors.Is(err, ErrExpired):
				count(&res.Evicted)
				removed, err := d.registry.Evict(sub)
				switch {
				case err != nil:
					d.logger.Error("remove expired subscription", "endpoint", sub.Endpoint, "error", err)
				case removed:
					d.logger.Info("removed expired subscription", "endpoint", sub.Endpoint)
				default:
					d.logger.Debug("expired subscription already replaced", "endpoint", sub.Endpoint)
				}
			default:
				count(&res.Failed)
				d.logger.Warn("push send failed", "endpoint", sub.Endpoint, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return res
}
