// Package worker refreshes cached deal totals off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dealstack/tally/internal/domain"
	"github.com/dealstack/tally/internal/rollup"
)

// Worker listens for fee commits and overrides and recomputes the
// affected deal's totals into the cache. The cache is a read optimization
// for dashboards; the authoritative totals path recomputes from the
// repository on demand.
type Worker struct {
	bus   domain.EventBus
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string

	// TotalsTTL is how long cached totals stay fresh.
	TotalsTTL time.Duration
}

// NewWorker creates a rollup worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		cache:  cache,
		ttl:    10 * time.Minute,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the fee topics for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.TotalsTTL > 0 {
		w.ttl = cfg.TotalsTTL
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("rollup workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	for _, topic := range []string{domain.TopicFeeCommitted, domain.TopicFeeOverridden} {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
			return w.refreshTotals(ctx, tenantID, msg)
		})
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTotalsQuery, func(ctx context.Context, msg *domain.Message) error {
		return w.answerTotalsQuery(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant rollup worker started",
		"tenant_id", tenantID,
	)

	return nil
}

// refreshTotals recomputes and caches totals for the deal named in the
// event, then announces the refresh on the totals topic.
func (w *Worker) refreshTotals(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var event domain.FeeEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse fee event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if event.DealID == "" {
		return nil
	}

	units, err := w.repo.ListDealUnits(ctx, tenantID, event.DealID)
	if err != nil {
		slog.Error("failed to load deal units",
			"deal_id", event.DealID,
			"error", err,
		)
		return err
	}
	fees, err := w.repo.ListDealFees(ctx, tenantID, event.DealID)
	if err != nil {
		slog.Error("failed to load deal fees",
			"deal_id", event.DealID,
			"error", err,
		)
		return err
	}

	totals := rollup.ComputeTotals(units, fees)

	if err := w.cache.SetDealTotals(ctx, tenantID, event.DealID, &totals, w.ttl); err != nil {
		slog.Error("failed to cache deal totals",
			"deal_id", event.DealID,
			"error", err,
		)
		return err
	}

	payload, _ := json.Marshal(domain.TotalsEvent{
		DealID:   event.DealID,
		TotalDue: totals.TotalDue.String(),
	})
	if err := w.bus.Publish(ctx, tenantID, domain.TopicDealTotals, payload); err != nil {
		slog.Error("failed to publish totals event",
			"deal_id", event.DealID,
			"error", err,
		)
	}

	slog.Info("deal totals refreshed",
		"tenant_id", tenantID,
		"deal_id", event.DealID,
		"total_due", totals.TotalDue.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// answerTotalsQuery serves a synchronous totals request from the bus.
// Totals are recomputed from the repository, not read from the cache, so
// remote dashboards get the same numbers the HTTP totals path reports.
func (w *Worker) answerTotalsQuery(ctx context.Context, tenantID string, msg *domain.Message) error {
	if msg.ReplyTo == "" {
		return nil
	}

	var query domain.TotalsQuery
	if err := json.Unmarshal(msg.Payload, &query); err != nil {
		slog.Error("failed to parse totals query",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if query.DealID == "" {
		return nil
	}

	units, err := w.repo.ListDealUnits(ctx, tenantID, query.DealID)
	if err != nil {
		return err
	}
	fees, err := w.repo.ListDealFees(ctx, tenantID, query.DealID)
	if err != nil {
		return err
	}

	totals := rollup.ComputeTotals(units, fees)
	payload, err := json.Marshal(&totals)
	if err != nil {
		return err
	}

	return w.bus.Publish(ctx, tenantID, msg.ReplyTo, payload)
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("rollup workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
