// Package governance evaluates price proposals against guardrails and
// applies passing proposals to the authoritative price store under
// optimistic concurrency. Every outcome is recorded in the append-only
// decision log before any downstream event is published.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/events"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store"
)

// Guardrail rationale strings written to the decision log.
const (
	RationaleApplied       = "applied"
	RationaleMinMargin     = "min_margin_violated"
	RationaleMaxDelta      = "max_delta_exceeded"
	RationaleCostUnknown   = "cost_unavailable"
	RationaleStaleRevision = "price_revision_changed"
)

const defaultActor = "governor"

// CatalogLookup resolves the unit cost for a SKU. The bool result reports
// whether a cost is known at all.
type CatalogLookup interface {
	Cost(ctx context.Context, sku string) (decimal.Decimal, bool, error)
}

// Publisher publishes events back onto the bus.
type Publisher interface {
	Publish(ctx context.Context, payload events.Payload) error
}

// Recorder receives decision counters.
type Recorder interface {
	RecordDecision(action string)
}

// NoOpRecorder discards all counters.
type NoOpRecorder struct{}

func (NoOpRecorder) RecordDecision(string) {}

// Config holds governance guardrail and apply settings.
type Config struct {
	// MinMargin is the minimum acceptable (proposed - cost) / proposed.
	MinMargin decimal.Decimal
	// MaxDelta is the maximum acceptable |proposed - prev| / prev.
	MaxDelta decimal.Decimal
	// AutoApply gates the whole pipeline. When false, proposals are logged
	// and left for manual review; no decision entry is written.
	AutoApply bool
	// MaxApplyAttempts bounds the read-compare-write loop on transient
	// store errors. Revision mismatches are never retried.
	MaxApplyAttempts int
	// ApplyBackoff is the initial backoff between apply attempts.
	ApplyBackoff time.Duration
	// Actor is recorded on every decision entry.
	Actor string
}

// DefaultConfig returns permissive production defaults: 10% minimum
// margin, 10% maximum delta, auto-apply on.
func DefaultConfig() Config {
	return Config{
		MinMargin:        decimal.NewFromFloat(0.10),
		MaxDelta:         decimal.NewFromFloat(0.10),
		AutoApply:        true,
		MaxApplyAttempts: 3,
		ApplyBackoff:     100 * time.Millisecond,
		Actor:            defaultActor,
	}
}

// Governor owns the authoritative price value and the decision log.
type Governor struct {
	cfg       Config
	prices    store.PriceStore
	decisions store.DecisionStore
	catalog   CatalogLookup
	publisher Publisher
	recorder  Recorder
}

// Option configures a Governor.
type Option func(*Governor)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Governor) { g.recorder = r }
}

// New creates a governor. catalog may be nil when no cost source exists;
// the margin guardrail then fails closed with a cost_unavailable rejection.
func New(cfg Config, prices store.PriceStore, decisions store.DecisionStore, catalog CatalogLookup, publisher Publisher, opts ...Option) *Governor {
	if cfg.MaxApplyAttempts <= 0 {
		cfg.MaxApplyAttempts = 3
	}
	if cfg.ApplyBackoff <= 0 {
		cfg.ApplyBackoff = 100 * time.Millisecond
	}
	if cfg.Actor == "" {
		cfg.Actor = defaultActor
	}
	g := &Governor{
		cfg:       cfg,
		prices:    prices,
		decisions: decisions,
		catalog:   catalog,
		publisher: publisher,
		recorder:  NoOpRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HandleProposal is the bus handler for price.proposal events.
func (g *Governor) HandleProposal(ctx context.Context, ev events.Event) error {
	proposal, ok := ev.Payload.(*events.PriceProposal)
	if !ok {
		slog.Warn("Ignoring non-proposal payload on proposal topic",
			"event_id", ev.ID,
			"topic", ev.Topic,
		)
		return nil
	}

	if !g.cfg.AutoApply {
		slog.Info("Auto-apply disabled, leaving proposal for manual review",
			"proposal_id", proposal.ProposalID,
			"sku", proposal.SKU,
		)
		return nil
	}

	_, err := g.Decide(ctx, proposal)
	return err
}

// Decide runs the guardrails and, when they pass, the optimistic apply.
// Exactly one decision entry is written per proposal; a PriceUpdate event
// is published only for APPLIED_AUTO, and only after the entry is durable.
func (g *Governor) Decide(ctx context.Context, proposal *events.PriceProposal) (*store.DecisionLogEntry, error) {
	if rationale := g.checkGuardrails(ctx, proposal); rationale != "" {
		entry, err := g.logDecision(ctx, proposal, store.ActionRejected, rationale, proposal.PrevPrice)
		if err != nil {
			return nil, err
		}
		slog.Info("Rejected price proposal",
			"proposal_id", proposal.ProposalID,
			"sku", proposal.SKU,
			"rationale", rationale,
			"proposed_price", proposal.ProposedPrice,
		)
		return entry, nil
	}

	applied, prev, err := g.apply(ctx, proposal)
	if err != nil {
		if errors.Is(err, store.ErrRevisionMismatch) {
			entry, logErr := g.logDecision(ctx, proposal, store.ActionStale, RationaleStaleRevision, prev)
			if logErr != nil {
				return nil, logErr
			}
			slog.Info("Stale price proposal, revision moved on",
				"proposal_id", proposal.ProposalID,
				"sku", proposal.SKU,
				"based_on_revision", proposal.BasedOnRevision,
			)
			return entry, nil
		}
		// Transient store failure after retries. Not a decision; the
		// proposal is neither applied nor rejected.
		slog.Error("Failed to apply price proposal",
			"proposal_id", proposal.ProposalID,
			"sku", proposal.SKU,
			"error", err,
		)
		return nil, fmt.Errorf("apply price for %s: %w", proposal.SKU, err)
	}

	entry, err := g.logDecision(ctx, proposal, store.ActionAppliedAuto, RationaleApplied, prev)
	if err != nil {
		// The price is already written but the audit entry is not. Do not
		// publish the update without its decision record.
		return nil, err
	}

	update := &events.PriceUpdate{
		ProposalID: proposal.ProposalID,
		SKU:        proposal.SKU,
		FinalPrice: applied.Price,
		Revision:   applied.Revision,
		AppliedAt:  time.Now().UTC(),
	}
	if err := g.publisher.Publish(ctx, update); err != nil {
		slog.Error("Failed to publish price update",
			"proposal_id", proposal.ProposalID,
			"sku", proposal.SKU,
			"error", err,
		)
	}

	slog.Info("Applied price proposal",
		"proposal_id", proposal.ProposalID,
		"sku", proposal.SKU,
		"price", applied.Price,
		"revision", applied.Revision,
	)
	return entry, nil
}

// checkGuardrails returns the rejection rationale, or "" when all pass.
// Guardrails run in order: margin first, then delta.
func (g *Governor) checkGuardrails(ctx context.Context, proposal *events.PriceProposal) string {
	if proposal.ProposedPrice.Sign() <= 0 {
		return RationaleMinMargin
	}

	if g.catalog == nil {
		return RationaleCostUnknown
	}
	cost, known, err := g.catalog.Cost(ctx, proposal.SKU)
	if err != nil || !known {
		if err != nil {
			slog.Warn("Cost lookup failed", "sku", proposal.SKU, "error", err)
		}
		return RationaleCostUnknown
	}
	margin := proposal.ProposedPrice.Sub(cost).Div(proposal.ProposedPrice)
	if margin.LessThan(g.cfg.MinMargin) {
		return RationaleMinMargin
	}

	if proposal.PrevPrice.Sign() > 0 {
		delta := proposal.ProposedPrice.Sub(proposal.PrevPrice).Abs().Div(proposal.PrevPrice)
		if delta.GreaterThan(g.cfg.MaxDelta) {
			return RationaleMaxDelta
		}
	}
	return ""
}

// apply runs the bounded read-compare-write loop. It returns the written
// record and the previous price. A revision mismatch is final; only other
// store errors are retried.
func (g *Governor) apply(ctx context.Context, proposal *events.PriceProposal) (*store.PriceRecord, decimal.Decimal, error) {
	prev := proposal.PrevPrice
	backoff := g.cfg.ApplyBackoff

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxApplyAttempts; attempt++ {
		rec, seen, err := g.tryApply(ctx, proposal)
		if seen.Sign() > 0 {
			prev = seen
		}
		if err == nil {
			return rec, prev, nil
		}
		if errors.Is(err, store.ErrRevisionMismatch) {
			return nil, prev, err
		}
		lastErr = err

		if attempt == g.cfg.MaxApplyAttempts {
			break
		}
		slog.Warn("Price apply attempt failed, retrying",
			"sku", proposal.SKU,
			"attempt", attempt,
			"backoff", backoff,
			"error", lastErr,
		)
		select {
		case <-ctx.Done():
			return nil, prev, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, prev, fmt.Errorf("apply attempts exhausted: %w", lastErr)
}

// tryApply performs one read-compare-write pass. The second return value
// is the current stored price when one was read, zero otherwise.
func (g *Governor) tryApply(ctx context.Context, proposal *events.PriceProposal) (*store.PriceRecord, decimal.Decimal, error) {
	current, err := g.prices.GetPrice(ctx, proposal.SKU)
	if errors.Is(err, store.ErrNotFound) {
		// First price for this SKU. The seed races with any concurrent
		// seeder; the loser retries and sees the row.
		if proposal.BasedOnRevision != 0 {
			return nil, decimal.Zero, store.ErrRevisionMismatch
		}
		rec, seedErr := g.prices.SeedPrice(ctx, proposal.SKU, proposal.ProposedPrice)
		if seedErr != nil {
			return nil, decimal.Zero, seedErr
		}
		return rec, decimal.Zero, nil
	}
	if err != nil {
		return nil, decimal.Zero, err
	}

	if current.Revision != proposal.BasedOnRevision {
		return nil, current.Price, store.ErrRevisionMismatch
	}
	rec, err := g.prices.ApplyPrice(ctx, proposal.SKU, proposal.ProposedPrice, proposal.BasedOnRevision)
	if err != nil {
		return nil, current.Price, err
	}
	return rec, current.Price, nil
}

// logDecision writes exactly one append-only decision entry.
func (g *Governor) logDecision(ctx context.Context, proposal *events.PriceProposal, action, rationale string, prev decimal.Decimal) (*store.DecisionLogEntry, error) {
	entry := &store.DecisionLogEntry{
		DecisionID: uuid.NewString(),
		ProposalID: proposal.ProposalID,
		SubjectKey: proposal.SKU,
		Action:     action,
		Rationale:  rationale,
		PrevPrice:  prev,
		NewPrice:   proposal.ProposedPrice,
		Actor:      g.cfg.Actor,
		At:         time.Now().UTC(),
	}
	if err := g.decisions.AppendDecision(ctx, entry); err != nil {
		slog.Error("Failed to append decision log entry",
			"proposal_id", proposal.ProposalID,
			"action", action,
			"error", err,
		)
		return nil, fmt.Errorf("append decision for %s: %w", proposal.ProposalID, err)
	}
	g.recorder.RecordDecision(action)
	return entry, nil
}

// StaticCatalog is a fixed cost table, used when costs come from
// configuration rather than a live catalog service.
type StaticCatalog map[string]decimal.Decimal

// Cost returns the configured cost for a SKU.
func (c StaticCatalog) Cost(_ context.Context, sku string) (decimal.Decimal, bool, error) {
	cost, ok := c[sku]
	return cost, ok, nil
}
