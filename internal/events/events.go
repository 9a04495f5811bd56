// Package events defines the domain event topics, their typed payloads, and
// the per-topic required-field contracts enforced at the bus boundary.
package events

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Topic names for the event bus.
const (
	TopicMarketTick     = "market.tick"
	TopicPriceProposal  = "price.proposal"
	TopicPriceUpdate    = "price.update"
	TopicIncidentNotice = "incident.notice"
)

// Payload is a typed, topic-tagged event payload. Fields exposes the payload
// as a flat field map for rule evaluation and durable logging; Validate
// enforces the topic's required-field contract.
type Payload interface {
	Topic() string
	Fields() map[string]any
	Validate() error
}

// Event is an immutable record delivered to bus subscribers.
type Event struct {
	ID      string
	Topic   string
	At      time.Time
	Payload Payload
}

// MarketTick is one observed market price for a SKU.
type MarketTick struct {
	SKU        string    `json:"sku"`
	Market     string    `json:"market"`
	Price      float64   `json:"price"`
	Currency   string    `json:"currency,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	Source     string    `json:"source"`
}

// Topic returns the topic this payload belongs to.
func (t *MarketTick) Topic() string { return TopicMarketTick }

// Fields returns the flat field map used for rule evaluation.
func (t *MarketTick) Fields() map[string]any {
	return map[string]any{
		"sku":         t.SKU,
		"market":      t.Market,
		"price":       t.Price,
		"currency":    t.Currency,
		"observed_at": t.ObservedAt,
		"source":      t.Source,
	}
}

// Validate checks the market.tick required-field contract.
func (t *MarketTick) Validate() error {
	if t.SKU == "" {
		return fmt.Errorf("market.tick: sku is required")
	}
	if t.Market == "" {
		return fmt.Errorf("market.tick: market is required")
	}
	if t.Price <= 0 {
		return fmt.Errorf("market.tick: price must be > 0")
	}
	if t.ObservedAt.IsZero() {
		return fmt.Errorf("market.tick: observed_at is required")
	}
	if t.Source == "" {
		return fmt.Errorf("market.tick: source is required")
	}
	return nil
}

// PriceProposal is a pricing-algorithm output awaiting governance.
type PriceProposal struct {
	ProposalID    string          `json:"proposal_id"`
	SKU           string          `json:"sku"`
	PrevPrice     decimal.Decimal `json:"prev_price"`
	ProposedPrice decimal.Decimal `json:"proposed_price"`
	Margin        decimal.Decimal `json:"margin,omitempty"`
	AlgorithmID   string          `json:"algorithm_id,omitempty"`
	// BasedOnRevision is the price-store revision the proposal was computed
	// against; the governor's update-if-unchanged check runs against it.
	BasedOnRevision int64     `json:"based_on_revision"`
	ProposedAt      time.Time `json:"proposed_at"`
}

// Topic returns the topic this payload belongs to.
func (p *PriceProposal) Topic() string { return TopicPriceProposal }

// Fields returns the flat field map used for rule evaluation.
func (p *PriceProposal) Fields() map[string]any {
	return map[string]any{
		"proposal_id":       p.ProposalID,
		"sku":               p.SKU,
		"prev_price":        p.PrevPrice.InexactFloat64(),
		"proposed_price":    p.ProposedPrice.InexactFloat64(),
		"margin":            p.Margin.InexactFloat64(),
		"algorithm_id":      p.AlgorithmID,
		"based_on_revision": p.BasedOnRevision,
		"proposed_at":       p.ProposedAt,
	}
}

// Validate checks the price.proposal required-field contract.
func (p *PriceProposal) Validate() error {
	if p.ProposalID == "" {
		return fmt.Errorf("price.proposal: proposal_id is required")
	}
	if p.SKU == "" {
		return fmt.Errorf("price.proposal: sku is required")
	}
	if p.PrevPrice.IsZero() {
		return fmt.Errorf("price.proposal: prev_price is required")
	}
	if p.ProposedPrice.Sign() <= 0 {
		return fmt.Errorf("price.proposal: proposed_price must be > 0")
	}
	return nil
}

// PriceUpdate announces an applied price change.
type PriceUpdate struct {
	ProposalID string          `json:"proposal_id"`
	SKU        string          `json:"sku"`
	FinalPrice decimal.Decimal `json:"final_price"`
	Revision   int64           `json:"revision"`
	AppliedAt  time.Time       `json:"applied_at"`
}

// Topic returns the topic this payload belongs to.
func (u *PriceUpdate) Topic() string { return TopicPriceUpdate }

// Fields returns the flat field map used for rule evaluation.
func (u *PriceUpdate) Fields() map[string]any {
	return map[string]any{
		"proposal_id": u.ProposalID,
		"sku":         u.SKU,
		"final_price": u.FinalPrice.InexactFloat64(),
		"revision":    u.Revision,
		"applied_at":  u.AppliedAt,
	}
}

// Validate checks the price.update required-field contract.
func (u *PriceUpdate) Validate() error {
	if u.ProposalID == "" {
		return fmt.Errorf("price.update: proposal_id is required")
	}
	if u.SKU == "" {
		return fmt.Errorf("price.update: sku is required")
	}
	if u.FinalPrice.Sign() <= 0 {
		return fmt.Errorf("price.update: final_price must be > 0")
	}
	return nil
}

// IncidentNotice is the in-app delivery channel: an incident re-published on
// the bus for any in-process consumer (dashboards, the Kafka mirror).
type IncidentNotice struct {
	IncidentID string    `json:"incident_id"`
	RuleID     string    `json:"rule_id"`
	SubjectKey string    `json:"subject_key"`
	Severity   string    `json:"severity"`
	Status     string    `json:"status"`
	Title      string    `json:"title"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Topic returns the topic this payload belongs to.
func (n *IncidentNotice) Topic() string { return TopicIncidentNotice }

// Fields returns the flat field map used for rule evaluation.
func (n *IncidentNotice) Fields() map[string]any {
	return map[string]any{
		"incident_id": n.IncidentID,
		"rule_id":     n.RuleID,
		"subject_key": n.SubjectKey,
		"severity":    n.Severity,
		"status":      n.Status,
		"title":       n.Title,
		"first_seen":  n.FirstSeen,
		"last_seen":   n.LastSeen,
	}
}

// Validate checks the incident.notice required-field contract.
func (n *IncidentNotice) Validate() error {
	if n.IncidentID == "" {
		return fmt.Errorf("incident.notice: incident_id is required")
	}
	if n.RuleID == "" {
		return fmt.Errorf("incident.notice: rule_id is required")
	}
	if n.SubjectKey == "" {
		return fmt.Errorf("incident.notice: subject_key is required")
	}
	return nil
}

// Generic is a payload for topics without a registered contract. The bus is
// permissive by default so late-added topics stay usable without code changes.
type Generic struct {
	EventTopic string         `json:"topic"`
	Data       map[string]any `json:"data"`
}

// Topic returns the topic this payload belongs to.
func (g *Generic) Topic() string { return g.EventTopic }

// Fields returns the flat field map used for rule evaluation.
func (g *Generic) Fields() map[string]any { return g.Data }

// Validate always passes; generic topics carry no contract.
func (g *Generic) Validate() error { return nil }

// SubjectKey extracts the subject key (SKU) from a payload's field map.
// Returns "" when the payload has no subject.
func SubjectKey(p Payload) string {
	if v, ok := p.Fields()["sku"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if v, ok := p.Fields()["subject_key"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
