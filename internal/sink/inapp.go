package sink

import (
	"context"
	"fmt"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/events"
)

// Publisher is the bus surface the in-app sink needs.
type Publisher interface {
	Publish(ctx context.Context, payload events.Payload) error
}

// InApp re-publishes an incident onto the bus under the incident.notice
// topic. It is the only sink with no external network dependency and
// therefore the only one that never fails transiently.
type InApp struct {
	publisher Publisher
}

// NewInApp creates the in-app sink over the bus.
func NewInApp(p Publisher) *InApp {
	return &InApp{publisher: p}
}

// Type returns the channel name this sink handles.
func (s *InApp) Type() string { return TypeInApp }

// Deliver publishes the incident notice.
func (s *InApp) Deliver(ctx context.Context, n *Notice) error {
	inc := n.Incident
	notice := &events.IncidentNotice{
		IncidentID: inc.IncidentID,
		RuleID:     inc.RuleID,
		SubjectKey: inc.SubjectKey,
		Severity:   inc.Severity,
		Status:     inc.Status,
		Title:      inc.Title,
		FirstSeen:  inc.FirstSeen,
		LastSeen:   inc.LastSeen,
	}
	if err := s.publisher.Publish(ctx, notice); err != nil {
		return fmt.Errorf("failed to publish incident notice: %w", err)
	}
	return nil
}
