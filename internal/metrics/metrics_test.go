package metrics

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCollector_CountsWithoutRedis(t *testing.T) {
	c := NewCollector("alerting-engine", nil)

	bus := BusRecorder{C: c}
	bus.RecordPublished("market.tick")
	bus.RecordPublished("market.tick")
	bus.RecordPublished("price.proposal")
	bus.RecordRejected("market.tick")
	bus.RecordHandlerError("price.proposal")

	eng := EngineRecorder{C: c}
	eng.RecordEvaluated()
	eng.RecordEvaluated()
	eng.RecordFired()
	eng.RecordEvalError()

	inc := IncidentRecorder{C: c}
	inc.RecordOpened()
	inc.RecordTouched()
	inc.RecordTouched()
	inc.RecordThrottled()
	inc.RecordDispatched()

	snap := c.GetSnapshot()
	if snap.ServiceName != "alerting-engine" {
		t.Errorf("ServiceName = %q", snap.ServiceName)
	}
	if snap.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", snap.Status)
	}
	if snap.EventsPublished != 3 {
		t.Errorf("EventsPublished = %d, want 3", snap.EventsPublished)
	}
	if snap.EventsRejected != 1 {
		t.Errorf("EventsRejected = %d, want 1", snap.EventsRejected)
	}
	if snap.HandlerErrors != 1 {
		t.Errorf("HandlerErrors = %d, want 1", snap.HandlerErrors)
	}
	if snap.RulesEvaluated != 2 || snap.AlertsFired != 1 || snap.EvalErrors != 1 {
		t.Errorf("engine counters = %d/%d/%d, want 2/1/1",
			snap.RulesEvaluated, snap.AlertsFired, snap.EvalErrors)
	}
	if snap.IncidentsOpened != 1 || snap.IncidentsTouched != 2 {
		t.Errorf("incident counters = %d/%d, want 1/2", snap.IncidentsOpened, snap.IncidentsTouched)
	}
	if snap.AlertsThrottled != 1 || snap.IncidentsDispatch != 1 {
		t.Errorf("throttle/dispatch = %d/%d, want 1/1", snap.AlertsThrottled, snap.IncidentsDispatch)
	}
}

func TestCollector_KeyedCounters(t *testing.T) {
	c := NewCollector("test", nil)

	snap := c.GetSnapshot()
	if snap.DeliverySuccess != nil || snap.DeliveryFailure != nil || snap.Decisions != nil {
		t.Fatalf("keyed maps should be nil before any increment: %+v", snap)
	}

	sink := SinkRecorder{C: c}
	sink.RecordDeliverySuccess("slack")
	sink.RecordDeliverySuccess("slack")
	sink.RecordDeliverySuccess("email")
	sink.RecordDeliveryFailure("webhook")

	gov := GovernanceRecorder{C: c}
	gov.RecordDecision("APPLIED_AUTO")
	gov.RecordDecision("REJECTED")
	gov.RecordDecision("APPLIED_AUTO")

	snap = c.GetSnapshot()
	if got := snap.DeliverySuccess["slack"]; got != 2 {
		t.Errorf("DeliverySuccess[slack] = %d, want 2", got)
	}
	if got := snap.DeliverySuccess["email"]; got != 1 {
		t.Errorf("DeliverySuccess[email] = %d, want 1", got)
	}
	if got := snap.DeliveryFailure["webhook"]; got != 1 {
		t.Errorf("DeliveryFailure[webhook] = %d, want 1", got)
	}
	if got := snap.Decisions["APPLIED_AUTO"]; got != 2 {
		t.Errorf("Decisions[APPLIED_AUTO] = %d, want 2", got)
	}
	if got := snap.Decisions["REJECTED"]; got != 1 {
		t.Errorf("Decisions[REJECTED] = %d, want 1", got)
	}
}

func TestCollector_KeyedCountersConcurrent(t *testing.T) {
	c := NewCollector("test", nil)
	sink := SinkRecorder{C: c}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sink.RecordDeliverySuccess("slack")
			}
		}()
	}
	wg.Wait()

	if got := c.GetSnapshot().DeliverySuccess["slack"]; got != 800 {
		t.Errorf("DeliverySuccess[slack] = %d, want 800", got)
	}
}

func TestCollector_StartStopWithoutRedis(t *testing.T) {
	c := NewCollector("test", nil)
	c.SetReportInterval(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	BusRecorder{C: c}.RecordPublished("market.tick")
	time.Sleep(10 * time.Millisecond)

	// Stop must drain the reporting goroutine even with no Redis backend.
	c.Stop()

	if got := c.GetSnapshot().EventsPublished; got != 1 {
		t.Errorf("EventsPublished = %d, want 1", got)
	}
}

func TestSnapshot_EventsPerSecond(t *testing.T) {
	c := NewCollector("test", nil)
	// Bypass the wall clock: pretend the last report was one second ago.
	c.lastPublishedMu.Lock()
	c.lastReportTime = time.Now().UTC().Add(-time.Second)
	c.lastPublished = 0
	c.lastPublishedMu.Unlock()

	bus := BusRecorder{C: c}
	for i := 0; i < 10; i++ {
		bus.RecordPublished("market.tick")
	}

	rate := c.GetSnapshot().EventsPerSecond
	if rate <= 0 || rate > 11 {
		t.Errorf("EventsPerSecond = %v, want roughly 10", rate)
	}
}
