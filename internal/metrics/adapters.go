package metrics

// The adapters below satisfy the per-package Recorder interfaces so one
// Collector can sit behind the bus, engine, correlator, sinks, and
// governor without those packages importing Redis.

// BusRecorder adapts the collector to the bus Recorder interface.
type BusRecorder struct{ C *Collector }

func (r BusRecorder) RecordPublished(string)    { r.C.eventsPublished.Add(1) }
func (r BusRecorder) RecordRejected(string)     { r.C.eventsRejected.Add(1) }
func (r BusRecorder) RecordDropped(string)      { r.C.eventsDropped.Add(1) }
func (r BusRecorder) RecordHandlerError(string) { r.C.handlerErrors.Add(1) }

// EngineRecorder adapts the collector to the engine Recorder interface.
type EngineRecorder struct{ C *Collector }

func (r EngineRecorder) RecordEvaluated() { r.C.rulesEvaluated.Add(1) }
func (r EngineRecorder) RecordFired()     { r.C.alertsFired.Add(1) }
func (r EngineRecorder) RecordEvalError() { r.C.evalErrors.Add(1) }

// IncidentRecorder adapts the collector to the correlator Recorder interface.
type IncidentRecorder struct{ C *Collector }

func (r IncidentRecorder) RecordOpened()     { r.C.incidentsOpened.Add(1) }
func (r IncidentRecorder) RecordTouched()    { r.C.incidentsTouched.Add(1) }
func (r IncidentRecorder) RecordThrottled()  { r.C.alertsThrottled.Add(1) }
func (r IncidentRecorder) RecordDispatched() { r.C.incidentsDispatch.Add(1) }

// SinkRecorder adapts the collector to the sink Recorder interface.
type SinkRecorder struct{ C *Collector }

func (r SinkRecorder) RecordDeliverySuccess(channel string) {
	r.C.incrKeyed(&r.C.deliverySuccess, channel)
}

func (r SinkRecorder) RecordDeliveryFailure(channel string) {
	r.C.incrKeyed(&r.C.deliveryFailure, channel)
}

// GovernanceRecorder adapts the collector to the governance Recorder interface.
type GovernanceRecorder struct{ C *Collector }

func (r GovernanceRecorder) RecordDecision(action string) {
	r.C.incrKeyed(&r.C.decisions, action)
}
