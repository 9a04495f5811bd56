// Package metrics collects engine counters and reports them to Redis for
// dashboard consumption.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for service metrics.
	KeyPrefix = "metrics:"
	// TTL is how long metrics stay in Redis if not refreshed.
	TTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing metrics to Redis.
	DefaultReportInterval = 30 * time.Second
)

// Snapshot is one point-in-time view of the engine's counters.
type Snapshot struct {
	ServiceName string    `json:"service_name"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"` // "healthy" or "unhealthy"

	// Bus
	EventsPublished uint64 `json:"events_published"`
	EventsRejected  uint64 `json:"events_rejected"`
	EventsDropped   uint64 `json:"events_dropped"`
	HandlerErrors   uint64 `json:"handler_errors"`

	// Engine
	RulesEvaluated uint64 `json:"rules_evaluated"`
	AlertsFired    uint64 `json:"alerts_fired"`
	EvalErrors     uint64 `json:"eval_errors"`

	// Incidents
	IncidentsOpened   uint64 `json:"incidents_opened"`
	IncidentsTouched  uint64 `json:"incidents_touched"`
	AlertsThrottled   uint64 `json:"alerts_throttled"`
	IncidentsDispatch uint64 `json:"incidents_dispatched"`

	// Deliveries and decisions, keyed by channel and action.
	DeliverySuccess map[string]uint64 `json:"delivery_success,omitempty"`
	DeliveryFailure map[string]uint64 `json:"delivery_failure,omitempty"`
	Decisions       map[string]uint64 `json:"decisions,omitempty"`

	EventsPerSecond float64 `json:"events_per_second"`
}

// Collector accumulates counters and periodically writes them to Redis.
// A nil Redis client disables reporting but keeps counting, so tests and
// single-node deployments pay nothing.
type Collector struct {
	serviceName    string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	eventsPublished atomic.Uint64
	eventsRejected  atomic.Uint64
	eventsDropped   atomic.Uint64
	handlerErrors   atomic.Uint64

	rulesEvaluated atomic.Uint64
	alertsFired    atomic.Uint64
	evalErrors     atomic.Uint64

	incidentsOpened   atomic.Uint64
	incidentsTouched  atomic.Uint64
	alertsThrottled   atomic.Uint64
	incidentsDispatch atomic.Uint64

	keyedMu         sync.RWMutex
	deliverySuccess map[string]*atomic.Uint64
	deliveryFailure map[string]*atomic.Uint64
	decisions       map[string]*atomic.Uint64

	lastReportTime  time.Time
	lastPublished   uint64
	lastPublishedMu sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a collector. redisClient may be nil.
func NewCollector(serviceName string, redisClient *redis.Client) *Collector {
	return &Collector{
		serviceName:     serviceName,
		redis:           redisClient,
		startedAt:       time.Now().UTC(),
		reportInterval:  DefaultReportInterval,
		lastReportTime:  time.Now().UTC(),
		deliverySuccess: make(map[string]*atomic.Uint64),
		deliveryFailure: make(map[string]*atomic.Uint64),
		decisions:       make(map[string]*atomic.Uint64),
		stopCh:          make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing metrics to Redis.
func (c *Collector) SetReportInterval(interval time.Duration) {
	c.reportInterval = interval
}

// Start begins periodic reporting until the context is cancelled or Stop
// is called. A final write happens on shutdown.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.write(context.Background())
				return
			case <-c.stopCh:
				c.write(context.Background())
				return
			case <-ticker.C:
				c.write(ctx)
			}
		}
	}()
}

// Stop stops the reporting loop.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// GetSnapshot returns the current counters without writing to Redis.
func (c *Collector) GetSnapshot() *Snapshot {
	now := time.Now().UTC()
	published := c.eventsPublished.Load()

	c.lastPublishedMu.Lock()
	elapsed := now.Sub(c.lastReportTime).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(published-c.lastPublished) / elapsed
	}
	c.lastPublishedMu.Unlock()

	return &Snapshot{
		ServiceName:       c.serviceName,
		StartedAt:         c.startedAt,
		LastUpdated:       now,
		Status:            "healthy",
		EventsPublished:   published,
		EventsRejected:    c.eventsRejected.Load(),
		EventsDropped:     c.eventsDropped.Load(),
		HandlerErrors:     c.handlerErrors.Load(),
		RulesEvaluated:    c.rulesEvaluated.Load(),
		AlertsFired:       c.alertsFired.Load(),
		EvalErrors:        c.evalErrors.Load(),
		IncidentsOpened:   c.incidentsOpened.Load(),
		IncidentsTouched:  c.incidentsTouched.Load(),
		AlertsThrottled:   c.alertsThrottled.Load(),
		IncidentsDispatch: c.incidentsDispatch.Load(),
		DeliverySuccess:   c.loadKeyed(&c.deliverySuccess),
		DeliveryFailure:   c.loadKeyed(&c.deliveryFailure),
		Decisions:         c.loadKeyed(&c.decisions),
		EventsPerSecond:   rate,
	}
}

func (c *Collector) loadKeyed(m *map[string]*atomic.Uint64) map[string]uint64 {
	c.keyedMu.RLock()
	defer c.keyedMu.RUnlock()
	if len(*m) == 0 {
		return nil
	}
	out := make(map[string]uint64, len(*m))
	for name, counter := range *m {
		out[name] = counter.Load()
	}
	return out
}

func (c *Collector) incrKeyed(m *map[string]*atomic.Uint64, name string) {
	c.keyedMu.RLock()
	counter, exists := (*m)[name]
	c.keyedMu.RUnlock()

	if !exists {
		c.keyedMu.Lock()
		if counter, exists = (*m)[name]; !exists {
			counter = &atomic.Uint64{}
			(*m)[name] = counter
		}
		c.keyedMu.Unlock()
	}
	counter.Add(1)
}

// write pushes the current snapshot to Redis.
func (c *Collector) write(ctx context.Context) {
	if c.redis == nil {
		return
	}

	snap := c.GetSnapshot()

	c.lastPublishedMu.Lock()
	c.lastReportTime = snap.LastUpdated
	c.lastPublished = snap.EventsPublished
	c.lastPublishedMu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("Failed to marshal metrics", "service", c.serviceName, "error", err)
		return
	}

	key := KeyPrefix + c.serviceName
	if err := c.redis.Set(ctx, key, data, TTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "service", c.serviceName, "error", err)
		return
	}

	slog.Debug("Metrics written to Redis", "service", c.serviceName, "key", key)
}

// ConnectRedis creates and validates a Redis connection.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return client, nil
}

// Reader reads reported metrics back from Redis.
type Reader struct {
	redis *redis.Client
}

// NewReader creates a new metrics reader.
func NewReader(redisClient *redis.Client) *Reader {
	return &Reader{redis: redisClient}
}

// GetSnapshot retrieves the reported snapshot for a service. Stale
// snapshots are marked unhealthy.
func (r *Reader) GetSnapshot(ctx context.Context, serviceName string) (*Snapshot, error) {
	key := KeyPrefix + serviceName
	data, err := r.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("no metrics found for service: %s", serviceName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}

	if time.Since(snap.LastUpdated) > TTL {
		snap.Status = "unhealthy"
	}

	return &snap, nil
}
