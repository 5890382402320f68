// Package telemetry is a read-only observer of the run loop: it heartbeats
// this worker's liveness to Redis and mirrors controller state transitions
// onto a pub/sub channel for the admin WebSocket fan-out. It never reads
// back from Redis to drive behavior, so it cannot violate the controller's
// single-writer discipline over claim state.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainworker/chainworker/internal/controller"
	"github.com/chainworker/chainworker/internal/events"
	"github.com/chainworker/chainworker/internal/logger"
)

const (
	workerKeyPrefix     = "worker:"
	workerSetKey        = "workers:active"
	heartbeatKeySuffix  = ":heartbeat"
	workerInfoKeySuffix = ":info"
)

// WorkerInfo is the JSON document written to worker:<id>:info.
type WorkerInfo struct {
	ID            string    `json:"id"`
	WorkerType    string    `json:"worker_type"`
	State         string    `json:"state"`
	TaskID        string    `json:"task_id,omitempty"`
	RunID         int       `json:"run_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Publisher heartbeats worker liveness and mirrors Run Loop transitions.
// It implements controller.EventPublisher so a Controller can be handed
// one directly as its observer hook.
type Publisher struct {
	redis      *redis.Client
	bus        events.Publisher
	workerID   string
	workerType string
	interval   time.Duration
	timeout    time.Duration

	snapshot func() controller.Snapshot

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.RWMutex
	startedAt time.Time
}

// New builds a Publisher. snapshot is polled on every heartbeat tick to
// fill in the active claim, if any; it is typically Controller.Snapshot.
func New(redisClient *redis.Client, bus events.Publisher, workerID, workerType string, interval, timeout time.Duration, snapshot func() controller.Snapshot) *Publisher {
	return &Publisher{
		redis:      redisClient,
		bus:        bus,
		workerID:   workerID,
		workerType: workerType,
		interval:   interval,
		timeout:    timeout,
		snapshot:   snapshot,
		stopCh:     make(chan struct{}),
	}
}

// Start registers the worker and begins the heartbeat loop. It does not
// block; call Stop to deregister and wait for the loop to exit.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	p.startedAt = time.Now().UTC()
	p.mu.Unlock()

	p.register(ctx)

	p.wg.Add(1)
	go p.loop(ctx)

	logger.Info().Str("worker_id", p.workerID).Dur("interval", p.interval).Msg("telemetry: heartbeat started")
}

// Stop halts the heartbeat loop and deregisters the worker.
func (p *Publisher) Stop() {
	close(p.stopCh)
	p.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.deregister(ctx)

	logger.Info().Str("worker_id", p.workerID).Msg("telemetry: heartbeat stopped")
}

func (p *Publisher) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.sendHeartbeat(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeat(ctx)
		}
	}
}

func (p *Publisher) sendHeartbeat(ctx context.Context) {
	now := time.Now().UTC()
	snap := p.snapshot()

	p.mu.RLock()
	info := WorkerInfo{
		ID:            p.workerID,
		WorkerType:    p.workerType,
		State:         snap.State,
		TaskID:        snap.TaskID,
		RunID:         snap.RunID,
		StartedAt:     p.startedAt,
		LastHeartbeat: now,
	}
	p.mu.RUnlock()

	if err := p.redis.Set(ctx, p.heartbeatKey(), now.Unix(), p.timeout).Err(); err != nil {
		logger.Error().Err(err).Str("worker_id", p.workerID).Msg("telemetry: heartbeat write failed")
		return
	}

	data, err := json.Marshal(info)
	if err != nil {
		logger.Error().Err(err).Msg("telemetry: marshal worker info failed")
		return
	}
	if err := p.redis.Set(ctx, p.infoKey(), data, p.timeout*2).Err(); err != nil {
		logger.Error().Err(err).Str("worker_id", p.workerID).Msg("telemetry: worker info write failed")
	}

	p.redis.SAdd(ctx, workerSetKey, p.workerID)
}

func (p *Publisher) register(ctx context.Context) {
	p.redis.SAdd(ctx, workerSetKey, p.workerID)
	p.publish(ctx, events.EventWorkerUp, nil)
}

func (p *Publisher) deregister(ctx context.Context) {
	p.redis.SRem(ctx, workerSetKey, p.workerID)
	p.redis.Del(ctx, p.heartbeatKey(), p.infoKey())
	p.publish(ctx, events.EventWorkerDown, nil)
}

// PublishLifecycle implements controller.EventPublisher: it mirrors a Run
// Loop state transition onto the shared pub/sub channel.
func (p *Publisher) PublishLifecycle(eventType string, data map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.publish(ctx, events.EventType(eventType), data)
}

func (p *Publisher) publish(ctx context.Context, eventType events.EventType, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["worker_id"] = p.workerID
	if err := p.bus.Publish(ctx, events.NewEvent(eventType, p.workerID, data)); err != nil {
		logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("telemetry: publish failed")
	}
}

func (p *Publisher) heartbeatKey() string {
	return fmt.Sprintf("%s%s%s", workerKeyPrefix, p.workerID, heartbeatKeySuffix)
}

func (p *Publisher) infoKey() string {
	return fmt.Sprintf("%s%s%s", workerKeyPrefix, p.workerID, workerInfoKeySuffix)
}

var _ controller.EventPublisher = (*Publisher)(nil)
