package cluster

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// nodeHealth tracks one node's consecutive heartbeat failures, mirroring
// johnjansen-torua's NodeHealth record.
type nodeHealth struct {
	status           NodeStatus
	lastCheck        time.Time
	lastHealthy      time.Time
	consecutiveFails int
}

// PingFunc performs a single liveness check against a node, returning an
// error if it did not respond in time.
type PingFunc func(ctx context.Context, nodeID, addr string) error

// HealthMonitor polls every known node on an interval and marks it
// Unavailable after maxFailures consecutive failures, per §4.F's "Its
// heartbeats stop; after a timeout it is marked Unavailable and excluded
// from routing." Restructured from johnjansen-torua's HealthMonitor: the
// same poll-all/track-consecutive-failures/callback-on-state-change shape,
// with an RPC ping in place of an HTTP GET /health.
type HealthMonitor struct {
	mu          sync.RWMutex
	nodes       map[string]*nodeHealth
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	ping        PingFunc
	onUnavail   func(nodeID string)
	log         *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthMonitor constructs a monitor that checks every interval with
// the given ping function, marking a node Unavailable after maxFailures
// consecutive failed checks.
func NewHealthMonitor(interval, timeout time.Duration, maxFailures int, ping PingFunc, log *zap.Logger) *HealthMonitor {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &HealthMonitor{
		nodes:       make(map[string]*nodeHealth),
		interval:    interval,
		timeout:     timeout,
		maxFailures: maxFailures,
		ping:        ping,
		log:         log,
	}
}

// SetOnUnavailable registers a callback invoked (in its own goroutine) the
// first time a node crosses into Unavailable, so the router can exclude it.
func (h *HealthMonitor) SetOnUnavailable(cb func(nodeID string)) {
	h.onUnavail = cb
}

// Start begins polling nodeProvider's current node list until ctx is
// cancelled or Stop is called.
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []Node) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		h.checkAll(ctx, nodeProvider())
		for {
			select {
			case <-ticker.C:
				h.checkAll(ctx, nodeProvider())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels polling and waits for the background goroutine to exit.
func (h *HealthMonitor) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

func (h *HealthMonitor) checkAll(ctx context.Context, nodes []Node) {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		seen[n.ID] = true
		h.checkOne(ctx, n)
	}
	h.mu.Lock()
	for id := range h.nodes {
		if !seen[id] {
			delete(h.nodes, id)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkOne(ctx context.Context, n Node) {
	h.mu.Lock()
	hh, ok := h.nodes[n.ID]
	if !ok {
		hh = &nodeHealth{status: StatusUnknown, lastHealthy: time.Now()}
		h.nodes[n.ID] = hh
	}
	h.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.ping(checkCtx, n.ID, n.Addr)
	cancel()

	h.mu.Lock()
	hh.lastCheck = time.Now()
	if err != nil {
		hh.consecutiveFails++
		wasUnavailable := hh.status == StatusUnavailable
		if hh.consecutiveFails >= h.maxFailures {
			hh.status = StatusUnavailable
		}
		becameUnavailable := !wasUnavailable && hh.status == StatusUnavailable
		h.mu.Unlock()
		if becameUnavailable {
			if h.log != nil {
				h.log.Warn("node unavailable", zap.String("node", n.ID), zap.Int("fails", hh.consecutiveFails))
			}
			if h.onUnavail != nil {
				go h.onUnavail(n.ID)
			}
		}
		return
	}
	hh.status = StatusHealthy
	hh.consecutiveFails = 0
	hh.lastHealthy = time.Now()
	h.mu.Unlock()
}

// Status reports a node's last-known status. The zero value and false are
// returned for a node the monitor has never checked.
func (h *HealthMonitor) Status(nodeID string) (NodeStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hh, ok := h.nodes[nodeID]
	if !ok {
		return StatusUnknown, false
	}
	return hh.status, true
}
