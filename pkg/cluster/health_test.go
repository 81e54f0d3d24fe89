package cluster

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitorMarksUnavailableAfterMaxFailures(t *testing.T) {
	var unavailable atomic.Bool
	ping := func(ctx context.Context, nodeID, addr string) error {
		return errAlwaysFails
	}
	h := NewHealthMonitor(10*time.Millisecond, 10*time.Millisecond, 2, ping, nil)
	h.SetOnUnavailable(func(nodeID string) { unavailable.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, func() []Node { return []Node{{ID: "n1", Addr: "x"}} })
	defer h.Stop()

	require.Eventually(t, func() bool { return unavailable.Load() }, time.Second, 5*time.Millisecond)
	status, ok := h.Status("n1")
	assert.True(t, ok)
	assert.Equal(t, StatusUnavailable, status)
}

func TestHealthMonitorStaysHealthyWhenPingSucceeds(t *testing.T) {
	h := NewHealthMonitor(10*time.Millisecond, 10*time.Millisecond, 2, func(ctx context.Context, nodeID, addr string) error {
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, func() []Node { return []Node{{ID: "n1", Addr: "x"}} })
	defer h.Stop()

	require.Eventually(t, func() bool {
		status, ok := h.Status("n1")
		return ok && status == StatusHealthy
	}, time.Second, 5*time.Millisecond)
}

var errAlwaysFails = &staticError{"ping failed"}

type staticError struct{ msg string }

func (e *staticError) Error() string { return e.msg }
