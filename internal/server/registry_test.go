package server

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hangout-app/hangout-server/internal/stats"
	"github.com/hangout-app/hangout-server/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestRegistry(t *testing.T) *ConnectionRegistry {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	return NewConnectionRegistry(testutil.TestLogger(t), su)
}

func newTestClient(t *testing.T) *Client {
	return &Client{
		log:  testutil.TestLogger(t),
		send: make(chan *ServerMessage, 256),
		stop: make(chan struct{}),
	}
}

func isStopped(c *Client) bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func TestRegistryRegisterUnregister(t *testing.T) {
	cr := newTestRegistry(t)
	c := newTestClient(t)

	cr.Register("hangout-a", "member-1", c)
	assert.Equal(t, 1, cr.Count("hangout-a"), "expected 1 connection after register")

	cr.Unregister("hangout-a", c)
	assert.Equal(t, 0, cr.Count("hangout-a"), "expected 0 connections after unregister")

	// unregistering again must be a no-op
	cr.Unregister("hangout-a", c)
	assert.Equal(t, 0, cr.Count("hangout-a"))
}

func TestRegistryBroadcastIsolation(t *testing.T) {
	cr := newTestRegistry(t)

	a1 := newTestClient(t)
	a2 := newTestClient(t)
	b1 := newTestClient(t)

	cr.Register("hangout-a", "member-1", a1)
	cr.Register("hangout-a", "member-2", a2)
	cr.Register("hangout-b", "member-3", b1)

	cr.Broadcast("hangout-a", Ack(1))

	assert.Len(t, a1.send, 1, "expected member of hangout-a to receive the broadcast")
	assert.Len(t, a2.send, 1, "expected member of hangout-a to receive the broadcast")
	assert.Len(t, b1.send, 0, "expected member of hangout-b to receive nothing")
}

func TestRegistryBroadcastDropsUnresponsiveClient(t *testing.T) {
	cr := newTestRegistry(t)

	healthy := newTestClient(t)
	slow := &Client{
		log:  testutil.TestLogger(t),
		send: make(chan *ServerMessage), // unbuffered and never drained
		stop: make(chan struct{}),
	}

	cr.Register("hangout-a", "member-1", healthy)
	cr.Register("hangout-a", "member-2", slow)

	cr.Broadcast("hangout-a", Ack(1))

	assert.Len(t, healthy.send, 1, "expected delivery to the healthy client to proceed")
	assert.True(t, isStopped(slow), "expected the unresponsive client to be stopped")
	assert.False(t, isStopped(healthy), "expected the healthy client to stay open")
}

func TestRegistrySweepExpired(t *testing.T) {
	cr := newTestRegistry(t)
	base := time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)

	old := newTestClient(t)
	fresh := newTestClient(t)

	cr.now = func() time.Time { return base }
	cr.Register("hangout-a", "member-1", old)
	cr.now = func() time.Time { return base.Add(5 * time.Hour) }
	cr.Register("hangout-a", "member-2", fresh)

	n := cr.SweepExpired(6*time.Hour, base.Add(7*time.Hour))
	assert.Equal(t, 1, n, "expected exactly one connection to be reaped")
	assert.Equal(t, 1, cr.Count("hangout-a"), "expected the fresh connection to remain")
	assert.True(t, isStopped(old), "expected the expired connection to be closed")
	assert.False(t, isStopped(fresh), "expected the fresh connection to stay open")

	// a second sweep with the same inputs removes nothing
	assert.Equal(t, 0, cr.SweepExpired(6*time.Hour, base.Add(7*time.Hour)))
}

func TestRegistryConcurrentRegister(t *testing.T) {
	cr := newTestRegistry(t)

	const numConns = 500
	clients := make([]*Client, numConns)
	for i := range clients {
		clients[i] = newTestClient(t)
	}

	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *Client) {
			defer wg.Done()
			cr.Register("hangout-a", fmt.Sprintf("member-%d", i), c)
		}(i, c)
	}
	wg.Wait()

	assert.Equal(t, numConns, cr.Count("hangout-a"), "expected no lost or duplicate registrations")
}

func TestRegistryConcurrentMutationAndBroadcast(t *testing.T) {
	cr := newTestRegistry(t)
	base := time.Now().UTC()

	clients := make([]*Client, 100)
	for i := range clients {
		clients[i] = newTestClient(t)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := clients[i]
			hangout := fmt.Sprintf("hangout-%d", i%4)
			cr.Register(hangout, fmt.Sprintf("member-%d", i), c)
			cr.Broadcast(hangout, Ack(i))
			cr.SweepExpired(time.Hour, base)
			cr.Unregister(hangout, c)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		assert.Equal(t, 0, cr.Count(fmt.Sprintf("hangout-%d", i)))
	}
}

func TestRegistryCloseAll(t *testing.T) {
	cr := newTestRegistry(t)

	c1 := newTestClient(t)
	c2 := newTestClient(t)
	cr.Register("hangout-a", "member-1", c1)
	cr.Register("hangout-b", "member-2", c2)

	cr.CloseAll()

	assert.True(t, isStopped(c1))
	assert.True(t, isStopped(c2))
	assert.Equal(t, 0, cr.Count("hangout-a"))
	assert.Equal(t, 0, cr.Count("hangout-b"))
}
