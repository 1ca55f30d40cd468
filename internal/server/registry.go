package server

import (
	"log"
	"sync"
	"time"

	"github.com/hangout-app/hangout-server/internal/stats"
)

type registryEntry struct {
	memberId  string
	createdOn time.Time
}

// ConnectionRegistry maps a hangout id to the set of live connections held
// by its participants. All mutation and iteration goes through the mutex so
// broadcasts never race registration, removal or the reaper.
type ConnectionRegistry struct {
	log   *log.Logger
	stats stats.StatsProvider
	now   func() time.Time

	mu    sync.Mutex
	conns map[string]map[*Client]registryEntry
}

func NewConnectionRegistry(logger *log.Logger, statsProvider stats.StatsProvider) *ConnectionRegistry {
	return &ConnectionRegistry{
		log:   logger,
		stats: statsProvider,
		now:   func() time.Time { return time.Now().UTC() },
		conns: make(map[string]map[*Client]registryEntry),
	}
}

func (cr *ConnectionRegistry) Register(hangoutId, memberId string, c *Client) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	set, ok := cr.conns[hangoutId]
	if !ok {
		set = make(map[*Client]registryEntry)
		cr.conns[hangoutId] = set
	}

	set[c] = registryEntry{memberId: memberId, createdOn: cr.now()}
	cr.stats.Incr("NumActiveConnections")
}

func (cr *ConnectionRegistry) Unregister(hangoutId string, c *Client) {
	cr.mu.Lock()
	removed := cr.removeLocked(hangoutId, c)
	cr.mu.Unlock()

	if removed {
		cr.stats.Decr("NumActiveConnections")
	}
}

// removeLocked deletes the entry and prunes the hangout's set when empty.
// Returns false if the entry was already gone. Callers hold cr.mu.
func (cr *ConnectionRegistry) removeLocked(hangoutId string, c *Client) bool {
	set, ok := cr.conns[hangoutId]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}

	delete(set, c)
	if len(set) == 0 {
		delete(cr.conns, hangoutId)
	}

	return true
}

// Broadcast queues msg on every connection registered for the hangout. A
// connection whose send queue is full is closed and dropped; delivery to the
// remaining connections continues.
func (cr *ConnectionRegistry) Broadcast(hangoutId string, msg *ServerMessage) {
	cr.mu.Lock()
	clients := make([]*Client, 0, len(cr.conns[hangoutId]))
	for c := range cr.conns[hangoutId] {
		clients = append(clients, c)
	}
	cr.mu.Unlock()

	for _, c := range clients {
		if !c.queueMessage(msg) {
			cr.log.Printf("dropping unresponsive connection for member %q on hangout %q", c.memberId, hangoutId)
			c.stopClient()
		}
	}

	if len(clients) > 0 {
		cr.stats.Incr("BroadcastsSent")
	}
}

// SweepExpired closes and removes every connection older than maxLifetime.
// Returns the number of connections reaped.
func (cr *ConnectionRegistry) SweepExpired(maxLifetime time.Duration, now time.Time) int {
	cr.mu.Lock()
	var expired []*Client
	for hangoutId, set := range cr.conns {
		for c, entry := range set {
			if entry.createdOn.Add(maxLifetime).Before(now) {
				expired = append(expired, c)
				cr.removeLocked(hangoutId, c)
			}
		}
	}
	cr.mu.Unlock()

	for _, c := range expired {
		c.stopClient()
		cr.stats.Decr("NumActiveConnections")
		cr.stats.Incr("ConnectionsReaped")
	}

	return len(expired)
}

// CloseAll stops every registered connection. Used at shutdown.
func (cr *ConnectionRegistry) CloseAll() {
	cr.mu.Lock()
	var clients []*Client
	for _, set := range cr.conns {
		for c := range set {
			clients = append(clients, c)
		}
	}
	cr.conns = make(map[string]map[*Client]registryEntry)
	cr.mu.Unlock()

	for _, c := range clients {
		c.stopClient()
		cr.stats.Decr("NumActiveConnections")
	}
}

// Count returns the number of live connections for a hangout.
func (cr *ConnectionRegistry) Count(hangoutId string) int {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return len(cr.conns[hangoutId])
}
