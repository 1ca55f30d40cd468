package server

import (
	"context"
	"log"
	"net/http"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hangout-app/hangout-server/internal/stats"
)

const (
	handshakeTimeout = 10 * time.Second
	// authTimeout bounds the session check during admission so a stalled
	// auth lookup cannot hang the upgrade.
	authTimeout = 5 * time.Second

	// StatusResourceExhausted is returned when the process is under memory
	// pressure and sheds new connections.
	StatusResourceExhausted = 509
)

// SessionResolver validates that a presented credential identifies a
// currently-authenticated user who is the given member of the given hangout.
type SessionResolver interface {
	ResolveUpgrade(ctx context.Context, credential, memberId, hangoutId string) (bool, error)
}

type GatewayOptions struct {
	AllowedOrigins  []string
	MaxHeapBytes    uint64
	ConnMaxLifetime time.Duration
	ReapInterval    time.Duration
}

// HangoutServer owns the connection registry and the websocket admission
// path. It is constructed once at process start and handed to everything
// that needs to broadcast.
type HangoutServer struct {
	log      *log.Logger
	registry *ConnectionRegistry
	auth     SessionResolver
	stats    stats.StatsProvider
	opts     GatewayOptions
	upgrader websocket.Upgrader
	// readMemStats is swapped in tests to simulate memory pressure.
	readMemStats func(*runtime.MemStats)
	stop         chan struct{}
	done         chan struct{}
}

func NewHangoutServer(logger *log.Logger, auth SessionResolver, statsProvider stats.StatsProvider, opts GatewayOptions) (*HangoutServer, error) {
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 6 * time.Hour
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = time.Hour
	}

	hs := &HangoutServer{
		log:          logger,
		registry:     NewConnectionRegistry(logger, statsProvider),
		auth:         auth,
		stats:        statsProvider,
		opts:         opts,
		readMemStats: runtime.ReadMemStats,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	hs.upgrader = websocket.Upgrader{
		HandshakeTimeout: handshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(hs.opts.AllowedOrigins, origin)
		},
	}

	for _, metric := range []string{
		"NumActiveConnections",
		"BroadcastsSent",
		"ConnectionsReaped",
		"AdmissionsRejected",
	} {
		statsProvider.RegisterMetric(metric)
	}

	return hs, nil
}

// Registry exposes the connection registry for admission tests and handlers.
func (hs *HangoutServer) Registry() *ConnectionRegistry {
	return hs.registry
}

// Run drives the stale-connection reaper until Shutdown.
func (hs *HangoutServer) Run() {
	ticker := time.NewTicker(hs.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := hs.registry.SweepExpired(hs.opts.ConnMaxLifetime, time.Now().UTC()); n > 0 {
				hs.log.Printf("reaped %d stale connections", n)
			}
		case <-hs.stop:
			hs.registry.CloseAll()
			close(hs.done)
			return
		}
	}
}

func (hs *HangoutServer) Shutdown(ctx context.Context) error {
	hs.log.Println("shutting down hangout server...")
	close(hs.stop)

	select {
	case <-hs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyHangout fans an event out to every live connection for the hangout.
// Delivery is best effort; per-connection failures never surface here.
func (hs *HangoutServer) NotifyHangout(hangoutId string, msg *ServerMessage) {
	hs.registry.Broadcast(hangoutId, msg)
}

// ServeWS is the connection admission path. The bearer credential travels in
// the Sec-WebSocket-Protocol header, never in the query, so it stays out of
// access logs.
func (hs *HangoutServer) ServeWS(w http.ResponseWriter, r *http.Request) {
	credential := bearerSubprotocol(r)
	hangoutId := r.URL.Query().Get("hangout_id")
	memberId := r.URL.Query().Get("member_id")

	if credential == "" || hangoutId == "" {
		hs.reject(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if _, err := uuid.Parse(memberId); err != nil {
		hs.reject(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	var ms runtime.MemStats
	hs.readMemStats(&ms)
	if hs.opts.MaxHeapBytes > 0 && ms.HeapAlloc > hs.opts.MaxHeapBytes {
		hs.log.Printf("rejecting connection: heap %d exceeds threshold %d", ms.HeapAlloc, hs.opts.MaxHeapBytes)
		hs.reject(w, StatusResourceExhausted, "insufficient resources")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), authTimeout)
	defer cancel()

	ok, err := hs.auth.ResolveUpgrade(ctx, credential, memberId, hangoutId)
	if err != nil {
		hs.log.Println("resolve session for upgrade:", err)
		hs.reject(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !ok {
		// the presented session did not prove ownership of the member;
		// expire the cookie it rode in on
		http.SetCookie(w, &http.Cookie{
			Name:     "token",
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
		})
		hs.reject(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	conn, err := hs.upgrader.Upgrade(w, r, http.Header{
		"Sec-WebSocket-Protocol": {credential},
	})
	if err != nil {
		hs.log.Println("error upgrading connection:", err)
		return
	}

	client := NewClient(hangoutId, memberId, conn, hs, hs.log)
	hs.registry.Register(hangoutId, memberId, client)
	go client.Write()
	go client.Read()
}

func (hs *HangoutServer) reject(w http.ResponseWriter, code int, msg string) {
	hs.stats.Incr("AdmissionsRejected")
	http.Error(w, msg, code)
}

// bearerSubprotocol returns the first offered websocket subprotocol, which
// carries the opaque session credential.
func bearerSubprotocol(r *http.Request) string {
	protocols := websocket.Subprotocols(r)
	if len(protocols) == 0 {
		return ""
	}
	return protocols[0]
}

func (hs *HangoutServer) handleFrame(c *Client, frame *ClientFrame) {
	switch frame.Type {
	case "ping":
		c.queueMessage(Ack(frame.Id))
	default:
		hs.log.Printf("ignoring frame of type %q from member %q", frame.Type, c.memberId)
	}
}
