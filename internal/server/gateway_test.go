package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hangout-app/hangout-server/internal/stats"
	"github.com/hangout-app/hangout-server/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const (
	testHangoutId = "m8h2k3-Ab3dQ9fGh"
	testMemberId  = "6dcd11ed-84f2-4f66-8a7e-7a4f2a1c9b33"
	testToken     = "session-token"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) ResolveUpgrade(ctx context.Context, credential, memberId, hangoutId string) (bool, error) {
	args := m.Called(credential, memberId, hangoutId)
	return args.Bool(0), args.Error(1)
}

func newTestHangoutServer(t *testing.T, auth SessionResolver, opts GatewayOptions) *HangoutServer {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(4)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	hs, err := NewHangoutServer(testutil.TestLogger(t), auth, su, opts)
	if err != nil {
		t.Fatalf("failed to create test HangoutServer: %v", err)
	}
	return hs
}

func wsURL(t *testing.T, srv *httptest.Server, hangoutId, memberId string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?hangout_id=" + hangoutId + "&member_id=" + memberId
}

func dialWs(t *testing.T, url string, subprotocols ...string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		Subprotocols:     subprotocols,
		HandshakeTimeout: time.Second,
	}
	return dialer.Dial(url, nil)
}

func TestServeWSAdmission(t *testing.T) {
	t.Run("accepts a valid upgrade and registers the connection", func(t *testing.T) {
		auth := &mockResolver{}
		defer auth.AssertExpectations(t)
		auth.On("ResolveUpgrade", testToken, testMemberId, testHangoutId).Return(true, nil).Once()

		hs := newTestHangoutServer(t, auth, GatewayOptions{})
		srv := httptest.NewServer(http.HandlerFunc(hs.ServeWS))
		defer srv.Close()

		conn, resp, err := dialWs(t, wsURL(t, srv, testHangoutId, testMemberId), testToken)
		assert.NoError(t, err, "expected the upgrade to succeed")
		defer conn.Close()

		assert.Equal(t, testToken, resp.Header.Get("Sec-WebSocket-Protocol"), "expected the credential subprotocol to be echoed")

		assert.Eventually(t, func() bool {
			return hs.registry.Count(testHangoutId) == 1
		}, time.Second, 10*time.Millisecond, "expected the connection to appear in the registry")
	})

	t.Run("rejects a missing credential", func(t *testing.T) {
		hs := newTestHangoutServer(t, &mockResolver{}, GatewayOptions{})
		srv := httptest.NewServer(http.HandlerFunc(hs.ServeWS))
		defer srv.Close()

		_, resp, err := dialWs(t, wsURL(t, srv, testHangoutId, testMemberId))
		assert.Error(t, err, "expected the upgrade to fail")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects a malformed member id", func(t *testing.T) {
		hs := newTestHangoutServer(t, &mockResolver{}, GatewayOptions{})
		srv := httptest.NewServer(http.HandlerFunc(hs.ServeWS))
		defer srv.Close()

		_, resp, err := dialWs(t, wsURL(t, srv, testHangoutId, "not-a-uuid"), testToken)
		assert.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects under memory pressure", func(t *testing.T) {
		hs := newTestHangoutServer(t, &mockResolver{}, GatewayOptions{MaxHeapBytes: 1 << 20})
		hs.readMemStats = func(ms *runtime.MemStats) {
			ms.HeapAlloc = 2 << 20
		}
		srv := httptest.NewServer(http.HandlerFunc(hs.ServeWS))
		defer srv.Close()

		_, resp, err := dialWs(t, wsURL(t, srv, testHangoutId, testMemberId), testToken)
		assert.Error(t, err)
		assert.Equal(t, StatusResourceExhausted, resp.StatusCode)
	})

	t.Run("rejects an unresolved session", func(t *testing.T) {
		auth := &mockResolver{}
		defer auth.AssertExpectations(t)
		auth.On("ResolveUpgrade", testToken, testMemberId, testHangoutId).Return(false, nil).Once()

		hs := newTestHangoutServer(t, auth, GatewayOptions{})
		srv := httptest.NewServer(http.HandlerFunc(hs.ServeWS))
		defer srv.Close()

		_, resp, err := dialWs(t, wsURL(t, srv, testHangoutId, testMemberId), testToken)
		assert.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("fails closed when the auth port errors", func(t *testing.T) {
		auth := &mockResolver{}
		defer auth.AssertExpectations(t)
		auth.On("ResolveUpgrade", testToken, testMemberId, testHangoutId).Return(false, errors.New("db down")).Once()

		hs := newTestHangoutServer(t, auth, GatewayOptions{})
		srv := httptest.NewServer(http.HandlerFunc(hs.ServeWS))
		defer srv.Close()

		_, resp, err := dialWs(t, wsURL(t, srv, testHangoutId, testMemberId), testToken)
		assert.Error(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func readServerMessage(t *testing.T, conn *websocket.Conn) *ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}

	var msg ServerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	return &msg
}

func TestFrameHandling(t *testing.T) {
	auth := &mockResolver{}
	auth.On("ResolveUpgrade", testToken, testMemberId, testHangoutId).Return(true, nil)

	hs := newTestHangoutServer(t, auth, GatewayOptions{})
	srv := httptest.NewServer(http.HandlerFunc(hs.ServeWS))
	defer srv.Close()

	conn, _, err := dialWs(t, wsURL(t, srv, testHangoutId, testMemberId), testToken)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	t.Run("ping gets an ack", func(t *testing.T) {
		err := conn.WriteMessage(websocket.TextMessage, []byte(`{"id":7,"type":"ping"}`))
		assert.NoError(t, err)

		msg := readServerMessage(t, conn)
		assert.Equal(t, 7, msg.Id)
		if assert.NotNil(t, msg.Success) {
			assert.True(t, *msg.Success)
		}
	})

	t.Run("binary frame gets notBuffer without closing", func(t *testing.T) {
		err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		assert.NoError(t, err)

		msg := readServerMessage(t, conn)
		assert.Equal(t, ReasonNotBuffer, msg.Reason)
		if assert.NotNil(t, msg.Success) {
			assert.False(t, *msg.Success)
		}
	})

	t.Run("undecodable frame gets invalidJson without closing", func(t *testing.T) {
		err := conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		assert.NoError(t, err)

		msg := readServerMessage(t, conn)
		assert.Equal(t, ReasonInvalidJson, msg.Reason)

		// the connection survives both bad frames
		err = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":8,"type":"ping"}`))
		assert.NoError(t, err)
		msg = readServerMessage(t, conn)
		assert.Equal(t, 8, msg.Id)
	})
}

func TestNotifyHangout(t *testing.T) {
	auth := &mockResolver{}
	auth.On("ResolveUpgrade", testToken, testMemberId, testHangoutId).Return(true, nil)

	hs := newTestHangoutServer(t, auth, GatewayOptions{})
	srv := httptest.NewServer(http.HandlerFunc(hs.ServeWS))
	defer srv.Close()

	conn, _, err := dialWs(t, wsURL(t, srv, testHangoutId, testMemberId), testToken)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	assert.Eventually(t, func() bool {
		return hs.registry.Count(testHangoutId) == 1
	}, time.Second, 10*time.Millisecond)

	hs.NotifyHangout(testHangoutId, HangoutDeletedMessage(testHangoutId))

	msg := readServerMessage(t, conn)
	if assert.NotNil(t, msg.Notification) && assert.NotNil(t, msg.Notification.HangoutDeleted) {
		assert.Equal(t, testHangoutId, msg.Notification.HangoutDeleted.HangoutId)
	}
}

func TestHangoutServerShutdown(t *testing.T) {
	t.Run("successful shutdown", func(t *testing.T) {
		hs := newTestHangoutServer(t, &mockResolver{}, GatewayOptions{ReapInterval: time.Hour})
		go hs.Run()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := hs.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("fails with context deadline exceeded when Run is not draining", func(t *testing.T) {
		hs := newTestHangoutServer(t, &mockResolver{}, GatewayOptions{})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := hs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestReaperLoop(t *testing.T) {
	hs := newTestHangoutServer(t, &mockResolver{}, GatewayOptions{
		ReapInterval:    20 * time.Millisecond,
		ConnMaxLifetime: time.Millisecond,
	})

	c := newTestClient(t)
	hs.registry.now = func() time.Time { return time.Now().UTC().Add(-time.Hour) }
	hs.registry.Register(testHangoutId, testMemberId, c)

	go hs.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hs.Shutdown(ctx)
	}()

	assert.Eventually(t, func() bool {
		return hs.registry.Count(testHangoutId) == 0 && isStopped(c)
	}, time.Second, 10*time.Millisecond, "expected the reaper to evict the stale connection")
}
