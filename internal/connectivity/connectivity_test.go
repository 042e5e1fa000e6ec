package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_EmitsEdgesOnly(t *testing.T) {
	m := NewManual(Offline)
	var got []State
	unsub := m.Subscribe(func(s State) { got = append(got, s) })

	assert.False(t, m.Set(Offline), "same level is not a transition")
	assert.True(t, m.Set(Online))
	assert.False(t, m.Set(Online))
	assert.True(t, m.Set(Offline))

	assert.Equal(t, []State{Online, Offline}, got)
	assert.Equal(t, Offline, m.State())

	unsub()
	m.Set(Online)
	assert.Len(t, got, 2)
}

func TestManual_ConcurrentSetsEmitInOrder(t *testing.T) {
	m := NewManual(Offline)
	var got []State
	m.Subscribe(func(s State) {
		got = append(got, s)
		assert.Equal(t, s, m.State(), "handler sees the level it was told about")
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if (i+j)%2 == 0 {
					m.Set(Online)
				} else {
					m.Set(Offline)
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(got); i++ {
		require.NotEqual(t, got[i-1], got[i], "transition %d repeats a level", i)
	}
	if len(got) > 0 {
		assert.Equal(t, m.State(), got[len(got)-1])
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "online", Online.String())
	assert.Equal(t, "offline", Offline.String())
}

// socketServer accepts websocket connections and can drop them on demand.
type socketServer struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	conns    []*websocket.Conn
}

func (s *socketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *socketServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func waitFor(t *testing.T, ch <-chan State, want State) {
	t.Helper()
	select {
	case got := <-ch:
		require.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func TestSocket_OnlineOfflineAndRedial(t *testing.T) {
	srv := &socketServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	sock := NewSocket("ws"+strings.TrimPrefix(ts.URL, "http"),
		WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	states := make(chan State, 8)
	sock.Subscribe(func(s State) { states <- s })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sock.Run(ctx) }()

	waitFor(t, states, Online)
	assert.Equal(t, Online, sock.State())

	srv.dropAll()
	waitFor(t, states, Offline)
	waitFor(t, states, Online)

	cancel()
	waitFor(t, states, Offline)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSocket_StaysOfflineWhileUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ts.Close()

	sock := NewSocket(url, WithBackoff(5*time.Millisecond, 10*time.Millisecond))
	transitions := 0
	sock.Subscribe(func(State) { transitions++ })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := sock.Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Offline, sock.State())
	assert.Zero(t, transitions)
}
