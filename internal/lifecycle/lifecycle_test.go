package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_TerminateCollectsConfirm(t *testing.T) {
	var m Manual
	calls := 0
	m.Subscribe(func(*TerminateEvent) { calls++ })
	unsub := m.Subscribe(func(ev *TerminateEvent) { ev.Confirm() })

	ev := m.Terminate()
	assert.Equal(t, 1, calls)
	assert.True(t, ev.Confirmed())

	unsub()
	assert.False(t, m.Terminate().Confirmed())
}

func TestSignals_RunFiresOnSignal(t *testing.T) {
	// Catch SIGUSR1 in the test as well so an early signal cannot kill the process.
	guard := make(chan os.Signal, 64)
	signal.Notify(guard, syscall.SIGUSR1)
	defer signal.Stop(guard)

	s := NewSignals(nil, syscall.SIGUSR1)
	fired := make(chan struct{}, 1)
	s.Subscribe(func(*TerminateEvent) { fired <- struct{}{} })

	result := make(chan *TerminateEvent, 1)
	go func() { result <- s.Run(context.Background()) }()

	// Keep signalling until Run has installed its handler and picked one up.
	deadline := time.After(5 * time.Second)
	for {
		require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
		select {
		case ev := <-result:
			require.NotNil(t, ev)
			<-fired
			return
		case <-deadline:
			t.Fatal("signal was never delivered")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestSignals_RunReturnsNilOnCancel(t *testing.T) {
	s := NewSignals(nil, syscall.SIGUSR2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, s.Run(ctx))
}
