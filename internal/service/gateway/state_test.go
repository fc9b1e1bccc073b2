package gateway

import (
	"errors"
	"sync"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle()

	if lc.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", lc.State())
	}
	if lc.State().IsTerminal() {
		t.Error("expected idle not to be terminal")
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	lc := NewLifecycle()

	for _, to := range []State{StateConnecting, StateStreaming, StateClosing, StateClosed} {
		if err := lc.Transition(to); err != nil {
			t.Fatalf("transition to %v: unexpected error: %v", to, err)
		}
	}
	if !lc.State().IsTerminal() {
		t.Error("expected closed to be terminal")
	}
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []State
		bad  State
	}{
		{"idle to streaming", nil, StateStreaming},
		{"streaming back to connecting", []State{StateConnecting, StateStreaming}, StateConnecting},
		{"closed to connecting", []State{StateClosing, StateClosed}, StateConnecting},
		{"closing to streaming", []State{StateConnecting, StateClosing}, StateStreaming},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle()
			for _, s := range tt.path {
				if err := lc.Transition(s); err != nil {
					t.Fatalf("setup transition to %v failed: %v", s, err)
				}
			}
			if err := lc.Transition(tt.bad); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestLifecycle_BeginClose_Idempotent(t *testing.T) {
	lc := NewLifecycle()
	lc.Transition(StateConnecting)

	if !lc.BeginClose() {
		t.Error("expected first BeginClose to start teardown")
	}
	if lc.BeginClose() {
		t.Error("expected second BeginClose to be a no-op")
	}
	if lc.State() != StateClosing {
		t.Errorf("expected StateClosing, got %v", lc.State())
	}
}

func TestLifecycle_BeginClose_Concurrent(t *testing.T) {
	lc := NewLifecycle()
	lc.Transition(StateConnecting)
	lc.Transition(StateStreaming)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lc.BeginClose() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one goroutine to begin close, got %d", winners)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateConnecting, "CONNECTING"},
		{StateStreaming, "STREAMING"},
		{StateClosing, "CLOSING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}
