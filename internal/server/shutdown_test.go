package server

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

func recorder() (*[]string, func(name string) func(context.Context) error) {
	var mu sync.Mutex
	var order []string
	return &order, func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
}

func waitDone(t *testing.T, h *ShutdownHandler) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected shutdown to complete")
	}
}

func TestShutdownHandler_RunsHooksByPriority(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: time.Second})
	order, hook := recorder()

	h.Register(
		ShutdownHook{Name: "store", Priority: PriorityStore, Fn: hook("store")},
		ShutdownHook{Name: "http", Priority: PriorityHTTP, Fn: hook("http")},
		ShutdownHook{Name: "sessions", Priority: PrioritySessions, Fn: hook("sessions")},
		ShutdownHook{Name: "http-2", Priority: PriorityHTTP, Fn: hook("http-2")},
	)
	h.Start()
	h.Shutdown()
	waitDone(t, h)

	want := []string{"http", "http-2", "sessions", "store"}
	if !slices.Equal(*order, want) {
		t.Errorf("Expected %v, got %v", want, *order)
	}
}

func TestShutdownHandler_ShutdownBeforeStart(t *testing.T) {
	h := NewShutdownHandler(nil)
	h.Shutdown()
	select {
	case <-h.Stopping():
		t.Fatal("Expected no shutdown before Start")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestShutdownHandler_Idempotent(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: time.Second})
	calls := 0
	h.Register(ShutdownHook{Name: "count", Fn: func(context.Context) error { calls++; return nil }})
	h.Start()
	h.Start()
	h.Shutdown()
	h.Shutdown()
	waitDone(t, h)

	if calls != 1 {
		t.Errorf("Expected hook to run once, ran %d times", calls)
	}
}

func TestShutdownHandler_FailedHooksDoNotStopOthers(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: time.Second})
	order, hook := recorder()
	boom := errors.New("boom")

	h.Register(
		ShutdownHook{Name: "bad", Priority: 1, Fn: func(context.Context) error { return boom }},
		ShutdownHook{Name: "good", Priority: 2, Fn: hook("good")},
	)
	h.Start()
	h.Shutdown()
	waitDone(t, h)

	if !slices.Equal(*order, []string{"good"}) {
		t.Errorf("Expected later hook to run, got %v", *order)
	}
	if !errors.Is(h.Err(), boom) {
		t.Errorf("Expected joined hook error, got %v", h.Err())
	}
}

func TestShutdownHandler_TimeoutReachesHooks(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: 20 * time.Millisecond})
	h.Register(ShutdownHook{Name: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	h.Start()
	h.Shutdown()
	waitDone(t, h)

	if !errors.Is(h.Err(), context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", h.Err())
	}
}

func TestHooks(t *testing.T) {
	stopped, cleared := false, false
	tests := []struct {
		hook     ShutdownHook
		name     string
		priority int
	}{
		{HTTPServerShutdownHook("dashboard", func(context.Context) error { return nil }), "dashboard", PriorityHTTP},
		{TemporalWorkerShutdownHook(func() { stopped = true }), "temporal-worker", PriorityWorker},
		{ViewSessionsShutdownHook(func() int { cleared = true; return 3 }), "view-sessions", PrioritySessions},
		{TracingShutdownHook(func(context.Context) error { return nil }), "tracing", PriorityTracing},
		{GraphStoreShutdownHook(func(context.Context) error { return nil }), "graph-store", PriorityStore},
	}
	for _, tt := range tests {
		if tt.hook.Name != tt.name || tt.hook.Priority != tt.priority {
			t.Errorf("Expected %s@%d, got %s@%d", tt.name, tt.priority, tt.hook.Name, tt.hook.Priority)
		}
		if err := tt.hook.Fn(context.Background()); err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
	}
	if !stopped || !cleared {
		t.Errorf("Expected wrapped functions to run, stopped=%v cleared=%v", stopped, cleared)
	}
}

func TestGracefulServer_RunServeError(t *testing.T) {
	g := NewGracefulServer(nil, &ShutdownConfig{Timeout: time.Second})
	ranHook := false
	g.Register(ShutdownHook{Name: "x", Fn: func(context.Context) error { ranHook = true; return nil }})

	failure := errors.New("listen: address in use")
	err := g.Run(func() error { return failure })
	if !errors.Is(err, failure) {
		t.Errorf("Expected serve error, got %v", err)
	}
	if !ranHook {
		t.Error("Expected hooks to run after serve failed")
	}
	if g.Health.Ready() {
		t.Error("Expected readiness cleared after shutdown")
	}
}

func TestGracefulServer_RunUntilShutdown(t *testing.T) {
	g := NewGracefulServer(nil, &ShutdownConfig{Timeout: time.Second})
	release := make(chan struct{})
	g.Register(HTTPServerShutdownHook("server", func(context.Context) error {
		close(release)
		return nil
	}))

	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Run(func() error {
			close(ready)
			<-release
			return nil
		})
	}()

	<-ready
	if !g.Health.Ready() {
		t.Error("Expected ready while serving")
	}
	g.Shutdown.Shutdown()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Run to return after shutdown")
	}
}
