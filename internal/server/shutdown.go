package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Hook priorities; lower runs first.
const (
	PriorityHTTP     = 10
	PriorityWorker   = 20
	PrioritySessions = 50
	PriorityTracing  = 80
	PriorityStore    = 90
)

// ShutdownHook is one step of an ordered shutdown.
type ShutdownHook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// ShutdownConfig configures the shutdown handler.
type ShutdownConfig struct {
	Timeout time.Duration // shared by all hooks
	Signals []os.Signal
}

// DefaultShutdownConfig gives hooks 30s after SIGTERM or SIGINT.
func DefaultShutdownConfig() *ShutdownConfig {
	return &ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT},
	}
}

// ShutdownHandler runs registered hooks once, on a signal or on request.
type ShutdownHandler struct {
	mu      sync.Mutex
	hooks   []ShutdownHook
	timeout time.Duration
	signals []os.Signal
	started bool
	err     error

	trigger     chan struct{}
	triggerOnce sync.Once
	stopping    chan struct{}
	done        chan struct{}
}

// NewShutdownHandler creates a handler; nil config means the defaults.
func NewShutdownHandler(config *ShutdownConfig) *ShutdownHandler {
	if config == nil {
		config = DefaultShutdownConfig()
	}
	return &ShutdownHandler{
		timeout:  config.Timeout,
		signals:  config.Signals,
		trigger:  make(chan struct{}),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Register adds hooks. Hooks of equal priority run in registration order.
func (s *ShutdownHandler) Register(hooks ...ShutdownHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hooks...)
	sort.SliceStable(s.hooks, func(i, j int) bool {
		return s.hooks[i].Priority < s.hooks[j].Priority
	})
}

// Start begins listening for shutdown signals. Calling it twice is a no-op.
func (s *ShutdownHandler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, s.signals...)

	go func() {
		var sig os.Signal
		select {
		case sig = <-sigCh:
			slog.Info("Shutdown signal received", "signal", sig.String())
		case <-s.trigger:
		}
		signal.Stop(sigCh)
		s.run()
	}()
}

// Shutdown requests shutdown. It does nothing before Start.
func (s *ShutdownHandler) Shutdown() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		s.triggerOnce.Do(func() { close(s.trigger) })
	}
}

// Stopping is closed when the hooks begin to run.
func (s *ShutdownHandler) Stopping() <-chan struct{} {
	return s.stopping
}

// Done is closed after the last hook returned.
func (s *ShutdownHandler) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until shutdown is complete.
func (s *ShutdownHandler) Wait() {
	<-s.done
}

// Err joins the errors of failed hooks. Valid after Done.
func (s *ShutdownHandler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ShutdownHandler) run() {
	close(s.stopping)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.mu.Lock()
	hooks := append([]ShutdownHook(nil), s.hooks...)
	s.mu.Unlock()

	var errs []error
	for _, hook := range hooks {
		start := time.Now()
		if err := hook.Fn(ctx); err != nil {
			slog.Warn("Shutdown hook failed", "hook", hook.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, err))
			continue
		}
		slog.Debug("Shutdown hook finished", "hook", hook.Name, "duration", time.Since(start))
	}

	s.mu.Lock()
	s.err = errors.Join(errs...)
	s.mu.Unlock()
	close(s.done)
}

// HTTPServerShutdownHook stops an HTTP server before anything it serves from.
func HTTPServerShutdownHook(name string, shutdownFn func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{Name: name, Priority: PriorityHTTP, Fn: shutdownFn}
}

// TemporalWorkerShutdownHook stops polling the task queue and waits for
// running activities.
func TemporalWorkerShutdownHook(stopFn func()) ShutdownHook {
	return ShutdownHook{
		Name:     "temporal-worker",
		Priority: PriorityWorker,
		Fn: func(ctx context.Context) error {
			stopFn()
			return nil
		},
	}
}

// ViewSessionsShutdownHook drops open view sessions once HTTP traffic has
// stopped.
func ViewSessionsShutdownHook(clearFn func() int) ShutdownHook {
	return ShutdownHook{
		Name:     "view-sessions",
		Priority: PrioritySessions,
		Fn: func(ctx context.Context) error {
			if n := clearFn(); n > 0 {
				slog.Info("Dropped view sessions", "count", n)
			}
			return nil
		},
	}
}

// TracingShutdownHook flushes pending spans.
func TracingShutdownHook(shutdownFn func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{Name: "tracing", Priority: PriorityTracing, Fn: shutdownFn}
}

// GraphStoreShutdownHook closes the graph repository last.
func GraphStoreShutdownHook(closeFn func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{Name: "graph-store", Priority: PriorityStore, Fn: closeFn}
}

// GracefulServer ties readiness to the shutdown lifecycle.
type GracefulServer struct {
	Health   *HealthServer
	Shutdown *ShutdownHandler
}

// NewGracefulServer creates the pair. Readiness is cleared by the first
// hook, so load balancers drain before the HTTP server stops.
func NewGracefulServer(healthConfig *HealthConfig, shutdownConfig *ShutdownConfig) *GracefulServer {
	g := &GracefulServer{
		Health:   NewHealthServer(healthConfig),
		Shutdown: NewShutdownHandler(shutdownConfig),
	}
	g.Shutdown.Register(ShutdownHook{
		Name: "readiness",
		Fn: func(context.Context) error {
			g.Health.SetReady(false)
			return nil
		},
	})
	return g
}

// Register adds shutdown hooks.
func (g *GracefulServer) Register(hooks ...ShutdownHook) {
	g.Shutdown.Register(hooks...)
}

// Run marks the process ready and calls serve until it returns or shutdown
// is signalled, then waits for every hook. It returns serve's error.
func (g *GracefulServer) Run(serve func() error) error {
	g.Shutdown.Start()
	g.Health.SetReady(true)

	errCh := make(chan error, 1)
	go func() { errCh <- serve() }()

	var err error
	select {
	case err = <-errCh:
		if err != nil {
			slog.Error("Server failed", "error", err)
		}
		g.Shutdown.Shutdown()
	case <-g.Shutdown.Stopping():
	}
	g.Shutdown.Wait()
	return err
}
