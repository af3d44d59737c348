package server

import (
	"context"
	"errors"
	"sync"
	"time"

	xhttp "GoldCast/pkg/http"
	"GoldCast/pkg/logger"
)

// Runner is a background component that runs until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

type namedRunner struct {
	name string
	r    Runner
}

type AppOption func(*App)

// WithRunner adds a background component. Nil runners are skipped.
func WithRunner(name string, r Runner) AppOption {
	return func(a *App) {
		if r != nil {
			a.runners = append(a.runners, namedRunner{name: name, r: r})
		}
	}
}

// WithShutdownTimeout bounds how long Run waits for runners on shutdown.
func WithShutdownTimeout(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.shutdownTimeout = d
		}
	}
}

// App encapsulates the application lifecycle: the HTTP server and the
// background runners. Shared resources are released by the caller after Run.
type App struct {
	http            *xhttp.Server
	runners         []namedRunner
	shutdownTimeout time.Duration
	log             *logger.Logger
}

func New(srv *xhttp.Server, log *logger.Logger, opts ...AppOption) *App {
	if log == nil {
		log = logger.NewNop()
	}
	a := &App{
		http:            srv,
		shutdownTimeout: 10 * time.Second,
		log:             log.With(logger.String("component", "app")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts every component and blocks until ctx is cancelled, then shuts
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, nr := range a.runners {
		wg.Add(1)
		go func(nr namedRunner) {
			defer wg.Done()
			a.log.Info("runner started", logger.String("runner", nr.name))
			if err := nr.r.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("runner stopped with error", logger.String("runner", nr.name), logger.Error(err))
				return
			}
			a.log.Info("runner stopped", logger.String("runner", nr.name))
		}(nr)
	}

	if a.http != nil {
		if err := a.http.Start(); err != nil {
			cancel()
			wg.Wait()
			return err
		}
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown(cancel, &wg)
}

func (a *App) shutdown(cancel context.CancelFunc, wg *sync.WaitGroup) error {
	var stopErr error

	stopCtx, stop := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer stop()

	if a.http != nil {
		if stopErr = a.http.Stop(stopCtx); stopErr != nil {
			a.log.Error("http shutdown error", logger.Error(stopErr))
		}
	}

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		a.log.Warn("runners did not stop before shutdown timeout")
	}

	a.log.Info("shutdown complete")
	return stopErr
}
