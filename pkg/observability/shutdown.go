package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownManager drains the HTTP listeners and then releases the process's
// long-lived resources (expiry sweeper, audit sink, redis connection,
// telemetry pipeline) when SIGINT or SIGTERM arrives.
type ShutdownManager struct {
	logger  *Logger
	timeout time.Duration

	mu      sync.Mutex
	servers []namedServer
	closers []namedCloser
}

type namedServer struct {
	name   string
	server *http.Server
}

type namedCloser struct {
	name  string
	close func(context.Context) error
}

// NewShutdownManager creates a shutdown manager. A zero timeout defaults to
// 30 seconds.
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		timeout: timeout,
	}
}

// RegisterServer adds an HTTP server to drain during shutdown. All
// registered servers drain concurrently.
func (sm *ShutdownManager) RegisterServer(name string, server *http.Server) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.servers = append(sm.servers, namedServer{name: name, server: server})
}

// RegisterCloser adds a resource released after the servers have drained.
// Closers run in reverse registration order: register resources as they are
// created and they close in the opposite order, like defers.
func (sm *ShutdownManager) RegisterCloser(name string, close func(context.Context) error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, namedCloser{name: name, close: close})
}

// Wait blocks until SIGINT or SIGTERM, then shuts everything down within the
// configured timeout.
func (sm *ShutdownManager) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	sm.logger.WithField("signal", sig.String()).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	if err := sm.Shutdown(ctx); err != nil {
		sm.logger.WithError(err).Error("Shutdown finished with errors")
		return err
	}
	sm.logger.Info("Shutdown complete")
	return nil
}

// Shutdown drains every registered server, then releases the registered
// resources. A closer that outlives the context deadline is abandoned and
// reported as an error rather than holding the process open.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- sm.shutdown(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown deadline exceeded: %w", ctx.Err())
	}
}

func (sm *ShutdownManager) shutdown(ctx context.Context) error {
	sm.mu.Lock()
	servers := append([]namedServer(nil), sm.servers...)
	closers := append([]namedCloser(nil), sm.closers...)
	sm.mu.Unlock()

	var (
		wg   sync.WaitGroup
		errM sync.Mutex
		errs []error
	)
	for _, s := range servers {
		wg.Add(1)
		go func(s namedServer) {
			defer wg.Done()
			sm.logger.WithField("server", s.name).Info("Draining server")
			if err := s.server.Shutdown(ctx); err != nil {
				errM.Lock()
				errs = append(errs, fmt.Errorf("server %s: %w", s.name, err))
				errM.Unlock()
			}
		}(s)
	}
	wg.Wait()

	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		sm.logger.WithField("resource", c.name).Info("Closing resource")
		if err := c.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}
