// Package sessions deletes an account's web sessions after its password was
// changed.
package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"golang.org/x/sync/semaphore"

	"github.com/ZinovevEzCode/BaronessLaravelBridge/identity"
	"github.com/ZinovevEzCode/BaronessLaravelBridge/notify"
)

// DefaultWorkers is the number of invalidations run at once when
// Config.Workers is not set.
const DefaultWorkers = 8

// ErrShutdown is returned for work submitted after Shutdown.
const ErrShutdown errors.Error = "invalidator is shut down"

// Deleter deletes the sessions of an account by name.
type Deleter interface {
	DeleteByName(ctx context.Context, schema Schema, name string) (deleted int64, found bool, err error)
}

var _ Deleter = (*Store)(nil)

// Config is the configuration of an Invalidator.
type Config struct {
	// Logger is required.
	Logger *slog.Logger
	// Deleter is required.
	Deleter Deleter
	// Messenger informs the player about failures.  Nil disables messages.
	Messenger notify.Messenger
	Metrics   *Metrics
	Schema    Schema
	// Message is sent to the player when invalidation fails.  '&' colour
	// codes are translated.
	Message string
	Workers int
}

type settings struct {
	schema  Schema
	message string
}

// Invalidator handles password change events on a bounded set of
// goroutines.
type Invalidator struct {
	logger    *slog.Logger
	deleter   Deleter
	messenger notify.Messenger
	metrics   *Metrics
	settings  atomic.Pointer[settings]
	sem       *semaphore.Weighted

	// mu protects closed and orders wg.Add with Shutdown.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New returns an Invalidator.  c.Schema must be valid.
func New(c *Config) (inv *Invalidator, err error) {
	err = c.Schema.Validate()
	if err != nil {
		return nil, fmt.Errorf("session schema: %w", err)
	}

	workers := c.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	inv = &Invalidator{
		logger:    c.Logger,
		deleter:   c.Deleter,
		messenger: c.Messenger,
		metrics:   c.Metrics,
		sem:       semaphore.NewWeighted(int64(workers)),
	}
	inv.settings.Store(&settings{
		schema:  c.Schema,
		message: c.Message,
	})

	return inv, nil
}

// Reconfigure replaces the schema and player message used by events handled
// from now on.
func (inv *Invalidator) Reconfigure(schema Schema, message string) (err error) {
	err = schema.Validate()
	if err != nil {
		return fmt.Errorf("session schema: %w", err)
	}

	inv.settings.Store(&settings{
		schema:  schema,
		message: message,
	})

	return nil
}

// Subscribe attaches the invalidator to n.
func (inv *Invalidator) Subscribe(n identity.Notifier) (unsubscribe func()) {
	return n.Subscribe(func(ev identity.PasswordChanged) {
		_ = inv.OnPasswordChanged(ev.Name)
	})
}

// OnPasswordChanged schedules the invalidation of name's sessions and
// returns immediately.  It returns ErrShutdown after Shutdown was called.
func (inv *Invalidator) OnPasswordChanged(name string) (err error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.closed {
		inv.logger.Warn("password change ignored, shutting down", "name", name)
		inv.metrics.observe(resultRejected, 0)

		return ErrShutdown
	}

	inv.logger.Debug("scheduling session reset", "name", name)

	inv.wg.Add(1)
	inv.metrics.addInFlight(1)
	go inv.run(name, inv.settings.Load())

	return nil
}

// Shutdown stops accepting events and waits for scheduled ones to finish or
// for ctx to be done.
func (inv *Invalidator) Shutdown(ctx context.Context) (err error) {
	inv.mu.Lock()
	inv.closed = true
	inv.mu.Unlock()

	done := make(chan struct{})
	go func() {
		inv.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		inv.logger.Info("session invalidator stopped")

		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for invalidations: %w", ctx.Err())
	}
}

// run handles one event.  Invalidations are not canceled once scheduled.
func (inv *Invalidator) run(name string, s *settings) {
	defer inv.wg.Done()
	defer inv.metrics.addInFlight(-1)

	ctx := context.Background()
	defer slogutil.RecoverAndLog(ctx, inv.logger)

	// Acquire only fails on a canceled context.
	_ = inv.sem.Acquire(ctx, 1)
	defer inv.sem.Release(1)

	inv.handle(ctx, name, s)
}

func (inv *Invalidator) handle(ctx context.Context, name string, s *settings) {
	deleted, found, err := inv.deleter.DeleteByName(ctx, s.schema, name)
	switch {
	case err != nil:
		inv.logger.ErrorContext(ctx, "resetting sessions", "name", name, slogutil.KeyError, err)
		inv.metrics.observe(resultFailed, 0)
		inv.notifyPlayer(ctx, name, s.message)
	case !found:
		inv.logger.WarnContext(ctx, "player not found", "name", name, "table", s.schema.UsersTable)
		inv.metrics.observe(resultNotFound, 0)
	default:
		inv.logger.DebugContext(ctx, "sessions reset", "name", name, "count", deleted)
		inv.metrics.observe(resultDeleted, deleted)
	}
}

func (inv *Invalidator) notifyPlayer(ctx context.Context, name, message string) {
	if inv.messenger == nil || message == "" {
		return
	}

	delivered, err := inv.messenger.Notify(ctx, name, notify.TranslateColorCodes(message))
	if err != nil {
		inv.logger.WarnContext(ctx, "notifying player", "name", name, slogutil.KeyError, err)

		return
	}

	inv.logger.DebugContext(ctx, "player notified", "name", name, "delivered", delivered)
}
