// Package readiness waits for the database container to actually accept
// connections before any library build runs.
//
// Container-runtime dependency ordering only guarantees the database
// process has been started, not that it is ready — MySQL in particular
// spends several seconds initializing its data directory on first boot.
// The Waiter polls with a driver-level ping until the database answers or
// a bounded timeout expires, and reports a clear ready/not-ready result.
package readiness

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Registers the "mysql" driver with database/sql.
	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/mmr-tortoise/libship/internal/model"
)

// Pinger probes the database once. A nil return means ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// MySQLPinger probes a MySQL server through the published host port using
// a real driver handshake, so "ready" means "accepting authenticated
// connections", not just "port open".
type MySQLPinger struct {
	dsn string
}

// NewMySQLPinger creates a pinger for the given go-sql-driver/mysql DSN.
func NewMySQLPinger(dsn string) *MySQLPinger {
	return &MySQLPinger{dsn: dsn}
}

// Ping opens a fresh connection and performs a driver-level ping. The
// connection is closed immediately: the probe must not hold state between
// attempts, since MySQL drops connections mid-initialization.
func (p *MySQLPinger) Ping(ctx context.Context) error {
	db, err := sql.Open("mysql", p.dsn)
	if err != nil {
		return fmt.Errorf("failed to open database handle: %w", err)
	}
	defer db.Close()

	return db.PingContext(ctx)
}

// Waiter polls a Pinger until it succeeds or the timeout expires.
type Waiter struct {
	pinger   Pinger
	timeout  time.Duration
	interval time.Duration
	logger   zerolog.Logger
}

// NewWaiter creates a Waiter. interval must be positive; timeout bounds
// the total wait.
func NewWaiter(pinger Pinger, timeout, interval time.Duration, logger zerolog.Logger) *Waiter {
	return &Waiter{
		pinger:   pinger,
		timeout:  timeout,
		interval: interval,
		logger:   logger,
	}
}

// Wait blocks until the database answers a ping, the timeout expires, or
// ctx is cancelled. On timeout it returns a CLIError with
// ExitDatabaseNotReady carrying the last probe error.
func (w *Waiter) Wait(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	attempt := 0
	var lastErr error
	for {
		attempt++
		if err := w.pinger.Ping(waitCtx); err == nil {
			w.logger.Info().Int("attempts", attempt).Msg("database is ready")
			return nil
		} else {
			lastErr = err
			w.logger.Debug().Err(err).Int("attempt", attempt).Msg("database not ready yet")
		}

		select {
		case <-waitCtx.Done():
			// Distinguish the bounded timeout from caller cancellation:
			// only the former is a "database not ready" outcome.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return model.WrapCLIError(
				model.ExitDatabaseNotReady,
				fmt.Sprintf("database not ready after %s (%d attempts)", w.timeout, attempt),
				lastErr,
			)
		case <-ticker.C:
		}
	}
}
