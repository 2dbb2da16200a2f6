// Package telemetry persists one row per completed inference cycle to
// Postgres for offline RTC tuning, grounded on the teacher's
// pkg/database/client.go golang-migrate wiring (embedded migrations,
// pgx stdlib driver for the migration run) adapted to use pgx's native
// pool directly for inserts rather than ent, since there is no
// generated schema to drive an ORM here (see DESIGN.md).
package telemetry

import (
	"context"
	"embed"
	stdsql "database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lerobot-rtc/policyserver/internal/policyserver"
)

//go:embed migrations
var migrationsFS embed.FS

// Sink writes inference-cycle telemetry to Postgres. Write failures
// are logged and never returned to the caller: telemetry is
// observability, not correctness (spec.md §7).
type Sink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to dsn, applies pending migrations, and returns a
// ready Sink. An empty dsn is not special-cased here; telemetry is
// disabled by not calling Open at all.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := migrateUp(dsn); err != nil {
		return nil, fmt.Errorf("telemetry: migrate: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("telemetry: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("telemetry: ping: %w", err)
	}

	return &Sink{pool: pool, logger: logger}, nil
}

func migrateUp(dsn string) error {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	defer sourceDriver.Close()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "policyserver", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Sink) Close() {
	s.pool.Close()
}

// Record inserts one inference-cycle row, asynchronously relative to
// the caller: it spawns its own goroutine so a slow or unavailable
// database never adds latency to GetActions (spec.md §7).
func (s *Sink) Record(ctx context.Context, rec policyserver.TelemetryRecord) {
	go func() {
		insertCtx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		defer cancel()

		_, err := s.pool.Exec(insertCtx, `
			INSERT INTO inference_cycles
				(timestep, real_delay, inference_ms, guidance_norm, leftover_len, chunk_size)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.Timestep, rec.RealDelay, rec.InferenceMS, rec.GuidanceNorm, rec.LeftoverLen, rec.ChunkSize)
		if err != nil {
			s.logger.Warn("telemetry: insert failed", "error", err)
		}
	}()
}

// insertTimeout bounds the detached insert goroutine so it cannot
// accumulate indefinitely if the database is down.
const insertTimeout = 5 * time.Second
