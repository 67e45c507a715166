package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/clock"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/config"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/db"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/engine"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/journal"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/migrate"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/scheduler"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/store"
)

// Options controls how an App is assembled. A nil Config falls back to the
// workspace swipeflow.yml, or the defaults when there is none.
type Options struct {
	Workspace string
	Config    *config.Config
	SeedPath  string
	Clock     clock.Clock
	Logger    zerolog.Logger
	// NoJournal skips opening the workspace database.
	NoJournal bool
}

// App wires the engine, scheduler and journal for one process.
type App struct {
	Config    *config.Config
	Engine    engine.Engine
	Scheduler *scheduler.Scheduler
	Journal   *journal.Journal

	db  *sql.DB
	sub store.SubscriptionID
	log zerolog.Logger
}

// New builds the App. Seed events are loaded before the journal subscribes,
// so only changes made in this process are journaled.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger

	s := store.New(logger)
	eng, err := engine.New(s, engine.Options{
		Clock:            opts.Clock,
		PermanenceCutoff: cfg.Engine.PermanenceCutoff,
		Overrides:        overrides(cfg),
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	sched, err := scheduler.New(eng, SchedulerConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	a := &App{
		Config:    cfg,
		Engine:    eng,
		Scheduler: sched,
		log:       logger.With().Str("component", "app").Logger(),
	}

	if opts.SeedPath != "" {
		events, err := LoadSeed(opts.SeedPath)
		if err != nil {
			return nil, err
		}
		n, err := a.Seed(events)
		if err != nil {
			return nil, err
		}
		a.log.Info().Int("events", n).Str("path", opts.SeedPath).Msg("seed loaded")
	}

	if cfg.Journal.Enabled && !opts.NoJournal {
		conn, err := db.Open(db.Config{Workspace: opts.Workspace})
		if err != nil {
			return nil, err
		}
		if _, err := migrate.Migrate(conn); err != nil {
			conn.Close()
			return nil, err
		}
		a.db = conn
		a.Journal = journal.Open(conn, cfg.Journal.Buffer, logger)
		a.sub = eng.Subscribe(a.Journal.Record)
	}
	return a, nil
}

// overrides returns nil when the config leaves the section empty so the
// engine keeps its default matrix.
func overrides(cfg *config.Config) map[domain.Role][]domain.Role {
	if len(cfg.Authorization.Overrides) == 0 {
		return nil
	}
	return cfg.Overrides()
}

// SchedulerConfig maps the scheduler section onto scheduler.Config.
func SchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		DayStart:               cfg.Scheduler.DayStart,
		DayEnd:                 cfg.Scheduler.DayEnd,
		StepMinutes:            cfg.Scheduler.StepMinutes,
		DefaultDurationMinutes: cfg.Scheduler.DefaultDurationMinutes,
		First:                  domain.Role(cfg.Scheduler.Parties.First),
		Second:                 domain.Role(cfg.Scheduler.Parties.Second),
	}
}

// Seed adds events through the engine, stopping at the first failure.
func (a *App) Seed(events []domain.Event) (int, error) {
	for i, ev := range events {
		if _, err := a.Engine.AddEvent(ev); err != nil {
			return i, fmt.Errorf("seed event %d (%s): %w", i, ev.ID, err)
		}
	}
	return len(events), nil
}

// RunOverdue marks overdue events every interval until ctx is done. A zero
// interval disables the sweep.
func (a *App) RunOverdue(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.Engine.MarkOverdue(); err != nil {
			a.log.Warn().Err(err).Msg("overdue sweep failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close detaches and drains the journal, then closes the database.
func (a *App) Close() error {
	if a.Journal == nil {
		return nil
	}
	a.Engine.Unsubscribe(a.sub)
	var errs []error
	if err := a.Journal.Close(); err != nil && !errors.Is(err, journal.ErrClosed) {
		errs = append(errs, err)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, err)
		}
		a.db = nil
	}
	return errors.Join(errs...)
}
