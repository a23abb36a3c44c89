package gather

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/guarzo/eveDMV-sub012/errors"
	"github.com/guarzo/eveDMV-sub012/types"
)

const dayLayout = "2006-01-02"

// maxQueryIDs keeps each IN list well below SQLite's bound-parameter limit.
const maxQueryIDs = 500

const schema = `
CREATE TABLE IF NOT EXISTS entity_daily_stats (
	entity_id     INTEGER NOT NULL,
	day           TEXT    NOT NULL,
	kills         INTEGER NOT NULL DEFAULT 0,
	losses        INTEGER NOT NULL DEFAULT 0,
	solo_kills    INTEGER NOT NULL DEFAULT 0,
	gang_kills    INTEGER NOT NULL DEFAULT 0,
	isk_destroyed REAL    NOT NULL DEFAULT 0,
	isk_lost      REAL    NOT NULL DEFAULT 0,
	PRIMARY KEY (entity_id, day)
);
CREATE TABLE IF NOT EXISTS entity_ship_usage (
	entity_id INTEGER NOT NULL,
	day       TEXT    NOT NULL,
	ship      TEXT    NOT NULL,
	uses      INTEGER NOT NULL DEFAULT 0,
	losses    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (entity_id, day, ship)
);
CREATE TABLE IF NOT EXISTS entity_activity (
	entity_id INTEGER NOT NULL,
	day       TEXT    NOT NULL,
	hour      INTEGER NOT NULL,
	system    TEXT    NOT NULL DEFAULT '',
	events    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (entity_id, day, hour, system)
);
CREATE INDEX IF NOT EXISTS idx_entity_daily_stats_day ON entity_daily_stats (day);
CREATE INDEX IF NOT EXISTS idx_entity_ship_usage_day ON entity_ship_usage (day);
CREATE INDEX IF NOT EXISTS idx_entity_activity_day ON entity_activity (day);
`

// DailyStats is one entity's combat totals for one UTC day.
type DailyStats struct {
	EntityID     int64
	Day          time.Time
	Kills        int
	Losses       int
	SoloKills    int
	GangKills    int
	ISKDestroyed float64
	ISKLost      float64
}

// ShipDay is one entity's usage of one hull on one UTC day.
type ShipDay struct {
	EntityID int64
	Day      time.Time
	Ship     string
	Uses     int
	Losses   int
}

// ActivityHour counts an entity's events in one hour of one day in one system.
type ActivityHour struct {
	EntityID int64
	Day      time.Time
	Hour     int
	System   string
	Events   int
}

// SQLGatherer aggregates daily fact tables in SQLite over the lookback window.
type SQLGatherer struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// SQLOption configures an SQLGatherer.
type SQLOption func(*SQLGatherer)

// WithSQLLogger sets the logger.
func WithSQLLogger(logger *slog.Logger) SQLOption {
	return func(g *SQLGatherer) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithSQLClock overrides the clock that anchors the lookback window.
func WithSQLClock(now func() time.Time) SQLOption {
	return func(g *SQLGatherer) {
		if now != nil {
			g.now = now
		}
	}
}

// OpenSQL opens the SQLite database at path and creates the fact tables.
func OpenSQL(path string, opts ...SQLOption) (*SQLGatherer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "SQLGatherer", "OpenSQL", "validate path")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.WrapFatal(err, "SQLGatherer", "OpenSQL", "open sqlite db")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "SQLGatherer", "OpenSQL", "ping sqlite db")
	}

	g, err := NewSQL(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

// NewSQL wraps an open database and bootstraps the schema.
func NewSQL(db *sql.DB, opts ...SQLOption) (*SQLGatherer, error) {
	if db == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "SQLGatherer", "NewSQL", "validate db")
	}
	g := &SQLGatherer{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "sql-gatherer")

	if _, err := db.Exec(schema); err != nil {
		return nil, errors.WrapFatal(err, "SQLGatherer", "NewSQL", "create schema")
	}
	return g, nil
}

// Close releases the database.
func (g *SQLGatherer) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

// FetchStats implements Gatherer with one query per table per id chunk.
func (g *SQLGatherer) FetchStats(ctx context.Context, ids []int64, lookbackDays int) (map[int64]types.EntityStats, error) {
	if lookbackDays <= 0 {
		lookbackDays = types.DefaultScope.LookbackDays()
	}
	since := g.now().UTC().AddDate(0, 0, -lookbackDays).Format(dayLayout)

	found := make(map[int64]types.EntityStats, len(ids))
	unique := uniqueIDs(ids)
	for start := 0; start < len(unique); start += maxQueryIDs {
		end := min(start+maxQueryIDs, len(unique))
		if err := g.fetchChunk(ctx, unique[start:end], since, found); err != nil {
			return nil, errors.WrapTransient(err, "SQLGatherer", "FetchStats", "query stats")
		}
	}

	g.logger.Debug("Fetched stats", "requested", len(unique), "found", len(found), "since", since)
	return Complete(ids, found), nil
}

func (g *SQLGatherer) fetchChunk(ctx context.Context, ids []int64, since string, found map[int64]types.EntityStats) error {
	in, args := inClause(ids, since)

	entry := func(id int64) types.EntityStats {
		s, ok := found[id]
		if !ok {
			s = types.EmptyStats(id)
		}
		return s
	}

	rows, err := g.db.QueryContext(ctx, `
		SELECT entity_id, SUM(kills), SUM(losses), SUM(solo_kills), SUM(gang_kills),
		       SUM(isk_destroyed), SUM(isk_lost), MIN(day), MAX(day)
		FROM entity_daily_stats
		WHERE day >= ? AND entity_id IN (`+in+`)
		GROUP BY entity_id`, args...)
	if err != nil {
		return fmt.Errorf("daily stats: %w", err)
	}
	err = scanRows(rows, func() error {
		var (
			id              int64
			first, last     string
			kills, losses   int
			solo, gang      int
			destroyed, lost float64
		)
		if err := rows.Scan(&id, &kills, &losses, &solo, &gang, &destroyed, &lost, &first, &last); err != nil {
			return err
		}
		s := entry(id)
		s.TotalKills, s.TotalLosses = kills, losses
		s.SoloKills, s.GangKills = solo, gang
		s.ISKDestroyed, s.ISKLost = destroyed, lost
		s.FirstSeen, _ = time.Parse(dayLayout, first)
		s.LastSeen, _ = time.Parse(dayLayout, last)
		found[id] = s
		return nil
	})
	if err != nil {
		return fmt.Errorf("daily stats: %w", err)
	}

	rows, err = g.db.QueryContext(ctx, `
		SELECT entity_id, ship, SUM(uses), SUM(losses)
		FROM entity_ship_usage
		WHERE day >= ? AND entity_id IN (`+in+`)
		GROUP BY entity_id, ship`, args...)
	if err != nil {
		return fmt.Errorf("ship usage: %w", err)
	}
	err = scanRows(rows, func() error {
		var (
			id           int64
			ship         string
			uses, losses int
		)
		if err := rows.Scan(&id, &ship, &uses, &losses); err != nil {
			return err
		}
		s := entry(id)
		if uses > 0 {
			s.ShipUsage[ship] = uses
		}
		if losses > 0 {
			s.ShipLosses[ship] = losses
		}
		found[id] = s
		return nil
	})
	if err != nil {
		return fmt.Errorf("ship usage: %w", err)
	}

	rows, err = g.db.QueryContext(ctx, `
		SELECT entity_id, day, hour, system, SUM(events)
		FROM entity_activity
		WHERE day >= ? AND entity_id IN (`+in+`)
		GROUP BY entity_id, day, hour, system`, args...)
	if err != nil {
		return fmt.Errorf("activity: %w", err)
	}
	err = scanRows(rows, func() error {
		var (
			id           int64
			day, system  string
			hour, events int
		)
		if err := rows.Scan(&id, &day, &hour, &system, &events); err != nil {
			return err
		}
		if events <= 0 {
			return nil
		}
		s := entry(id)
		s.ActivityByHour[hour] += events
		if d, err := time.Parse(dayLayout, day); err == nil {
			s.ActivityByWeekday[d.Weekday().String()] += events
		}
		if system != "" {
			s.SystemActivity[system] += events
		}
		found[id] = s
		return nil
	})
	if err != nil {
		return fmt.Errorf("activity: %w", err)
	}
	return nil
}

func inClause(ids []int64, since string) (string, []any) {
	args := make([]any, 0, len(ids)+1)
	args = append(args, since)
	for _, id := range ids {
		args = append(args, id)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

func scanRows(rows *sql.Rows, scan func() error) error {
	defer rows.Close()
	for rows.Next() {
		if err := scan(); err != nil {
			return err
		}
	}
	return rows.Err()
}

// RecordDaily upserts daily combat totals.
func (g *SQLGatherer) RecordDaily(ctx context.Context, rows ...DailyStats) error {
	return g.inTx(ctx, "RecordDaily", func(tx *sql.Tx) error {
		for _, r := range rows {
			if r.EntityID <= 0 {
				return errors.New(errors.ErrInvalidEntityID, errors.ErrorInvalid, "SQLGatherer", "RecordDaily",
					fmt.Sprintf("%d", r.EntityID))
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO entity_daily_stats
					(entity_id, day, kills, losses, solo_kills, gang_kills, isk_destroyed, isk_lost)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(entity_id, day) DO UPDATE SET
					kills = excluded.kills,
					losses = excluded.losses,
					solo_kills = excluded.solo_kills,
					gang_kills = excluded.gang_kills,
					isk_destroyed = excluded.isk_destroyed,
					isk_lost = excluded.isk_lost`,
				r.EntityID, r.Day.UTC().Format(dayLayout), r.Kills, r.Losses, r.SoloKills, r.GangKills,
				r.ISKDestroyed, r.ISKLost)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordShips upserts per-hull usage.
func (g *SQLGatherer) RecordShips(ctx context.Context, rows ...ShipDay) error {
	return g.inTx(ctx, "RecordShips", func(tx *sql.Tx) error {
		for _, r := range rows {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO entity_ship_usage (entity_id, day, ship, uses, losses)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(entity_id, day, ship) DO UPDATE SET
					uses = excluded.uses,
					losses = excluded.losses`,
				r.EntityID, r.Day.UTC().Format(dayLayout), r.Ship, r.Uses, r.Losses)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordActivity upserts hourly activity counts.
func (g *SQLGatherer) RecordActivity(ctx context.Context, rows ...ActivityHour) error {
	return g.inTx(ctx, "RecordActivity", func(tx *sql.Tx) error {
		for _, r := range rows {
			if r.Hour < 0 || r.Hour > 23 {
				return errors.WrapInvalid(errors.ErrInvalidData, "SQLGatherer", "RecordActivity",
					fmt.Sprintf("hour %d", r.Hour))
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO entity_activity (entity_id, day, hour, system, events)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(entity_id, day, hour, system) DO UPDATE SET
					events = excluded.events`,
				r.EntityID, r.Day.UTC().Format(dayLayout), r.Hour, r.System, r.Events)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *SQLGatherer) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "SQLGatherer", op, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.IsInvalid(err) {
			return err
		}
		return errors.WrapTransient(err, "SQLGatherer", op, "write rows")
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapTransient(err, "SQLGatherer", op, "commit")
	}
	return nil
}
