package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sweeney/thermostat/internal/appliance"
	"github.com/sweeney/thermostat/internal/engine"
	"github.com/sweeney/thermostat/internal/sensor"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runtimeRowID = 1

const (
	upsertRuntimeSQL = `
		INSERT INTO runtime_settings (id, mode, demand, desired, format, last_check, hold_s, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode=excluded.mode,
			demand=excluded.demand,
			desired=excluded.desired,
			format=excluded.format,
			last_check=excluded.last_check,
			hold_s=excluded.hold_s,
			updated_at=excluded.updated_at
	`

	selectRuntimeSQL = `
		SELECT mode, demand, desired, format, last_check, hold_s
		FROM runtime_settings WHERE id=?
	`

	insertTransitionSQL = `
		INSERT INTO transitions (id, occurred_at, appliance, state, demand, house_temp, desired, verified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	pruneTransitionsSQL = `DELETE FROM transitions WHERE occurred_at < ?`
)

// Transition is one committed appliance state change.
type Transition struct {
	ID        string
	At        time.Time
	Appliance appliance.Kind
	State     appliance.State
	Demand    engine.DemandState
	HouseTemp float64
	Desired   float64
	Verified  bool
}

// SQLite implements runtime persistence over a *sql.DB.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an open database.
func New(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// SaveRuntime upserts the single runtime row.
func (s *SQLite) SaveRuntime(ctx context.Context, rt engine.Runtime) error {
	var lastCheck *string
	if !rt.LastCheck.IsZero() {
		v := formatTime(rt.LastCheck)
		lastCheck = &v
	}
	_, err := s.db.ExecContext(ctx, upsertRuntimeSQL,
		runtimeRowID,
		string(rt.Mode),
		string(rt.Demand),
		rt.Desired,
		string(rt.Format),
		lastCheck,
		int64(rt.Hold/time.Second),
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("save runtime: %w", err)
	}
	return nil
}

// LoadRuntime returns the stored runtime row. ok is false when none exists.
func (s *SQLite) LoadRuntime(ctx context.Context) (rt engine.Runtime, ok bool, err error) {
	var (
		mode, demand, format string
		lastCheck            sql.NullString
		holdS                int64
	)
	row := s.db.QueryRowContext(ctx, selectRuntimeSQL, runtimeRowID)
	if err := row.Scan(&mode, &demand, &rt.Desired, &format, &lastCheck, &holdS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return engine.Runtime{}, false, nil
		}
		return engine.Runtime{}, false, fmt.Errorf("load runtime: %w", err)
	}
	rt.Mode = engine.Mode(mode)
	rt.Demand = engine.DemandState(demand)
	rt.Format = sensor.Scale(format)
	rt.Hold = time.Duration(holdS) * time.Second
	if lastCheck.Valid && lastCheck.String != "" {
		t, err := parseTime(lastCheck.String)
		if err != nil {
			return engine.Runtime{}, false, err
		}
		rt.LastCheck = t
	}
	return rt, true, nil
}

// RecordTransition appends a transition. Empty ID and zero At are filled in.
func (s *SQLite) RecordTransition(ctx context.Context, tr Transition) error {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.At.IsZero() {
		tr.At = s.now()
	}
	_, err := s.db.ExecContext(ctx, insertTransitionSQL,
		tr.ID,
		formatTime(tr.At),
		string(tr.Appliance),
		string(tr.State),
		string(tr.Demand),
		tr.HouseTemp,
		tr.Desired,
		tr.Verified,
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// Transitions lists transitions in [from, to], optionally filtered by
// appliance, oldest first. Zero bounds are open.
func (s *SQLite) Transitions(ctx context.Context, from, to time.Time, kind appliance.Kind) ([]Transition, error) {
	var (
		conds []string
		args  []any
	)
	if !from.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, formatTime(from))
	}
	if !to.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, formatTime(to))
	}
	if k := strings.ToLower(strings.TrimSpace(string(kind))); k != "" {
		conds = append(conds, "appliance = ?")
		args = append(args, k)
	}

	q := `SELECT id, occurred_at, appliance, state, demand, house_temp, desired, verified FROM transitions`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY occurred_at ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			tr                     Transition
			at, kindS, state, dmnd string
		)
		if err := rows.Scan(&tr.ID, &at, &kindS, &state, &dmnd, &tr.HouseTemp, &tr.Desired, &tr.Verified); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if tr.At, err = parseTime(at); err != nil {
			return nil, err
		}
		tr.Appliance = appliance.Kind(kindS)
		tr.State = appliance.State(state)
		tr.Demand = engine.DemandState(dmnd)
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	return out, nil
}

// PruneTransitions deletes transitions older than before.
func (s *SQLite) PruneTransitions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, pruneTransitionsSQL, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune transitions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
