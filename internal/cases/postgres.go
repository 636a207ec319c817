package cases

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gyaneshwarpardhi/underwriting/internal/lifecycle"
	"github.com/gyaneshwarpardhi/underwriting/pkg/domainerrors"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the case tables when they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("cases: migrate: %w", err)
	}
	return nil
}

// NewPool builds a pgx pool from a connection string.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("cases: empty connection string")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("cases: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cases: connect: %w", err)
	}
	return pool, nil
}

// Postgres is a Repository backed by PostgreSQL. Case history lives in an
// append-only transitions table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const selectCaseSQL = `
SELECT id, revision, status, profile, signals, snapshot, signal_version, created_at, updated_at
FROM uw_cases`

func (p *Postgres) Create(ctx context.Context, c *Case) error {
	row, err := encodeRow(c)
	if err != nil {
		return err
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cases: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insertSQL = `
INSERT INTO uw_cases (id, revision, status, profile, signals, snapshot, signal_version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = tx.Exec(ctx, insertSQL, c.ID, int64(c.Revision), string(c.Status), row.profile, row.signals,
		row.snapshot, int64(c.SignalVersion), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainerrors.Newf(domainerrors.CodeValidation, "case %s already exists", c.ID)
		}
		return fmt.Errorf("cases: insert %s: %w", c.ID, err)
	}
	if err := insertTransitions(ctx, tx, c.ID, c.History); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cases: commit %s: %w", c.ID, err)
	}
	return nil
}

// Get reads the case row and its history from one snapshot.
func (p *Postgres) Get(ctx context.Context, id string) (*Case, error) {
	var c *Case
	err := p.read(ctx, func(tx pgx.Tx) error {
		var err error
		c, err = scanCase(tx.QueryRow(ctx, selectCaseSQL+` WHERE id = $1`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return domainerrors.Newf(domainerrors.CodeUnknownCase, "case %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("cases: get %s: %w", id, err)
		}
		byCase, err := loadHistory(ctx, tx, `WHERE case_id = $1`, id)
		if err != nil {
			return err
		}
		c.History = byCase[id]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// read runs fn in a read-only REPEATABLE READ transaction so the case rows
// and the transition rows it loads come from the same committed state.
func (p *Postgres) read(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("cases: begin read: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cases: commit read: %w", err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, c *Case, expectedRevision uint64) error {
	row, err := encodeRow(c)
	if err != nil {
		return err
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cases: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const updateSQL = `
UPDATE uw_cases
SET revision = $3, status = $4, profile = $5, signals = $6, snapshot = $7, signal_version = $8, updated_at = $9
WHERE id = $1 AND revision = $2`
	tag, err := tx.Exec(ctx, updateSQL, c.ID, int64(expectedRevision), int64(c.Revision), string(c.Status),
		row.profile, row.signals, row.snapshot, int64(c.SignalVersion), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("cases: update %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM uw_cases WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return fmt.Errorf("cases: update %s: %w", c.ID, err)
		}
		if !exists {
			return domainerrors.Newf(domainerrors.CodeUnknownCase, "case %s not found", c.ID)
		}
		return domainerrors.Newf(domainerrors.CodeConcurrentModification,
			"case %s was modified concurrently (expected revision %d)", c.ID, expectedRevision)
	}

	var maxSeq int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM uw_case_transitions WHERE case_id = $1`, c.ID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("cases: history seq %s: %w", c.ID, err)
	}
	var fresh []lifecycle.Transition
	for _, t := range c.History {
		if t.Seq > maxSeq {
			fresh = append(fresh, t)
		}
	}
	if err := insertTransitions(ctx, tx, c.ID, fresh); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cases: commit %s: %w", c.ID, err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context) ([]*Case, error) {
	var out []*Case
	err := p.read(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, selectCaseSQL+` ORDER BY id`)
		if err != nil {
			return fmt.Errorf("cases: list: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			c, err := scanCase(rows)
			if err != nil {
				return fmt.Errorf("cases: list scan: %w", err)
			}
			out = append(out, c)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("cases: list: %w", err)
		}
		rows.Close()

		byCase, err := loadHistory(ctx, tx, "")
		if err != nil {
			return err
		}
		for _, c := range out {
			c.History = byCase[c.ID]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadHistory(ctx context.Context, tx pgx.Tx, where string, args ...any) (map[string][]lifecycle.Transition, error) {
	rows, err := tx.Query(ctx, `SELECT case_id, payload FROM uw_case_transitions `+where+` ORDER BY case_id, seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("cases: history: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]lifecycle.Transition)
	for rows.Next() {
		var (
			caseID  string
			payload []byte
		)
		if err := rows.Scan(&caseID, &payload); err != nil {
			return nil, fmt.Errorf("cases: history scan: %w", err)
		}
		var t lifecycle.Transition
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, fmt.Errorf("cases: decode transition of %s: %w", caseID, err)
		}
		out[caseID] = append(out[caseID], t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cases: history: %w", err)
	}
	return out, nil
}

func insertTransitions(ctx context.Context, tx pgx.Tx, caseID string, ts []lifecycle.Transition) error {
	for _, t := range ts {
		payload, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("cases: marshal transition: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO uw_case_transitions (case_id, seq, payload) VALUES ($1, $2, $3)`,
			caseID, t.Seq, payload); err != nil {
			return fmt.Errorf("cases: insert transition %s/%d: %w", caseID, t.Seq, err)
		}
	}
	return nil
}

type encodedRow struct {
	profile  []byte
	signals  []byte
	snapshot []byte
}

func encodeRow(c *Case) (encodedRow, error) {
	var (
		r   encodedRow
		err error
	)
	if r.profile, err = json.Marshal(c.Profile); err != nil {
		return r, fmt.Errorf("cases: marshal profile: %w", err)
	}
	r.signals = []byte("[]")
	if len(c.Signals) > 0 {
		if r.signals, err = json.Marshal(c.Signals); err != nil {
			return r, fmt.Errorf("cases: marshal signals: %w", err)
		}
	}
	if c.Snapshot != nil {
		if r.snapshot, err = json.Marshal(c.Snapshot); err != nil {
			return r, fmt.Errorf("cases: marshal snapshot: %w", err)
		}
	}
	return r, nil
}

func scanCase(row pgx.Row) (*Case, error) {
	var (
		c                          Case
		status                     string
		revision, signalVersion    int64
		profile, signals, snapshot []byte
	)
	if err := row.Scan(&c.ID, &revision, &status, &profile, &signals, &snapshot, &signalVersion, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = lifecycle.Status(status)
	c.Revision = uint64(revision)
	c.SignalVersion = uint64(signalVersion)
	if err := json.Unmarshal(profile, &c.Profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if err := json.Unmarshal(signals, &c.Signals); err != nil {
		return nil, fmt.Errorf("decode signals: %w", err)
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &c.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	return &c, nil
}
