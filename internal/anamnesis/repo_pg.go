package anamnesis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"anamnesis-backend/internal/status"
	"anamnesis-backend/internal/worker"
)

const uniqueViolation = "23505"

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const analysisColumns = `id, user_id, primary_url, primary_hash, status, score_completeness, findings,
       error_code, error_message, error_retryable, started_at, completed_at, deleted_at, created_at, updated_at`

// CreateUnlessDuplicate serializes creation per (user, hash) with a
// transaction-scoped advisory lock, then runs decide against the user's
// candidates before inserting.
func (r *PGRepo) CreateUnlessDuplicate(ctx context.Context, analysis Analysis, sources []Source, decide DecideFunc) (Analysis, bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Analysis{}, false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, analysis.UserID+":"+analysis.PrimaryHash); err != nil {
		return Analysis{}, false, err
	}

	candidates, err := listCandidates(ctx, tx, analysis.UserID)
	if err != nil {
		return Analysis{}, false, err
	}
	if decide != nil {
		if dupID := decide(candidates); dupID != "" {
			for _, c := range candidates {
				if c.ID == dupID {
					if err := tx.Commit(); err != nil {
						return Analysis{}, false, err
					}
					return c, false, nil
				}
			}
			return Analysis{}, false, ErrNotFound
		}
	}

	if err := insertAnalysis(ctx, tx, analysis); err != nil {
		if isUniqueViolation(err) {
			return Analysis{}, false, ErrActiveDuplicate
		}
		return Analysis{}, false, err
	}
	for _, s := range sources {
		if err := insertSource(ctx, tx, s); err != nil {
			return Analysis{}, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Analysis{}, false, err
	}
	return analysis, true, nil
}

// GetByID returns an analysis by ID, including soft-deleted records.
func (r *PGRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1 LIMIT 1`
	a, err := scanAnalysis(r.DB.QueryRowContext(ctx, query, analysisID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analysis{}, ErrNotFound
		}
		return Analysis{}, err
	}
	return a, nil
}

// ListSources returns the sources of an analysis ordered by position.
func (r *PGRepo) ListSources(ctx context.Context, analysisID string) ([]Source, error) {
	const query = `
SELECT id, analysis_id, type, url, normalized_url, provider, hash, status, error, snapshot_key, last_fetched_at, position
FROM analysis_sources
WHERE analysis_id = $1
ORDER BY position ASC`

	rows, err := r.DB.QueryContext(ctx, query, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Source{}
	for rows.Next() {
		var s Source
		var provider, errMsg, snapshotKey sql.NullString
		var lastFetchedAt sql.NullTime
		if err := rows.Scan(
			&s.ID,
			&s.AnalysisID,
			&s.Type,
			&s.URL,
			&s.NormalizedURL,
			&provider,
			&s.Hash,
			&s.Status,
			&errMsg,
			&snapshotKey,
			&lastFetchedAt,
			&s.Position,
		); err != nil {
			return nil, err
		}
		s.Provider = provider.String
		s.Error = errMsg.String
		s.SnapshotKey = snapshotKey.String
		if lastFetchedAt.Valid {
			s.LastFetchedAt = &lastFetchedAt.Time
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListByUser lists analyses for a user ordered newest-first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, filter ListFilter) ([]Analysis, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(filter.Offset, 0)

	var total int
	const countQuery = `SELECT count(*) FROM analyses WHERE user_id = $1 AND ($2 = '' OR status = $2)`
	if err := r.DB.QueryRowContext(ctx, countQuery, userID, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + analysisColumns + `
FROM analyses
WHERE user_id = $1 AND ($2 = '' OR status = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`
	rows, err := r.DB.QueryContext(ctx, query, userID, string(filter.Status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// UpdateStatus applies a compare-and-set status change.
func (r *PGRepo) UpdateStatus(ctx context.Context, analysisID string, from, to status.Status, upd StatusUpdate) (Analysis, error) {
	query := `
UPDATE analyses
SET status = $1,
    score_completeness = COALESCE($2::integer, score_completeness),
    findings = COALESCE($3::jsonb, findings),
    error_code = CASE
        WHEN $4::text IS NOT NULL THEN $4::text
        WHEN $5::boolean THEN NULL
        ELSE error_code
    END,
    error_message = CASE
        WHEN $6::text IS NOT NULL THEN $6::text
        WHEN $5::boolean THEN NULL
        ELSE error_message
    END,
    error_retryable = CASE
        WHEN $7::boolean IS NOT NULL THEN $7::boolean
        WHEN $5::boolean THEN false
        ELSE error_retryable
    END,
    started_at = CASE
        WHEN $8::timestamptz IS NOT NULL THEN $8::timestamptz
        WHEN $9::boolean THEN NULL
        ELSE started_at
    END,
    completed_at = CASE
        WHEN $10::timestamptz IS NOT NULL THEN $10::timestamptz
        WHEN $9::boolean THEN NULL
        ELSE completed_at
    END,
    deleted_at = COALESCE($11::timestamptz, deleted_at),
    updated_at = now()
WHERE id = $12 AND status = $13
RETURNING ` + analysisColumns

	var findings any
	if upd.Findings != nil {
		payload, err := json.Marshal(upd.Findings)
		if err != nil {
			return Analysis{}, err
		}
		findings = payload
	}

	a, err := scanAnalysis(r.DB.QueryRowContext(ctx, query,
		string(to),
		upd.ScoreCompleteness,
		findings,
		upd.ErrorCode,
		upd.ClearError,
		upd.ErrorMessage,
		upd.ErrorRetryable,
		upd.StartedAt,
		upd.ClearTimes,
		upd.CompletedAt,
		upd.DeletedAt,
		analysisID,
		string(from),
	))
	if err == nil {
		return a, nil
	}
	if isUniqueViolation(err) {
		return Analysis{}, ErrActiveDuplicate
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Analysis{}, err
	}
	current, getErr := r.GetByID(ctx, analysisID)
	if getErr != nil {
		return Analysis{}, getErr
	}
	return current, ErrStatusConflict
}

// UpdateSources records per-source fetch outcomes in one transaction.
func (r *PGRepo) UpdateSources(ctx context.Context, analysisID string, outcomes []worker.SourceOutcome) error {
	const query = `
UPDATE analysis_sources
SET status = $1,
    error = NULLIF($2, ''),
    snapshot_key = COALESCE(NULLIF($3, ''), snapshot_key),
    last_fetched_at = COALESCE($4::timestamptz, last_fetched_at)
WHERE id = $5 AND analysis_id = $6`

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, o := range outcomes {
		var fetchedAt *time.Time
		if !o.FetchedAt.IsZero() {
			t := o.FetchedAt
			fetchedAt = &t
		}
		if _, err := tx.ExecContext(ctx, query, o.Status, o.Error, o.SnapshotKey, fetchedAt, o.SourceID, analysisID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListStaleRunning returns running analyses started before startedBefore.
func (r *PGRepo) ListStaleRunning(ctx context.Context, startedBefore time.Time, limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + analysisColumns + `
FROM analyses
WHERE status = 'running' AND started_at < $1
ORDER BY started_at ASC
LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, startedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ Repo = (*PGRepo)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listCandidates(ctx context.Context, q queryer, userID string) ([]Analysis, error) {
	query := `SELECT ` + analysisColumns + `
FROM analyses
WHERE user_id = $1 AND deleted_at IS NULL AND status IN ('queued', 'running', 'done')
ORDER BY created_at DESC`
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAnalysis(row rowScanner) (Analysis, error) {
	var a Analysis
	var st string
	var findings sql.NullString
	var errorCode sql.NullString
	var errorMessage sql.NullString
	var errorRetryable sql.NullBool
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	var deletedAt sql.NullTime
	if err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.PrimaryURL,
		&a.PrimaryHash,
		&st,
		&a.ScoreCompleteness,
		&findings,
		&errorCode,
		&errorMessage,
		&errorRetryable,
		&startedAt,
		&completedAt,
		&deletedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return Analysis{}, err
	}
	a.Status = status.Status(st)
	if findings.Valid {
		if err := json.Unmarshal([]byte(findings.String), &a.Findings); err != nil {
			a.Findings = nil
		}
	}
	if errorCode.Valid {
		a.ErrorCode = &errorCode.String
	}
	if errorMessage.Valid {
		a.ErrorMessage = &errorMessage.String
	}
	if errorRetryable.Valid {
		a.ErrorRetryable = errorRetryable.Bool
	}
	if startedAt.Valid {
		a.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	if deletedAt.Valid {
		a.DeletedAt = &deletedAt.Time
	}
	return a, nil
}

func insertAnalysis(ctx context.Context, tx *sql.Tx, a Analysis) error {
	const query = `
INSERT INTO analyses (id, user_id, primary_url, primary_hash, status, score_completeness, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := tx.ExecContext(ctx, query,
		a.ID,
		a.UserID,
		a.PrimaryURL,
		a.PrimaryHash,
		string(a.Status),
		a.ScoreCompleteness,
		a.CreatedAt,
		a.UpdatedAt,
	)
	return err
}

func insertSource(ctx context.Context, tx *sql.Tx, s Source) error {
	const query = `
INSERT INTO analysis_sources (id, analysis_id, type, url, normalized_url, provider, hash, status, position)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`
	_, err := tx.ExecContext(ctx, query,
		s.ID,
		s.AnalysisID,
		s.Type,
		s.URL,
		s.NormalizedURL,
		s.Provider,
		s.Hash,
		s.Status,
		s.Position,
	)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
