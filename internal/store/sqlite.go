package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arbiterhq/arbiter/internal/model"

	"modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    toolchain_id TEXT NOT NULL,
    problem_id   TEXT NOT NULL,
    contest_id   TEXT NOT NULL,
    owner_id     TEXT NOT NULL,
    phase        TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT '{}',
    source       BLOB,
    binary       BLOB,
    created_at   DATETIME NOT NULL
)`

const createIdentitiesTable = `
CREATE TABLE IF NOT EXISTS identities (
    id              TEXT PRIMARY KEY,
    login           TEXT NOT NULL UNIQUE,
    credential_hash TEXT NOT NULL,
    roles           TEXT NOT NULL DEFAULT '[]',
    created_at      DATETIME NOT NULL
)`

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS sessions (
    token       TEXT PRIMARY KEY,
    identity_id TEXT NOT NULL,
    roles       TEXT NOT NULL DEFAULT '[]',
    created_at  DATETIME NOT NULL
)`

// runColumns is the projection used everywhere a run is returned to a
// caller: everything except the source and binary blobs.
const runColumns = "id, toolchain_id, problem_id, contest_id, owner_id, phase, status, created_at"

// sqliteConstraintUnique is the extended result code SQLITE_CONSTRAINT_UNIQUE.
const sqliteConstraintUnique = 2067

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// A second pooled connection to ":memory:" would open its own
		// empty database; keep in-memory stores on a single connection.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createRunsTable, createIdentitiesTable, createSessionsTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create table: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqliteConstraintUnique
	}
	return false
}

// CreateRun inserts a new run record, source included, as one write.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	st := r.Status
	if st == nil {
		st = map[string]string{}
	}
	status, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (
			id, toolchain_id, problem_id, contest_id, owner_id,
			phase, status, source, binary, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ToolchainID, r.ProblemID, r.ContestID, r.OwnerID,
		r.Phase, string(status), r.Source, r.Binary, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func scanRun(row interface{ Scan(dest ...any) error }) (*model.Run, error) {
	r := &model.Run{}
	var status string
	err := row.Scan(
		&r.ID, &r.ToolchainID, &r.ProblemID, &r.ContestID, &r.OwnerID,
		&r.Phase, &status, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(status), &r.Status); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}
	if r.Status == nil {
		r.Status = map[string]string{}
	}
	return r, nil
}

// GetRun retrieves a run projection (no source or binary) by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns run projections ordered by created_at DESC. An empty
// ownerID returns every run; otherwise only runs owned by ownerID.
func (s *SQLiteStore) ListRuns(ctx context.Context, ownerID string) ([]*model.Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	args := []any{}
	if ownerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRunSource returns the stored source blob for a run. ErrNotFound means
// the run itself is absent; a nil slice means the run exists but carries no
// source — callers must keep the two apart.
func (s *SQLiteStore) GetRunSource(ctx context.Context, id string) ([]byte, error) {
	var source []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT source FROM runs WHERE id = ?", id).Scan(&source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run source: %w", err)
	}
	return source, nil
}

// ClaimQueuedRun atomically transitions one queued run to locked and
// returns its post-update projection. Which run is selected among multiple
// queued candidates is unspecified. The single UPDATE statement is the
// mutual-exclusion guarantee: two concurrent claims can never lock the
// same run. Returns ErrNoQueuedRuns when the queue is empty.
//
// A locked run is never released back to queued here; crash recovery is an
// acknowledged gap, and workers must treat duplicate judgings as benign if
// a reclaim mechanism is ever added.
func (s *SQLiteStore) ClaimQueuedRun(ctx context.Context) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE runs SET phase = ?
		WHERE id = (SELECT id FROM runs WHERE phase = ? LIMIT 1)
		RETURNING `+runColumns,
		model.PhaseLocked, model.PhaseQueued,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoQueuedRuns
	}
	if err != nil {
		return nil, fmt.Errorf("claim queued run: %w", err)
	}
	return r, nil
}

// UpdateRun applies a patch to a run as one atomic update and returns the
// post-update projection. Status keys merge via json_patch so concurrent
// patches to different kinds never clobber each other; the binary, when
// present, is replaced wholesale. An empty update still matches the row,
// which is how "patch exists but changes nothing" yields the current run
// rather than ErrNotFound.
func (s *SQLiteStore) UpdateRun(ctx context.Context, id string, u model.RunUpdate) (*model.Run, error) {
	// Duplicate kinds within one call resolve left-to-right here, before
	// the store ever sees them.
	merge := make(map[string]string, len(u.MergeStatus))
	for _, e := range u.MergeStatus {
		merge[e.Kind] = e.Code
	}
	mergeDoc, err := json.Marshal(merge)
	if err != nil {
		return nil, fmt.Errorf("marshal status merge: %w", err)
	}

	var row *sql.Row
	if u.ReplaceBinary != nil {
		row = s.db.QueryRowContext(ctx,
			`UPDATE runs SET status = json_patch(status, ?), binary = ?
			WHERE id = ? RETURNING `+runColumns,
			string(mergeDoc), u.ReplaceBinary, id,
		)
	} else {
		row = s.db.QueryRowContext(ctx,
			`UPDATE runs SET status = json_patch(status, ?)
			WHERE id = ? RETURNING `+runColumns,
			string(mergeDoc), id,
		)
	}

	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}
	return r, nil
}

// GetRunStats returns aggregate run counts by phase and toolchain.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &RunStats{
		ByPhase:     make(map[string]int),
		ByToolchain: make(map[string]int),
	}

	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx, "SELECT phase, COUNT(*) FROM runs GROUP BY phase")
	if err != nil {
		return nil, fmt.Errorf("count by phase: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var phase string
		var n int
		if err := rows.Scan(&phase, &n); err != nil {
			return nil, fmt.Errorf("scan phase count: %w", err)
		}
		stats.ByPhase[phase] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phase counts: %w", err)
	}

	tcRows, err := tx.QueryContext(ctx, "SELECT toolchain_id, COUNT(*) FROM runs GROUP BY toolchain_id")
	if err != nil {
		return nil, fmt.Errorf("count by toolchain: %w", err)
	}
	defer tcRows.Close()
	for tcRows.Next() {
		var tc string
		var n int
		if err := tcRows.Scan(&tc, &n); err != nil {
			return nil, fmt.Errorf("scan toolchain count: %w", err)
		}
		stats.ByToolchain[tc] = n
	}
	if err := tcRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate toolchain counts: %w", err)
	}

	return stats, nil
}

// CreateIdentity inserts a new identity. A unique-index violation on login
// surfaces as ErrDuplicateLogin; the existing record is never touched.
func (s *SQLiteStore) CreateIdentity(ctx context.Context, ident *model.Identity) error {
	roles, err := json.Marshal(ident.Roles)
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identities (id, login, credential_hash, roles, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ident.ID, ident.Login, ident.CredentialHash, string(roles), ident.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateLogin
	}
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

// GetOrCreateIdentity inserts ident if no identity with its id exists and
// returns the stored record either way. The insert tolerates a concurrent
// creator: a duplicate-key outcome simply falls through to the read. This
// is the materialization path for the reserved root and guest identities.
func (s *SQLiteStore) GetOrCreateIdentity(ctx context.Context, ident *model.Identity) (*model.Identity, error) {
	roles, err := json.Marshal(ident.Roles)
	if err != nil {
		return nil, fmt.Errorf("marshal roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identities (id, login, credential_hash, roles, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		ident.ID, ident.Login, ident.CredentialHash, string(roles), ident.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure identity: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT id, login, credential_hash, roles, created_at FROM identities WHERE id = ?",
		ident.ID)
	stored, err := scanIdentity(row)
	if err != nil {
		return nil, fmt.Errorf("reload identity: %w", err)
	}
	return stored, nil
}

func scanIdentity(row interface{ Scan(dest ...any) error }) (*model.Identity, error) {
	ident := &model.Identity{}
	var roles string
	err := row.Scan(&ident.ID, &ident.Login, &ident.CredentialHash, &roles, &ident.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(roles), &ident.Roles); err != nil {
		return nil, fmt.Errorf("unmarshal roles: %w", err)
	}
	return ident, nil
}

// GetIdentityByLogin retrieves an identity by its unique login.
func (s *SQLiteStore) GetIdentityByLogin(ctx context.Context, login string) (*model.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, login, credential_hash, roles, created_at FROM identities WHERE login = ?",
		login)
	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return ident, nil
}

// CreateSession persists a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	roles, err := json.Marshal(sess.Roles)
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, identity_id, roles, created_at)
		VALUES (?, ?, ?, ?)`,
		sess.Token, sess.IdentityID, string(roles), sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSessionByToken retrieves a session by exact token match.
func (s *SQLiteStore) GetSessionByToken(ctx context.Context, token string) (*model.Session, error) {
	sess := &model.Session{}
	var roles string
	err := s.db.QueryRowContext(ctx,
		"SELECT token, identity_id, roles, created_at FROM sessions WHERE token = ?",
		token).Scan(&sess.Token, &sess.IdentityID, &roles, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal([]byte(roles), &sess.Roles); err != nil {
		return nil, fmt.Errorf("unmarshal roles: %w", err)
	}
	sess.Superuser = sess.IdentityID == model.RootID
	return sess, nil
}
