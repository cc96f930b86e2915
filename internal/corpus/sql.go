package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/mattn/go-sqlite3"      // also registers the "sqlite3" driver
	"github.com/ppiankov/receiptguard/internal/phash"
)

// Dialect selects placeholder style and DDL for a database driver
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS receipt_hashes (
	submission_ref TEXT PRIMARY KEY,
	submitter_id   TEXT NOT NULL,
	digest         TEXT NOT NULL,
	signature      TEXT NOT NULL,
	transaction_id TEXT NOT NULL DEFAULT '',
	recorded_at    BIGINT NOT NULL
)`

var createIndexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_receipt_hashes_digest ON receipt_hashes(digest)`,
	`CREATE INDEX IF NOT EXISTS idx_receipt_hashes_transaction ON receipt_hashes(transaction_id)`,
	`CREATE INDEX IF NOT EXISTS idx_receipt_hashes_submitter ON receipt_hashes(submitter_id)`,
}

const selectColumns = `submission_ref, submitter_id, digest, signature, transaction_id, recorded_at`

// SQLStore keeps the corpus in SQLite or PostgreSQL through database/sql
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQLStore opens the database for driver ("sqlite3" or "pgx") and
// creates the schema if needed
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	dialect := Dialect(driver)
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported corpus driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if dialect == DialectSQLite {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	s := NewSQLStore(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an already-open database
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// Migrate creates the table and indexes
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create receipt_hashes: %w", err)
	}
	for _, stmt := range createIndexSQL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FindBestMatch compares the signature against every stored entry
func (s *SQLStore) FindBestMatch(ctx context.Context, sig phash.Signature, exclude string) (*Match, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+selectColumns+` FROM receipt_hashes WHERE submission_ref <> ?`), exclude)
	if err != nil {
		return nil, fmt.Errorf("query corpus: %w", err)
	}
	defer rows.Close()

	var best *Match
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		m := Match{Entry: *e, Similarity: phash.Similarity(sig, e.Signature)}
		if better(m, best) {
			best = &m
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corpus: %w", err)
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// FindByExactDigest returns the earliest entry with digest
func (s *SQLStore) FindByExactDigest(ctx context.Context, digest, exclude string) (*Entry, error) {
	return s.queryOne(ctx,
		`SELECT `+selectColumns+` FROM receipt_hashes
		 WHERE digest = ? AND submission_ref <> ?
		 ORDER BY recorded_at, submission_ref LIMIT 1`,
		digest, exclude)
}

// FindByReference looks up an entry by submission ref
func (s *SQLStore) FindByReference(ctx context.Context, ref string) (*Entry, error) {
	return s.queryOne(ctx,
		`SELECT `+selectColumns+` FROM receipt_hashes WHERE submission_ref = ?`, ref)
}

// FindByTransactionID returns the earliest entry carrying txID
func (s *SQLStore) FindByTransactionID(ctx context.Context, txID, exclude string) (*Entry, error) {
	if txID == "" {
		return nil, ErrNotFound
	}
	return s.queryOne(ctx,
		`SELECT `+selectColumns+` FROM receipt_hashes
		 WHERE transaction_id = ? AND submission_ref <> ?
		 ORDER BY recorded_at, submission_ref LIMIT 1`,
		txID, exclude)
}

func (s *SQLStore) queryOne(ctx context.Context, query string, args ...any) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(query), args...)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Record inserts a new entry
func (s *SQLStore) Record(ctx context.Context, e Entry) error {
	if e.SubmissionRef == "" {
		return fmt.Errorf("record: empty submission reference")
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = s.now().UTC()
	}
	sigJSON, err := json.Marshal(e.Signature)
	if err != nil {
		return fmt.Errorf("encode signature: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO receipt_hashes (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		e.SubmissionRef, e.SubmitterID, e.Digest, string(sigJSON), e.TransactionID, e.RecordedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("record %s: %w", e.SubmissionRef, ErrDuplicateReference)
		}
		return fmt.Errorf("record %s: %w", e.SubmissionRef, err)
	}
	return nil
}

// Count returns the number of recorded entries
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipt_hashes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count corpus: %w", err)
	}
	return n, nil
}

// Close closes the underlying database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	var sigJSON string
	var recordedAt int64
	if err := row.Scan(&e.SubmissionRef, &e.SubmitterID, &e.Digest, &sigJSON, &e.TransactionID, &recordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan corpus entry: %w", err)
	}
	if err := json.Unmarshal([]byte(sigJSON), &e.Signature); err != nil {
		return nil, fmt.Errorf("entry %s: %w", e.SubmissionRef, err)
	}
	e.RecordedAt = time.Unix(0, recordedAt).UTC()
	return &e, nil
}

// pgUniqueViolation is the SQLSTATE for unique_violation
const pgUniqueViolation = "23505"

// isUniqueViolation reports a primary key or unique constraint failure from
// either driver
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
