package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kalambet/folio/internal/portfolio"
)

// Store keeps portfolios in SQLite: one row per portfolio with its metadata
// columns, one row per section.
type Store struct {
	db *sql.DB
}

// pragmas are applied by the driver on every new connection.
var pragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"journal_mode(WAL)",
}

func dsn(dataDir string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	if dataDir == ":memory:" {
		return "file::memory:?" + q.Encode()
	}
	return "file:" + filepath.Join(dataDir, "folio.db") + "?" + q.Encode()
}

// Open opens the portfolio database in dataDir, creating it if needed, and
// brings its schema up to date. ":memory:" gives a private in-memory database.
func Open(dataDir string) (*Store, error) {
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(dataDir))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps an in-memory
	// database alive and shared.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Portfolios ---

// timeLayout has fixed-width fractions so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// CreatePortfolio inserts a new portfolio with its sections.
func (s *Store) CreatePortfolio(ctx context.Context, rec portfolio.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning create transaction: %w", err)
	}
	defer tx.Rollback()

	m := rec.Document.Metadata
	_, err = tx.ExecContext(ctx, `
		INSERT INTO portfolios (id, owner_id, template, slug, theme, font, custom_style, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.Template, nullString(rec.Slug), m.Theme, m.Font, m.CustomStyle,
		rec.CreatedAt.UTC().Format(timeLayout), rec.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting portfolio: %w", err)
	}
	if err := insertSections(ctx, tx, rec.ID, rec.Document.Sections); err != nil {
		return err
	}
	return tx.Commit()
}

// GetPortfolio loads a portfolio and its sections in document order.
func (s *Store) GetPortfolio(ctx context.Context, id string) (portfolio.Record, error) {
	var rec portfolio.Record
	var slug sql.NullString
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, template, slug, theme, font, custom_style, created_at, updated_at
		FROM portfolios WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.OwnerID, &rec.Template, &slug,
		&rec.Document.Metadata.Theme, &rec.Document.Metadata.Font, &rec.Document.Metadata.CustomStyle,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return portfolio.Record{}, ErrNotFound
	}
	if err != nil {
		return portfolio.Record{}, err
	}
	rec.Slug = slug.String
	if err := parseTimes(&rec, createdAt, updatedAt); err != nil {
		return portfolio.Record{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, data FROM sections WHERE portfolio_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return portfolio.Record{}, err
	}
	defer rows.Close()

	rec.Document.Sections = []portfolio.Section{}
	for rows.Next() {
		var sec portfolio.Section
		var data sql.NullString
		if err := rows.Scan(&sec.Type, &data); err != nil {
			return portfolio.Record{}, err
		}
		if data.Valid {
			sec.Data = json.RawMessage(data.String)
		}
		rec.Document.Sections = append(rec.Document.Sections, sec)
	}
	return rec, rows.Err()
}

// ListByOwner returns the owner's portfolios, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]portfolio.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM portfolios WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]portfolio.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetPortfolio(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading portfolio %s: %w", id, err)
		}
		results = append(results, rec)
	}
	return results, nil
}

// SaveDocument replaces the sections of a portfolio and the listed metadata
// fields. Fields not listed keep their stored value.
func (s *Store) SaveDocument(ctx context.Context, portfolioID string, doc portfolio.Document, fields []portfolio.Field) error {
	set := []string{"updated_at = ?"}
	args := []any{now()}
	for _, f := range fields {
		col, ok := fieldColumns[f]
		if !ok {
			return fmt.Errorf("unknown metadata field %q", f)
		}
		set = append(set, col+" = ?")
		args = append(args, doc.Metadata.Get(f))
	}
	args = append(args, portfolioID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE portfolios SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err := affectedOne(res, err); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE portfolio_id = ?`, portfolioID); err != nil {
		return fmt.Errorf("clearing sections: %w", err)
	}
	if err := insertSections(ctx, tx, portfolioID, doc.Sections); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveField updates a single metadata column.
func (s *Store) SaveField(ctx context.Context, portfolioID string, field portfolio.Field, value string) error {
	col, ok := fieldColumns[field]
	if !ok {
		return fmt.Errorf("unknown metadata field %q", field)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE portfolios SET `+col+` = ?, updated_at = ? WHERE id = ?`, value, now(), portfolioID)
	return affectedOne(res, err)
}

// SaveSection updates the payload of one existing section.
func (s *Store) SaveSection(ctx context.Context, portfolioID string, section portfolio.Section) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning section transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE sections SET data = ? WHERE portfolio_id = ? AND type = ?`,
		rawData(section.Data), portfolioID, section.Type)
	if err := affectedOne(res, err); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE portfolios SET updated_at = ? WHERE id = ?`, now(), portfolioID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetSlug records the public slug of a published portfolio.
func (s *Store) SetSlug(ctx context.Context, id, slug string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE portfolios SET slug = ? WHERE id = ?`, slug, id)
	if isUniqueViolation(err) {
		return ErrSlugTaken
	}
	return affectedOne(res, err)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func insertSections(ctx context.Context, tx *sql.Tx, portfolioID string, sections []portfolio.Section) error {
	for i, sec := range sections {
		_, err := tx.ExecContext(ctx, `INSERT INTO sections (portfolio_id, type, position, data) VALUES (?, ?, ?, ?)`,
			portfolioID, sec.Type, i, rawData(sec.Data))
		if err != nil {
			return fmt.Errorf("inserting section %q: %w", sec.Type, err)
		}
	}
	return nil
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func parseTimes(rec *portfolio.Record, createdAt, updatedAt string) error {
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return fmt.Errorf("parsing updated_at: %w", err)
	}
	return nil
}

func rawData(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}
