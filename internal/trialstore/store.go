// Package trialstore persists trial protocol documents and completed
// screening results in SQLite.
package trialstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/careforge/trialscreen/internal/screening"
)

var ErrNotFound = errors.New("not found")

// Store keeps two tables: trial protocol documents in insert order, and an
// append-only log of screening outcomes keyed by screening ID. Screening
// rows are never updated or deleted.
type Store struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS trial_documents (
	trial_id  TEXT NOT NULL,
	position  INTEGER NOT NULL,
	section   TEXT NOT NULL DEFAULT '',
	title     TEXT NOT NULL DEFAULT '',
	condition TEXT NOT NULL DEFAULT '',
	document  TEXT NOT NULL,
	PRIMARY KEY (trial_id, position)
);

CREATE TABLE IF NOT EXISTS screenings (
	screening_id TEXT PRIMARY KEY,
	trial_id     TEXT NOT NULL DEFAULT '',
	patient_id   TEXT NOT NULL DEFAULT '',
	decision     TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	created_at   TEXT NOT NULL
);
`

func NewStore(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// TrialDocument is one stored protocol section.
type TrialDocument struct {
	Section   string `db:"section"`
	Title     string `db:"title"`
	Condition string `db:"condition"`
	Document  string `db:"document"`
}

// TrialSummary describes one stored trial for listings.
type TrialSummary struct {
	TrialID       string `db:"trial_id" json:"trial_id"`
	Title         string `db:"title" json:"title"`
	Condition     string `db:"condition" json:"condition"`
	DocumentCount int    `db:"document_count" json:"document_count"`
}

// PutTrial replaces the stored documents for a trial. Positions follow the
// order of docs.
func (s *Store) PutTrial(ctx context.Context, trialID string, docs []TrialDocument) error {
	if trialID == "" {
		return errors.New("trial_id is required")
	}
	if len(docs) == 0 {
		return errors.New("at least one document is required")
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trial_documents WHERE trial_id = ?`, trialID); err != nil {
		return err
	}
	for i, doc := range docs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO trial_documents (trial_id, position, section, title, condition, document) VALUES (?, ?, ?, ?, ?, ?)`,
			trialID, i, doc.Section, doc.Title, doc.Condition, doc.Document)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetTrialByID returns a trial's documents and metadata in insert order.
func (s *Store) GetTrialByID(ctx context.Context, trialID string) (screening.TrialDocuments, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT section, title, condition, document FROM trial_documents WHERE trial_id = ? ORDER BY position`, trialID)
	if err != nil {
		return screening.TrialDocuments{}, err
	}
	defer rows.Close()

	out := screening.TrialDocuments{Documents: []string{}, Metadatas: []map[string]any{}}
	for rows.Next() {
		var doc TrialDocument
		if err := rows.StructScan(&doc); err != nil {
			return screening.TrialDocuments{}, err
		}
		out.Documents = append(out.Documents, doc.Document)
		out.Metadatas = append(out.Metadatas, map[string]any{
			"trial_id":  trialID,
			"section":   doc.Section,
			"title":     doc.Title,
			"condition": doc.Condition,
		})
	}
	return out, rows.Err()
}

// ListTrials returns a summary row per stored trial.
func (s *Store) ListTrials(ctx context.Context) ([]TrialSummary, error) {
	var out []TrialSummary
	err := s.db.SelectContext(ctx, &out, `
		SELECT trial_id,
		       MAX(title) AS title,
		       MAX(condition) AS condition,
		       COUNT(*) AS document_count
		FROM trial_documents
		GROUP BY trial_id
		ORDER BY trial_id`)
	if out == nil {
		out = []TrialSummary{}
	}
	return out, err
}

// DeleteTrial removes a trial's documents. Returns ErrNotFound when nothing
// was stored under the id.
func (s *Store) DeleteTrial(ctx context.Context, trialID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trial_documents WHERE trial_id = ?`, trialID)
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

// SaveScreening appends a completed screening outcome. Existing rows are
// never overwritten; a duplicate screening ID is an error.
func (s *Store) SaveScreening(ctx context.Context, outcome screening.ScreeningOutcome) error {
	blob, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO screenings (screening_id, trial_id, patient_id, decision, outcome, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		outcome.ScreeningID, outcome.TrialID, outcome.PatientID, string(outcome.Decision), string(blob),
		time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// GetScreening loads one stored outcome by screening ID.
func (s *Store) GetScreening(ctx context.Context, screeningID string) (screening.ScreeningOutcome, error) {
	var blob string
	err := s.db.GetContext(ctx, &blob, `SELECT outcome FROM screenings WHERE screening_id = ?`, screeningID)
	if errors.Is(err, sql.ErrNoRows) {
		return screening.ScreeningOutcome{}, ErrNotFound
	}
	if err != nil {
		return screening.ScreeningOutcome{}, err
	}
	var out screening.ScreeningOutcome
	if err := json.Unmarshal([]byte(blob), &out); err != nil {
		return screening.ScreeningOutcome{}, fmt.Errorf("decode outcome: %w", err)
	}
	return out, nil
}

// Ensure the store satisfies the trial source interface at compile time.
var _ screening.TrialSource = (*Store)(nil)
