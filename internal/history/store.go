// Package history implements the DatabaseInteractionWorker: chat histories,
// their per-step progress and per-project data, kept in SQLite.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lfcbot/lfc/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// History is one chat question and the processing steps recorded for it.
type History struct {
	ID        string    `json:"_id"`
	ProjectID string    `json:"projectId"`
	Question  string    `json:"question"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Process   []Process `json:"process"`
}

// Process is a top-level pipeline step.
type Process struct {
	Name       string          `json:"process_name"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	SubProcess []Step          `json:"sub_process"`
}

// Step is a sub-step recorded under a Process.
type Step struct {
	Name      string          `json:"sub_process_name"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Document is a piece of project data.
type Document struct {
	ID        string          `json:"_id"`
	ProjectID string          `json:"project_id"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// Prompt is the prompt template stored for a project.
type Prompt struct {
	ProjectID string    `json:"project_id"`
	Prompt    string    `json:"prompt"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists histories in SQLite with a single writer connection and a
// pooled read-only connection.
type Store struct {
	dbPath string
	db     *sql.DB
	readDB *sql.DB
	mu     sync.RWMutex

	maxRetries    int
	baseRetryWait time.Duration
	now           func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithRetry sets the busy-retry policy for writes.
func WithRetry(maxRetries int, baseWait time.Duration) Option {
	return func(s *Store) {
		s.maxRetries = maxRetries
		s.baseRetryWait = baseWait
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens or creates the database at dbPath and applies migrations.
func Open(dbPath string, opts ...Option) (*Store, error) {
	s := &Store{
		dbPath:        dbPath,
		maxRetries:    5,
		baseRetryWait: 100 * time.Millisecond,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening write database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	// Migrations run before the read pool is opened so the file exists.
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	readDB, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&mode=ro&_pragma=busy_timeout(1000)")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening read database: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS history_schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM history_schema_migrations")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	migrations := []string{migrationV1}
	for i, migration := range migrations {
		version := i + 1
		if version <= current {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration transaction: %w", err)
		}
		for _, stmt := range splitStatements(migration) {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("executing migration v%d: %w", version, err)
			}
		}
		if _, err := tx.Exec(
			"INSERT INTO history_schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", version, err)
		}
	}
	return nil
}

// splitStatements splits a SQL script on semicolons and drops comment lines.
func splitStatements(script string) []string {
	var statements []string
	for _, stmt := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			statements = append(statements, strings.Join(lines, "\n"))
		}
	}
	return statements
}

func (s *Store) retryWrite(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.baseRetryWait * time.Duration(1<<attempt)):
		}
	}
	return fmt.Errorf("%s failed after %d retries: %w", operation, s.maxRetries, lastErr)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

func rawOrNull(v json.RawMessage) sql.NullString {
	if len(v) == 0 || string(v) == "null" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(v), Valid: true}
}

func nullToRaw(v sql.NullString) json.RawMessage {
	if !v.Valid {
		return nil
	}
	return json.RawMessage(v.String)
}

// CreateHistory starts a new chat history.
func (s *Store) CreateHistory(ctx context.Context, projectID, question string) (*History, error) {
	if strings.TrimSpace(question) == "" {
		return nil, core.ErrValidation(core.CodeBadPayload, "question is required")
	}
	now := s.stamp()
	h := &History{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Question:  question,
		CreatedAt: parseTime(now),
		UpdatedAt: parseTime(now),
		Process:   []Process{},
	}
	err := s.retryWrite(ctx, "CreateHistory", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO histories (id, project_id, question, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, h.ID, h.ProjectID, h.Question, now, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating history: %w", err)
	}
	return h, nil
}

// GetHistory loads a history with all of its processes and steps.
func (s *Store) GetHistory(ctx context.Context, id string) (*History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var h History
	var createdAt, updatedAt string
	err := s.readDB.QueryRowContext(ctx, `
		SELECT id, project_id, question, created_at, updated_at
		FROM histories WHERE id = ?
	`, id).Scan(&h.ID, &h.ProjectID, &h.Question, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("history", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning history: %w", err)
	}
	h.CreatedAt = parseTime(createdAt)
	h.UpdatedAt = parseTime(updatedAt)

	rows, err := s.readDB.QueryContext(ctx, `
		SELECT p.id, p.name, p.input, p.output, p.created_at,
		       sp.name, sp.input, sp.output, sp.created_at
		FROM processes p
		LEFT JOIN sub_processes sp ON sp.process_id = p.id
		WHERE p.history_id = ?
		ORDER BY p.id ASC, sp.id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying processes: %w", err)
	}
	defer rows.Close()

	h.Process = []Process{}
	index := make(map[int64]int)
	for rows.Next() {
		var (
			pid                   int64
			pName, pCreated       string
			pIn, pOut             sql.NullString
			sName, sIn, sOut, sAt sql.NullString
		)
		if err := rows.Scan(&pid, &pName, &pIn, &pOut, &pCreated, &sName, &sIn, &sOut, &sAt); err != nil {
			return nil, fmt.Errorf("scanning process: %w", err)
		}
		i, ok := index[pid]
		if !ok {
			h.Process = append(h.Process, Process{
				Name:       pName,
				Input:      nullToRaw(pIn),
				Output:     nullToRaw(pOut),
				CreatedAt:  parseTime(pCreated),
				SubProcess: []Step{},
			})
			i = len(h.Process) - 1
			index[pid] = i
		}
		if sName.Valid {
			h.Process[i].SubProcess = append(h.Process[i].SubProcess, Step{
				Name:      sName.String,
				Input:     nullToRaw(sIn),
				Output:    nullToRaw(sOut),
				CreatedAt: parseTime(sAt.String),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &h, nil
}

// AddProcess appends a top-level process to a history.
func (s *Store) AddProcess(ctx context.Context, historyID, name string, input, output json.RawMessage) error {
	if name == "" {
		return core.ErrValidation(core.CodeBadPayload, "process_name is required")
	}
	return s.retryWrite(ctx, "AddProcess", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		now := s.stamp()
		if err := touchHistory(ctx, tx, historyID, now); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO processes (history_id, name, input, output, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, historyID, name, rawOrNull(input), rawOrNull(output), now); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// AddStep appends a step under the first process named processName,
// creating that process when the history has none by that name.
func (s *Store) AddStep(ctx context.Context, historyID, processName, stepName string, input, output json.RawMessage) error {
	if processName == "" || stepName == "" {
		return core.ErrValidation(core.CodeBadPayload, "process_name and sub_process_name are required")
	}
	return s.retryWrite(ctx, "AddStep", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		now := s.stamp()
		if err := touchHistory(ctx, tx, historyID, now); err != nil {
			_ = tx.Rollback()
			return err
		}

		var processID int64
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM processes WHERE history_id = ? AND name = ?
			ORDER BY id ASC LIMIT 1
		`, historyID, processName).Scan(&processID)
		if errors.Is(err, sql.ErrNoRows) {
			res, insErr := tx.ExecContext(ctx, `
				INSERT INTO processes (history_id, name, created_at) VALUES (?, ?, ?)
			`, historyID, processName, now)
			if insErr != nil {
				_ = tx.Rollback()
				return insErr
			}
			processID, err = res.LastInsertId()
		}
		if err != nil {
			_ = tx.Rollback()
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sub_processes (process_id, name, input, output, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, processID, stepName, rawOrNull(input), rawOrNull(output), now); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func touchHistory(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, "UPDATE histories SET updated_at = ? WHERE id = ?", now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound("history", id)
	}
	return nil
}

// AddDocument stores a piece of project data.
func (s *Store) AddDocument(ctx context.Context, projectID string, content json.RawMessage) (*Document, error) {
	if projectID == "" {
		return nil, core.ErrValidation(core.CodeBadPayload, "project id is required")
	}
	if len(content) == 0 {
		content = json.RawMessage(`{}`)
	}
	now := s.stamp()
	doc := &Document{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Content:   content,
		CreatedAt: parseTime(now),
	}
	err := s.retryWrite(ctx, "AddDocument", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO documents (id, project_id, content, created_at) VALUES (?, ?, ?, ?)
		`, doc.ID, doc.ProjectID, string(doc.Content), now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("adding document: %w", err)
	}
	return doc, nil
}

// Documents returns the data stored for a project, oldest first.
func (s *Store) Documents(ctx context.Context, projectID string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, project_id, content, created_at
		FROM documents WHERE project_id = ?
		ORDER BY created_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var d Document
		var content, createdAt string
		if err := rows.Scan(&d.ID, &d.ProjectID, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d.Content = json.RawMessage(content)
		d.CreatedAt = parseTime(createdAt)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SetPrompt stores the prompt for a project, replacing any previous one.
func (s *Store) SetPrompt(ctx context.Context, projectID, prompt string) error {
	if projectID == "" {
		return core.ErrValidation(core.CodeBadPayload, "project id is required")
	}
	return s.retryWrite(ctx, "SetPrompt", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO prompts (project_id, prompt, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(project_id) DO UPDATE SET
				prompt = excluded.prompt,
				updated_at = excluded.updated_at
		`, projectID, prompt, s.stamp())
		return err
	})
}

// Prompt returns the prompt stored for a project.
func (s *Store) Prompt(ctx context.Context, projectID string) (*Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p Prompt
	var updatedAt string
	err := s.readDB.QueryRowContext(ctx, `
		SELECT project_id, prompt, updated_at FROM prompts WHERE project_id = ?
	`, projectID).Scan(&p.ProjectID, &p.Prompt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("prompt", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning prompt: %w", err)
	}
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// Close closes both database connections.
func (s *Store) Close() error {
	var errs []error
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing read connection: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing write connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
