// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const dbOperationTimeout = 5 * time.Second

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	ErrInvalidRecord     = errors.New("invalid record")
	ErrInvalidTransition = errors.New("invalid workflow status transition")

	errOpenDB   = errors.New("failed to open database")
	errInitDB   = errors.New("failed to initialize schema")
	errBeginTx  = errors.New("failed to begin transaction")
	errCommitTx = errors.New("failed to commit transaction")
	errInsert   = errors.New("failed to insert")
	errQuery    = errors.New("failed to query")
	errScanRow  = errors.New("failed to scan row")
)

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS ideas (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	author      TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '[]',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	steps       TEXT NOT NULL DEFAULT '[]',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_entries (
	id          TEXT PRIMARY KEY,
	actor       TEXT NOT NULL,
	action      TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_entries(created_at);
`

type Idea struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Author      string    `json:"author"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type WorkflowStatus string

const (
	WorkflowDraft     WorkflowStatus = "draft"
	WorkflowActive    WorkflowStatus = "active"
	WorkflowPaused    WorkflowStatus = "paused"
	WorkflowCompleted WorkflowStatus = "completed"
)

var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowDraft:  {WorkflowActive},
	WorkflowActive: {WorkflowPaused, WorkflowCompleted},
	WorkflowPaused: {WorkflowActive, WorkflowCompleted},
}

// CanTransition reports whether a workflow may move from one status to another.
func CanTransition(from, to WorkflowStatus) bool {
	for _, next := range workflowTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Status      WorkflowStatus `json:"status"`
	Steps       []string       `json:"steps"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type AuditEntry struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecordStore persists ideas, workflows and the audit trail in SQLite. Every
// mutation writes its audit entry in the same transaction.
type RecordStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenRecordStore opens (or creates) the database at path. Use ":memory:"
// for a throwaway store.
func OpenRecordStore(path string) (*RecordStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errOpenDB, err)
	}
	// one connection keeps :memory: databases coherent and serialises writers
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %w", errInitDB, err)
		}
	}
	if _, err := db.Exec(createTablesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", errInitDB, err)
	}
	return &RecordStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *RecordStore) Close() error {
	return s.db.Close()
}

func (s *RecordStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", errBeginTx, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", errCommitTx, err)
	}
	return nil
}

func (s *RecordStore) insertAudit(ctx context.Context, tx *sql.Tx, e AuditEntry) error {
	const query = `INSERT INTO audit_entries (id, actor, action, entity_type, entity_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, e.ID, e.Actor, e.Action, e.EntityType, e.EntityID, e.Detail, formatTime(e.CreatedAt)); err != nil {
		return fmt.Errorf("%w audit entry: %w", errInsert, err)
	}
	return nil
}

func (s *RecordStore) newAudit(actor, action, entityType, entityID, detail string) AuditEntry {
	return AuditEntry{
		ID:         uuid.NewString(),
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now(),
	}
}

// Audit records an event that has no record of its own, such as a snapshot
// import.
func (s *RecordStore) Audit(ctx context.Context, actor, action, entityType, entityID, detail string) (AuditEntry, error) {
	if actor == "" || action == "" || entityType == "" {
		return AuditEntry{}, fmt.Errorf("%w: actor, action and entity type are required", ErrInvalidRecord)
	}
	e := s.newAudit(actor, action, entityType, entityID, detail)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.insertAudit(ctx, tx, e)
	})
	return e, err
}

// ListAudit returns the newest entries first.
func (s *RecordStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id, actor, action, entity_type, entity_id, detail, created_at
		FROM audit_entries ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w audit: %w", errQuery, err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var created string
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID, &e.Detail, &created); err != nil {
			return nil, fmt.Errorf("%w: %w", errScanRow, err)
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *RecordStore) CreateIdea(ctx context.Context, actor string, idea Idea) (Idea, error) {
	idea.Title = strings.TrimSpace(idea.Title)
	if idea.Title == "" {
		return Idea{}, fmt.Errorf("%w: idea title is required", ErrInvalidRecord)
	}
	if idea.Tags == nil {
		idea.Tags = []string{}
	}
	idea.ID = uuid.NewString()
	idea.CreatedAt = s.now()
	idea.UpdatedAt = idea.CreatedAt
	if idea.Author == "" {
		idea.Author = actor
	}
	tags, err := json.Marshal(idea.Tags)
	if err != nil {
		return Idea{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		const query = `INSERT INTO ideas (id, title, description, author, tags, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, query, idea.ID, idea.Title, idea.Description, idea.Author,
			string(tags), formatTime(idea.CreatedAt), formatTime(idea.UpdatedAt)); err != nil {
			return fmt.Errorf("%w idea: %w", errInsert, err)
		}
		return s.insertAudit(ctx, tx, s.newAudit(actor, "create", "idea", idea.ID, idea.Title))
	})
	if err != nil {
		return Idea{}, err
	}
	return idea, nil
}

func (s *RecordStore) ListIdeas(ctx context.Context) ([]Idea, error) {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id, title, description, author, tags, created_at, updated_at
		FROM ideas ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("%w ideas: %w", errQuery, err)
	}
	defer rows.Close()

	var out []Idea
	for rows.Next() {
		var idea Idea
		var tags, created, updated string
		if err := rows.Scan(&idea.ID, &idea.Title, &idea.Description, &idea.Author, &tags, &created, &updated); err != nil {
			return nil, fmt.Errorf("%w: %w", errScanRow, err)
		}
		if err := json.Unmarshal([]byte(tags), &idea.Tags); err != nil {
			return nil, fmt.Errorf("%w: tags: %w", errScanRow, err)
		}
		idea.CreatedAt = parseTime(created)
		idea.UpdatedAt = parseTime(updated)
		out = append(out, idea)
	}
	return out, rows.Err()
}

// CreateWorkflow stores a new workflow in draft status.
func (s *RecordStore) CreateWorkflow(ctx context.Context, actor string, wf Workflow) (Workflow, error) {
	wf.Name = strings.TrimSpace(wf.Name)
	if wf.Name == "" {
		return Workflow{}, fmt.Errorf("%w: workflow name is required", ErrInvalidRecord)
	}
	if wf.Steps == nil {
		wf.Steps = []string{}
	}
	wf.ID = uuid.NewString()
	wf.Status = WorkflowDraft
	wf.CreatedAt = s.now()
	wf.UpdatedAt = wf.CreatedAt
	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return Workflow{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		const query = `INSERT INTO workflows (id, name, description, status, steps, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, query, wf.ID, wf.Name, wf.Description, string(wf.Status),
			string(steps), formatTime(wf.CreatedAt), formatTime(wf.UpdatedAt)); err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return fmt.Errorf("%w: workflow %q already exists", ErrInvalidRecord, wf.Name)
			}
			return fmt.Errorf("%w workflow: %w", errInsert, err)
		}
		return s.insertAudit(ctx, tx, s.newAudit(actor, "create", "workflow", wf.ID, wf.Name))
	})
	if err != nil {
		return Workflow{}, err
	}
	return wf, nil
}

func (s *RecordStore) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT id, name, description, status, steps, created_at, updated_at
		FROM workflows WHERE id = ?`, id)
	return scanWorkflow(row)
}

func (s *RecordStore) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, status, steps, created_at, updated_at
		FROM workflows ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("%w workflows: %w", errQuery, err)
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// UpdateWorkflowStatus moves a workflow to a new status if the transition is
// allowed.
func (s *RecordStore) UpdateWorkflowStatus(ctx context.Context, actor, id string, to WorkflowStatus) (Workflow, error) {
	var wf Workflow
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT id, name, description, status, steps, created_at, updated_at
			FROM workflows WHERE id = ?`, id)
		current, err := scanWorkflow(row)
		if err != nil {
			return err
		}
		if !CanTransition(current.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
		}
		current.Status = to
		current.UpdatedAt = s.now()
		if _, err := tx.ExecContext(ctx, `UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`,
			string(to), formatTime(current.UpdatedAt), id); err != nil {
			return fmt.Errorf("%w workflow status: %w", errInsert, err)
		}
		wf = current
		return s.insertAudit(ctx, tx, s.newAudit(actor, "status:"+string(to), "workflow", id, current.Name))
	})
	if err != nil {
		return Workflow{}, err
	}
	return wf, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (Workflow, error) {
	var wf Workflow
	var status, steps, created, updated string
	if err := row.Scan(&wf.ID, &wf.Name, &wf.Description, &status, &steps, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Workflow{}, ErrNotFound
		}
		return Workflow{}, fmt.Errorf("%w: %w", errScanRow, err)
	}
	if err := json.Unmarshal([]byte(steps), &wf.Steps); err != nil {
		return Workflow{}, fmt.Errorf("%w: steps: %w", errScanRow, err)
	}
	wf.Status = WorkflowStatus(status)
	wf.CreatedAt = parseTime(created)
	wf.UpdatedAt = parseTime(updated)
	return wf, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
