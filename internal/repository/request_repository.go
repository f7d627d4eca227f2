package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academic-requests-api/internal/models"
	"github.com/noah-isme/academic-requests-api/pkg/database"
)

const requestColumns = `id, title, description, type, state, priority, priority_reason, channel,
       requester_id, responsible_id, remarks, deadline, created_at, updated_at, version`

const historyColumns = `id, request_id, actor_id, action, remarks, occurred_at`

// RequestRepository persists requests and their append-only history.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new request and assigns its identifier.
func (r *RequestRepository) Create(ctx context.Context, req *models.Request) error {
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.CreatedAt
	}
	if req.State == "" {
		req.State = models.StateRegistered
	}
	req.Version = 1

	const query = `INSERT INTO requests
	(title, description, type, state, priority, priority_reason, channel, requester_id, responsible_id, remarks, deadline, created_at, updated_at, version)
	VALUES (:title, :description, :type, :state, :priority, :priority_reason, :channel, :requester_id, :responsible_id, :remarks, :deadline, :created_at, :updated_at, :version)
	RETURNING id`
	rows, err := sqlx.NamedQueryContext(ctx, r.db, query, req)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		return fmt.Errorf("create request: no id returned")
	}
	if err := rows.Scan(&req.ID); err != nil {
		return fmt.Errorf("scan request id: %w", err)
	}
	return nil
}

// GetByID loads a request together with its full history. Missing rows yield sql.ErrNoRows.
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*models.Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM requests WHERE id = $1`, requestColumns)
	var req models.Request
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get request: %w", err)
	}
	history, err := r.ListHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	req.History = history
	return &req, nil
}

// Exists reports whether a request row is present.
func (r *RequestRepository) Exists(ctx context.Context, id int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM requests WHERE id = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("check request exists: %w", err)
	}
	return exists, nil
}

// List returns requests matching the filter, newest first. History is not loaded.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 5)
	builder.WriteString(fmt.Sprintf("SELECT %s FROM requests", requestColumns))

	conditions := make([]string, 0, 5)
	if filter.State != nil {
		args = append(args, *filter.State)
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)))
	}
	if filter.Type != nil {
		args = append(args, *filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Priority != nil {
		args = append(args, *filter.Priority)
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)))
	}
	if filter.ResponsibleID != nil {
		args = append(args, *filter.ResponsibleID)
		conditions = append(conditions, fmt.Sprintf("responsible_id = $%d", len(args)))
	}
	if filter.RequesterID != nil {
		args = append(args, *filter.RequesterID)
		conditions = append(conditions, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC, id DESC")

	requests := make([]models.Request, 0)
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return requests, nil
}

// ListHistory returns the audit trail of a request, oldest first with insertion order breaking ties.
func (r *RequestRepository) ListHistory(ctx context.Context, requestID int64) ([]models.HistoryEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM request_history WHERE request_id = $1 ORDER BY occurred_at ASC, id ASC`, historyColumns)
	entries := make([]models.HistoryEntry, 0)
	if err := r.db.SelectContext(ctx, &entries, query, requestID); err != nil {
		return nil, fmt.Errorf("list request history: %w", err)
	}
	return entries, nil
}

// ApplyChange writes the mutated request and appends entry in one transaction.
// The update only applies when the stored version still matches req.Version;
// otherwise sql.ErrNoRows is returned and nothing is written.
func (r *RequestRepository) ApplyChange(ctx context.Context, req *models.Request, entry *models.HistoryEntry) error {
	if entry == nil || strings.TrimSpace(entry.Action) == "" {
		return fmt.Errorf("apply request change: history action is required")
	}
	entry.RequestID = req.ID
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = req.UpdatedAt
	}

	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const update = `UPDATE requests SET type = :type, state = :state, priority = :priority,
	priority_reason = :priority_reason, responsible_id = :responsible_id, remarks = :remarks,
	updated_at = :updated_at, version = version + 1
	WHERE id = :id AND version = :version`
		result, err := tx.NamedExecContext(ctx, update, req)
		if err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check request update rows: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}

		const insert = `INSERT INTO request_history (request_id, actor_id, action, remarks, occurred_at)
	VALUES (:request_id, :actor_id, :action, :remarks, :occurred_at) RETURNING id`
		rows, err := sqlx.NamedQueryContext(ctx, tx, insert, entry)
		if err != nil {
			return fmt.Errorf("append request history: %w", err)
		}
		defer rows.Close()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return fmt.Errorf("append request history: %w", err)
			}
			return fmt.Errorf("append request history: no id returned")
		}
		return rows.Scan(&entry.ID)
	})
	if err != nil {
		return err
	}
	req.Version++
	req.History = append(req.History, *entry)
	return nil
}
