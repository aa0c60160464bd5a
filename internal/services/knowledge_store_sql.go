package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskloom/internal/database"
	"taskloom/internal/models"
)

// SQLKnowledgeStore reads projects and knowledge items from MySQL or SQLite
type SQLKnowledgeStore struct {
	db *database.DB
}

// NewSQLKnowledgeStore creates a knowledge store over an initialized database
func NewSQLKnowledgeStore(db *database.DB) *SQLKnowledgeStore {
	return &SQLKnowledgeStore{db: db}
}

// GetProject returns the project header with its task and knowledge counts
func (s *SQLKnowledgeStore) GetProject(ctx context.Context, projectID string) (*models.ProjectMeta, error) {
	captured := models.CapturedKnowledgeKinds()
	query := fmt.Sprintf(`
		SELECT p.id, p.name,
			COALESCE(SUM(CASE WHEN k.kind = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN k.kind = ? AND k.status IN (?, ?, ?) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN k.kind = ? AND k.status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN k.kind IN (%s) THEN 1 ELSE 0 END), 0)
		FROM projects p
		LEFT JOIN knowledge_items k ON k.project_id = p.id
		WHERE p.id = ?
		GROUP BY p.id, p.name`, placeholders(len(captured)))

	task := string(models.KindTask)
	args := []any{
		task,
		task, string(models.StatusInProgress), string(models.StatusBlocked), string(models.StatusReview),
		task, string(models.StatusDone),
	}
	for _, k := range captured {
		args = append(args, string(k))
	}
	args = append(args, projectID)

	var meta models.ProjectMeta
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&meta.ID, &meta.Name, &meta.TaskTotal, &meta.TaskActive, &meta.TaskCompleted, &meta.KnowledgeCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project: %w", err)
	}
	return &meta, nil
}

// ListCandidateItems returns the project's items of the given kinds, newest first
func (s *SQLKnowledgeStore) ListCandidateItems(ctx context.Context, projectID string, kinds []models.KnowledgeKind) ([]models.KnowledgeItem, error) {
	if len(kinds) == 0 {
		return []models.KnowledgeItem{}, nil
	}

	query := fmt.Sprintf(`
		SELECT id, project_id, kind, title, body, status, priority, sub_type, lane, links, created_at, updated_at
		FROM knowledge_items
		WHERE project_id = ? AND kind IN (%s)
		ORDER BY created_at DESC, id`, placeholders(len(kinds)))

	args := []any{projectID}
	for _, k := range kinds {
		args = append(args, string(k))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge items: %w", err)
	}
	defer rows.Close()

	items := []models.KnowledgeItem{}
	for rows.Next() {
		var (
			item              models.KnowledgeItem
			body, links       sql.NullString
			createdAt, update int64
		)
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Kind, &item.Title, &body,
			&item.Status, &item.Priority, &item.SubType, &item.Lane, &links, &createdAt, &update); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge item: %w", err)
		}

		item.Body = body.String
		item.CreatedAt = fromMillis(createdAt)
		item.UpdatedAt = fromMillis(update)
		if links.Valid && links.String != "" {
			if err := json.Unmarshal([]byte(links.String), &item.Links); err != nil {
				return nil, fmt.Errorf("failed to decode links of item %s: %w", item.ID, err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read knowledge items: %w", err)
	}
	return items, nil
}

// SaveProject inserts or renames a project
func (s *SQLKnowledgeStore) SaveProject(ctx context.Context, projectID, name string, createdAt time.Time) error {
	return s.replace(ctx,
		"DELETE FROM projects WHERE id = ?", []any{projectID},
		"INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)", []any{projectID, name, toMillis(createdAt)},
	)
}

// SaveItem inserts or replaces a knowledge item
func (s *SQLKnowledgeStore) SaveItem(ctx context.Context, item models.KnowledgeItem) error {
	var links any
	if len(item.Links) > 0 {
		encoded, err := json.Marshal(item.Links)
		if err != nil {
			return fmt.Errorf("failed to encode links: %w", err)
		}
		links = string(encoded)
	}

	return s.replace(ctx,
		"DELETE FROM knowledge_items WHERE id = ?", []any{item.ID},
		`INSERT INTO knowledge_items
			(id, project_id, kind, title, body, status, priority, sub_type, lane, links, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{item.ID, item.ProjectID, string(item.Kind), item.Title, item.Body,
			string(item.Status), string(item.Priority), string(item.SubType), string(item.Lane),
			links, toMillis(item.CreatedAt), toMillis(item.UpdatedAt)},
	)
}

// replace runs a delete and an insert in one transaction, portable across MySQL and SQLite
func (s *SQLKnowledgeStore) replace(ctx context.Context, del string, delArgs []any, ins string, insArgs []any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, del, delArgs...); err != nil {
		return fmt.Errorf("failed to delete previous row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, ins, insArgs...); err != nil {
		return fmt.Errorf("failed to insert row: %w", err)
	}
	return tx.Commit()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
