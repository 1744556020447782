package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"yoloDetect/database"
	"yoloDetect/models"
)

const pgUniqueViolation = "23505"

// PostgresStore is the durable Store variant. Detections travel as a JSONB
// blob next to the scalar columns.
type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the task table if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS detection_tasks (
			id TEXT PRIMARY KEY,
			file_name TEXT NOT NULL,
			upload_time TIMESTAMPTZ NOT NULL,
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			file_type TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			detections JSONB NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_detection_tasks_upload_time
			ON detection_tasks (upload_time DESC);
	`

	if _, err := s.db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate detection_tasks: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, record *models.DetectionRecord) error {
	blob, err := marshalDetections(record.Detections)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO detection_tasks
			(id, file_name, upload_time, width, height, file_type, url, detections, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.db.Pool.Exec(ctx, query,
		record.ID,
		record.FileName,
		record.UploadTime,
		record.Width,
		record.Height,
		record.FileType,
		record.URL,
		blob,
		string(record.Status),
		record.Error,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert task: %w", err)
	}

	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.DetectionRecord, error) {
	query := `
		SELECT id, file_name, upload_time, width, height, file_type, url, detections, status, error_message
		FROM detection_tasks
		WHERE id = $1
	`

	record, err := scanRecord(s.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	return record, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.DetectionRecord, error) {
	query := `
		SELECT id, file_name, upload_time, width, height, file_type, url, detections, status, error_message
		FROM detection_tasks
		ORDER BY upload_time DESC
	`

	rows, err := s.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var records []*models.DetectionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.Pool.Exec(ctx, `DELETE FROM detection_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanRecord(row pgx.Row) (*models.DetectionRecord, error) {
	var (
		record models.DetectionRecord
		blob   []byte
		status string
	)

	err := row.Scan(
		&record.ID,
		&record.FileName,
		&record.UploadTime,
		&record.Width,
		&record.Height,
		&record.FileType,
		&record.URL,
		&blob,
		&status,
		&record.Error,
	)
	if err != nil {
		return nil, err
	}
	record.Status = models.RecordStatus(status)

	record.Detections, err = unmarshalDetections(blob)
	if err != nil {
		return nil, err
	}

	return &record, nil
}
