package uploaddb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"

	DefaultListLimit = 50
	maxInsertTries   = 3
)

// Upload is one finished save, successful or not.
type Upload struct {
	ID        string
	SessionID string
	Label     string
	Filename  string
	Status    string
	URL       sql.NullString
	MIMEType  string
	Bytes     int64
	Width     int
	Height    int
	Failure   sql.NullString
	Error     sql.NullString
	CreatedAt string
}

func Open(dsn string) (*sql.DB, error) {
	// Open a MySQL connection pool for upload history.
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	return db, nil
}

func Init(ctx context.Context, db *sql.DB) error {
	// Create the table when migrations have not been run, then check the id column.
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS uploads (
			id CHAR(36) PRIMARY KEY,
			session_id CHAR(36) NOT NULL,
			label VARCHAR(255) NOT NULL,
			filename VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			url TEXT,
			mime_type VARCHAR(64) NOT NULL,
			bytes BIGINT NOT NULL DEFAULT 0,
			width INT NOT NULL DEFAULT 0,
			height INT NOT NULL DEFAULT 0,
			failure VARCHAR(32),
			error TEXT,
			created_at VARCHAR(32) NOT NULL,
			INDEX idx_uploads_label_created (label, created_at)
		);
	`)
	if err != nil {
		return err
	}
	var columnType string
	if err := db.QueryRowContext(ctx, `
		SELECT COLUMN_TYPE
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = 'uploads' AND column_name = 'id'`,
	).Scan(&columnType); err != nil {
		return err
	}
	columnType = strings.ToLower(columnType)
	if !strings.HasPrefix(columnType, "char(36)") && !strings.HasPrefix(columnType, "varchar(36)") {
		return fmt.Errorf("uploads.id must be CHAR(36) or VARCHAR(36) for UUIDs; migrate existing table")
	}
	return nil
}

func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// InsertUpload stores u under a fresh id and returns the stored row.
func InsertUpload(ctx context.Context, db *sql.DB, u Upload) (Upload, error) {
	u.CreatedAt = NowISO()
	var err error
	for i := 0; i < maxInsertTries; i++ {
		u.ID = uuid.NewString()
		_, err = db.ExecContext(ctx,
			`INSERT INTO uploads (id, session_id, label, filename, status, url, mime_type, bytes, width, height, failure, error, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.SessionID, u.Label, u.Filename, u.Status, u.URL, u.MIMEType,
			u.Bytes, u.Width, u.Height, u.Failure, u.Error, u.CreatedAt,
		)
		if !isDuplicateKeyError(err) {
			break
		}
	}
	if err != nil {
		return Upload{}, err
	}
	return u, nil
}

func GetUpload(ctx context.Context, db *sql.DB, id string) (Upload, bool, error) {
	// Fetch an upload by ID; ok=false when not found.
	row := db.QueryRowContext(ctx,
		`SELECT id, session_id, label, filename, status, url, mime_type, bytes, width, height, failure, error, created_at
		 FROM uploads WHERE id = ?`, id,
	)
	u, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Upload{}, false, nil
		}
		return Upload{}, false, err
	}
	return u, true, nil
}

// ListUploads returns the newest uploads first, optionally for one label.
func ListUploads(ctx context.Context, db *sql.DB, label string, limit int) ([]Upload, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT id, session_id, label, filename, status, url, mime_type, bytes, width, height, failure, error, created_at
		FROM uploads`
	args := []any{}
	if label != "" {
		query += ` WHERE label = ?`
		args = append(args, label)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(s scanner) (Upload, error) {
	var u Upload
	err := s.Scan(&u.ID, &u.SessionID, &u.Label, &u.Filename, &u.Status, &u.URL, &u.MIMEType,
		&u.Bytes, &u.Width, &u.Height, &u.Failure, &u.Error, &u.CreatedAt)
	return u, err
}

func isDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
