package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/crochetcal/internal/model"
)

const backupColumns = `id, filename, object_key, size_bytes, sha256, status, error_message, started_at, completed_at, created_at, updated_at`

type BackupStore struct {
	db *sql.DB
}

func NewBackupStore(db *sql.DB) *BackupStore {
	return &BackupStore{db: db}
}

func (s *BackupStore) Create(filename, objectKey string) (*model.Backup, error) {
	now := time.Now().UTC().Format(timestampLayout)
	result, err := s.db.Exec(
		`INSERT INTO backups (filename, object_key, status, started_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		filename, objectKey, model.BackupStatusPending, now, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create backup: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *BackupStore) GetByID(id int64) (*model.Backup, error) {
	b, err := scanBackup(s.db.QueryRow(`SELECT `+backupColumns+` FROM backups WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %d: %w", id, err)
	}
	return b, nil
}

func (s *BackupStore) List(limit int) ([]model.Backup, error) {
	rows, err := s.db.Query(`SELECT `+backupColumns+` FROM backups ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var backups []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}

func (s *BackupStore) UpdateStatus(id int64, status model.BackupStatus, errorMsg string) error {
	_, err := s.db.Exec(
		`UPDATE backups SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, nullString(errorMsg), time.Now().UTC().Format(timestampLayout), id,
	)
	if err != nil {
		return fmt.Errorf("update backup status: %w", err)
	}
	return nil
}

// UpdateCompleted marks the backup uploaded with its final size and digest.
func (s *BackupStore) UpdateCompleted(id, sizeBytes int64, sha256 string) error {
	now := time.Now().UTC().Format(timestampLayout)
	_, err := s.db.Exec(
		`UPDATE backups SET status = ?, size_bytes = ?, sha256 = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		model.BackupStatusCompleted, sizeBytes, nullString(sha256), now, now, id,
	)
	if err != nil {
		return fmt.Errorf("update backup completed: %w", err)
	}
	return nil
}

// DeleteOlderThan deletes backups created before the given time and returns
// the object keys of the deleted rows.
func (s *BackupStore) DeleteOlderThan(before time.Time) ([]string, error) {
	cutoff := before.UTC().Format(timestampLayout)
	rows, err := s.db.Query(`SELECT object_key FROM backups WHERE created_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("select old backups: %w", err)
	}

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan object key: %w", err)
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`DELETE FROM backups WHERE created_at < ?`, cutoff); err != nil {
		return nil, fmt.Errorf("delete old backups: %w", err)
	}
	return keys, nil
}

func scanBackup(row rowScanner) (*model.Backup, error) {
	var b model.Backup
	var digest, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime
	if err := row.Scan(&b.ID, &b.Filename, &b.ObjectKey, &b.SizeBytes, &digest, &b.Status, &errMsg,
		&startedAt, &completedAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.SHA256 = digest.String
	b.ErrorMessage = errMsg.String
	if startedAt.Valid {
		b.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}
	return &b, nil
}
