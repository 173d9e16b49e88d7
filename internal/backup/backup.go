// Package backup snapshots the database, encrypts the snapshot and uploads it
// to S3-compatible storage.
package backup

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dukerupert/crochetcal/internal/model"
)

var (
	ErrDisabled   = errors.New("backups not configured")
	ErrInProgress = errors.New("backup already running")
)

// s3Client is the part of the S3 API the manager calls.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store records each backup attempt.
type Store interface {
	Create(filename, objectKey string) (*model.Backup, error)
	GetByID(id int64) (*model.Backup, error)
	UpdateStatus(id int64, status model.BackupStatus, errorMsg string) error
	UpdateCompleted(id, sizeBytes int64, sha256 string) error
	DeleteOlderThan(before time.Time) ([]string, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type Config struct {
	S3            S3Config
	Passphrase    string
	RetentionDays int
	// Prefix is prepended to every object key.
	Prefix string
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Manager runs encrypted backups. Only one runs at a time.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	status Status
	db     *sql.DB
	store  Store
	client s3Client
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a backup manager. Without a bucket, credentials and a
// passphrase the manager stays disabled and Run returns ErrDisabled.
func NewManager(cfg Config, db *sql.DB, st Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "backups/"
	}
	m := &Manager{
		cfg:    cfg,
		db:     db,
		store:  st,
		logger: logger,
		now:    time.Now,
		status: Status{State: StateDisabled},
	}

	if cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" && cfg.Passphrase != "" {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Run takes a backup now and then prunes expired ones.
func (m *Manager) Run(ctx context.Context) (*model.Backup, error) {
	m.mu.Lock()
	if m.client == nil {
		m.mu.Unlock()
		return nil, ErrDisabled
	}
	if m.status.State == StateRunning {
		m.mu.Unlock()
		return nil, ErrInProgress
	}
	prev := m.status
	m.status = Status{State: StateRunning, LastBackup: prev.LastBackup}
	m.mu.Unlock()

	record, err := m.run(ctx)
	if err != nil {
		m.setStatus(Status{State: StateError, LastBackup: prev.LastBackup, Error: err.Error()})
		return record, err
	}

	finished := m.now().UTC()
	m.setStatus(Status{State: StateIdle, LastBackup: &finished})

	if _, err := m.Cleanup(ctx); err != nil {
		m.logger.Warn("backup cleanup failed", "error", err)
	}
	return record, nil
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context) (*model.Backup, error) {
	filename := fmt.Sprintf("crochetcal-%s.db.enc", m.now().UTC().Format("2006-01-02T150405Z"))
	key := m.cfg.Prefix + filename

	record, err := m.store.Create(filename, key)
	if err != nil {
		return nil, fmt.Errorf("create backup record: %w", err)
	}
	fail := func(err error) (*model.Backup, error) {
		if uerr := m.store.UpdateStatus(record.ID, model.BackupStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("mark backup failed", "id", record.ID, "error", uerr)
		}
		return m.reload(record), err
	}

	tmpDir, err := os.MkdirTemp("", "crochetcal-backup-*")
	if err != nil {
		return fail(fmt.Errorf("create temp dir: %w", err))
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, snapshot); err != nil {
		return fail(fmt.Errorf("snapshot database: %w", err))
	}

	encrypted := filepath.Join(tmpDir, filename)
	if err := EncryptFile(snapshot, encrypted, m.cfg.Passphrase); err != nil {
		return fail(fmt.Errorf("encrypt: %w", err))
	}

	if err := m.store.UpdateStatus(record.ID, model.BackupStatusUploading, ""); err != nil {
		return fail(err)
	}

	f, err := os.Open(encrypted)
	if err != nil {
		return fail(fmt.Errorf("open encrypted file: %w", err))
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return fail(fmt.Errorf("stat encrypted file: %w", err))
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fail(fmt.Errorf("hash encrypted file: %w", err))
	}
	digest := hex.EncodeToString(h.Sum(nil))
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("rewind encrypted file: %w", err))
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fail(fmt.Errorf("upload to s3: %w", err))
	}

	if err := m.store.UpdateCompleted(record.ID, stat.Size(), digest); err != nil {
		return m.reload(record), err
	}
	m.logger.Info("backup uploaded", "key", key, "bytes", stat.Size(), "sha256", digest)
	return m.reload(record), nil
}

func (m *Manager) reload(record *model.Backup) *model.Backup {
	if fresh, err := m.store.GetByID(record.ID); err == nil && fresh != nil {
		return fresh
	}
	return record
}

// Cleanup deletes backups older than the retention period and reports how
// many records were removed.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return 0, nil
	}

	before := m.now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	keys, err := m.store.DeleteOlderThan(before)
	if err != nil {
		return 0, fmt.Errorf("delete old backups: %w", err)
	}

	for _, key := range keys {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete s3 object", "key", key, "error", err)
		}
	}
	return len(keys), nil
}
