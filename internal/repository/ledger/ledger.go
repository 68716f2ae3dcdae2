package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mamadbah2/reqsync/internal/domain/models"
)

// Status of an artifact in the ledger.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusRemoved    Status = "removed"
)

// Entry records an export artifact that was committed locally.
type Entry struct {
	ID           int64  `gorm:"primaryKey"`
	Name         string `gorm:"uniqueIndex;not null"`
	RemotePath   string
	LocalPath    string
	Size         int64
	Checksum     string
	Status       Status `gorm:"index"`
	DownloadedAt time.Time
	RemovedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName pins the table name.
func (Entry) TableName() string {
	return "artifacts"
}

// Repository tracks export progress so remote cleanup can resume across cycles.
type Repository interface {
	Lookup(ctx context.Context, name string) (*Entry, error)
	MarkDownloaded(ctx context.Context, artifact models.Artifact) error
	MarkRemoved(ctx context.Context, name string) error
}

// SQLiteRepository implements Repository with gorm over SQLite.
type SQLiteRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// Open creates (or reuses) the ledger database at path.
func Open(path string) (*SQLiteRepository, error) {
	if path == "" {
		return nil, errors.New("ledger path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

// Lookup returns the entry for name, or nil when the file was never committed.
func (r *SQLiteRepository) Lookup(ctx context.Context, name string) (*Entry, error) {
	var entry Entry
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup artifact %s: %w", name, err)
	}
	return &entry, nil
}

// MarkDownloaded upserts the artifact as committed locally.
func (r *SQLiteRepository) MarkDownloaded(ctx context.Context, artifact models.Artifact) error {
	entry := Entry{
		Name:         artifact.Name,
		RemotePath:   artifact.RemotePath,
		LocalPath:    artifact.LocalPath,
		Size:         artifact.Size,
		Checksum:     artifact.Checksum,
		Status:       StatusDownloaded,
		DownloadedAt: r.now().UTC(),
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"remote_path", "local_path", "size", "checksum", "status", "downloaded_at", "removed_at", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("mark %s downloaded: %w", artifact.Name, err)
	}
	return nil
}

// MarkRemoved flags the remote original as deleted.
func (r *SQLiteRepository) MarkRemoved(ctx context.Context, name string) error {
	now := r.now().UTC()
	res := r.db.WithContext(ctx).Model(&Entry{}).Where("name = ?", name).Updates(map[string]any{
		"status":     StatusRemoved,
		"removed_at": now,
	})
	if res.Error != nil {
		return fmt.Errorf("mark %s removed: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark %s removed: artifact not in ledger", name)
	}
	return nil
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Nop is a Repository that remembers nothing.
type Nop struct{}

func (Nop) Lookup(context.Context, string) (*Entry, error)        { return nil, nil }
func (Nop) MarkDownloaded(context.Context, models.Artifact) error { return nil }
func (Nop) MarkRemoved(context.Context, string) error             { return nil }
