package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamadbah2/reqsync/internal/codec"
	"github.com/mamadbah2/reqsync/internal/domain/models"
	"github.com/mamadbah2/reqsync/internal/repository/ledger"
	"github.com/mamadbah2/reqsync/pkg/clients/sftp"
)

// ErrNoRecords indicates an import was requested without any records.
var ErrNoRecords = errors.New("no records to import")

// ErrInvalidPattern indicates a malformed filename filter.
var ErrInvalidPattern = errors.New("invalid filename pattern")

// ErrInvalidFileName indicates an import file name that is not a plain base
// name or does not match the requested format.
var ErrInvalidFileName = errors.New("invalid import file name")

const importFilePrefix = "RequisitionHeader_"

// Dialer opens a new transfer session.
type Dialer func(ctx context.Context) (sftp.Client, error)

// DialerFor returns a Dialer connecting with the given SFTP configuration.
func DialerFor(cfg sftp.Config) Dialer {
	return func(ctx context.Context) (sftp.Client, error) {
		session, err := sftp.Dial(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// Config holds directory layout and export policy.
type Config struct {
	RemoteExportDir     string
	RemoteImportDir     string
	LocalDownloadDir    string
	LocalUploadDir      string
	ExportFilter        string
	DeleteAfterDownload bool
	StrictExtensions    bool
	DefaultFormat       models.Format
}

// ExportOptions tunes one export run.
type ExportOptions struct {
	// Pattern is a glob matched against remote file names. Empty matches all.
	Pattern string
	// DeleteRemote removes each remote original after it is committed locally.
	DeleteRemote bool
	// StrictExtensions reports files with unsupported extensions as failures
	// instead of skipping them.
	StrictExtensions bool
}

// Service sequences transport and codec operations into export and import workflows.
type Service struct {
	cfg    Config
	dial   Dialer
	codec  *codec.Codec
	ledger ledger.Repository
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewService wires a transfer service.
func NewService(cfg Config, dial Dialer, c *codec.Codec, ledgerRepo ledger.Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = codec.New()
	}
	if ledgerRepo == nil {
		ledgerRepo = ledger.Nop{}
	}
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = models.FormatCSV
	}
	return &Service{
		cfg:    cfg,
		dial:   dial,
		codec:  c,
		ledger: ledgerRepo,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// DefaultExportOptions derives export options from the service configuration.
func (s *Service) DefaultExportOptions() ExportOptions {
	return ExportOptions{
		Pattern:          s.cfg.ExportFilter,
		DeleteRemote:     s.cfg.DeleteAfterDownload,
		StrictExtensions: s.cfg.StrictExtensions,
	}
}

// Export downloads every matching file from the remote export directory and
// returns the concatenated records. Per-file failures are recorded on the result
// and do not abort the batch.
func (s *Service) Export(ctx context.Context, opts ExportOptions) (models.ExportResult, error) {
	var result models.ExportResult

	if opts.Pattern != "" && !doublestar.ValidatePattern(opts.Pattern) {
		return result, fmt.Errorf("%w: %q", ErrInvalidPattern, opts.Pattern)
	}

	session, err := s.dial(ctx)
	if err != nil {
		return result, fmt.Errorf("connect: %w", err)
	}
	defer s.disconnect(session)

	names, err := session.List(ctx, s.cfg.RemoteExportDir)
	if err != nil {
		return result, fmt.Errorf("list export directory: %w", err)
	}
	s.logger.Info("listed export directory", zap.String("dir", s.cfg.RemoteExportDir), zap.Int("files", len(names)))

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if opts.Pattern != "" {
			matched, _ := doublestar.Match(opts.Pattern, name)
			if !matched {
				continue
			}
		}

		format, ok := models.FormatFromFilename(name)
		if !ok {
			outcome := models.FileOutcome{Name: name, Status: models.OutcomeSkipped}
			if opts.StrictExtensions {
				outcome.Status = models.OutcomeFailed
				outcome.Error = fmt.Sprintf("%v: %s", codec.ErrUnsupportedFormat, name)
			}
			s.logger.Debug("skipping file with unsupported extension", zap.String("file", name))
			result.Outcomes = append(result.Outcomes, outcome)
			continue
		}

		outcome, records := s.exportFile(ctx, session, name, format, opts.DeleteRemote)
		result.Outcomes = append(result.Outcomes, outcome)
		result.Records = append(result.Records, records...)
	}

	s.logger.Info("export finished", zap.Int("files", len(result.Outcomes)), zap.Int("records", len(result.Records)))
	return result, nil
}

func (s *Service) exportFile(ctx context.Context, session sftp.Client, name string, format models.Format, deleteRemote bool) (models.FileOutcome, []models.Record) {
	logger := s.logger.With(zap.String("file", name))
	artifact := models.Artifact{
		Name:       name,
		RemotePath: path.Join(s.cfg.RemoteExportDir, name),
		LocalPath:  filepath.Join(s.cfg.LocalDownloadDir, name),
		Format:     format,
	}
	outcome := models.FileOutcome{Name: name}

	fail := func(msg string, err error) (models.FileOutcome, []models.Record) {
		logger.Error(msg, zap.Error(err))
		outcome.Status = models.OutcomeFailed
		outcome.Error = err.Error()
		return outcome, nil
	}

	info, err := session.Stat(ctx, artifact.RemotePath)
	if err != nil {
		return fail("failed to stat remote file", err)
	}
	artifact.Size = info.Size()

	tmpPath, err := s.fetch(ctx, session, artifact)
	if err != nil {
		return fail("failed to download file", err)
	}
	artifact.Checksum, err = fileChecksum(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return fail("failed to checksum file", err)
	}

	if deleteRemote && s.alreadyCommitted(ctx, artifact) {
		_ = os.Remove(tmpPath)
		logger.Info("file already committed, retrying remote cleanup")
		return s.cleanup(ctx, session, artifact, outcome, logger), nil
	}

	if err := os.Rename(tmpPath, artifact.LocalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fail("failed to download file", fmt.Errorf("%w: rename into place: %w", sftp.ErrIO, err))
	}

	records, err := s.codec.ParseFile(artifact.LocalPath)
	if err != nil {
		return fail("failed to parse file", err)
	}
	outcome.Records = len(records)
	outcome.Status = models.OutcomeDownloaded
	logger.Info("file exported", zap.Int("records", len(records)), zap.Int64("bytes", artifact.Size))

	if !deleteRemote {
		return outcome, records
	}

	if err := s.ledger.MarkDownloaded(ctx, artifact); err != nil {
		logger.Warn("failed to record artifact in ledger", zap.Error(err))
	}
	return s.cleanup(ctx, session, artifact, outcome, logger), records
}

// fetch downloads to a temporary name and verifies it. The caller renames the
// returned path into place or removes it.
func (s *Service) fetch(ctx context.Context, session sftp.Client, artifact models.Artifact) (string, error) {
	tmpPath := fmt.Sprintf("%s.%s.part", artifact.LocalPath, s.newID())

	written, err := session.Download(ctx, artifact.RemotePath, tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	if err := verifyArtifact(tmpPath, artifact.Size, written); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	return tmpPath, nil
}

// alreadyCommitted reports whether the freshly fetched content matches what the
// ledger recorded before a failed remote delete.
func (s *Service) alreadyCommitted(ctx context.Context, artifact models.Artifact) bool {
	entry, err := s.ledger.Lookup(ctx, artifact.Name)
	if err != nil {
		s.logger.Warn("ledger lookup failed", zap.String("file", artifact.Name), zap.Error(err))
		return false
	}
	if entry == nil || entry.Status != ledger.StatusDownloaded || entry.Size != artifact.Size {
		return false
	}
	if entry.Checksum == "" || entry.Checksum != artifact.Checksum {
		return false
	}
	info, err := os.Stat(artifact.LocalPath)
	return err == nil && info.Size() == artifact.Size
}

// cleanup deletes the remote original. Failures are reported on the outcome only.
func (s *Service) cleanup(ctx context.Context, session sftp.Client, artifact models.Artifact, outcome models.FileOutcome, logger *zap.Logger) models.FileOutcome {
	if err := session.Remove(ctx, artifact.RemotePath); err != nil {
		logger.Warn("failed to delete remote file", zap.Error(err))
		outcome.Status = models.OutcomeDeleteFailed
		outcome.Error = err.Error()
		return outcome
	}

	if err := s.ledger.MarkRemoved(ctx, artifact.Name); err != nil {
		logger.Warn("failed to record remote deletion in ledger", zap.Error(err))
	}
	logger.Info("remote file deleted")
	outcome.Status = models.OutcomeDeleted
	return outcome
}

// Import serializes records to a local file and uploads it to the remote import
// directory. An empty fileName gets a timestamped default.
func (s *Service) Import(ctx context.Context, records []models.Record, format models.Format, fileName string) (bool, string, error) {
	if len(records) == 0 {
		return false, "", ErrNoRecords
	}
	if format == "" {
		format = s.cfg.DefaultFormat
	}

	fileName, err := s.importFileName(fileName, format)
	if err != nil {
		return false, "", err
	}

	localPath := filepath.Join(s.cfg.LocalUploadDir, fileName)
	if err := s.codec.WriteFile(localPath, records, format); err != nil {
		return false, "", fmt.Errorf("write import file: %w", err)
	}
	s.logger.Info("created requisition file", zap.String("path", localPath), zap.Int("records", len(records)))

	ok, err := s.UploadFiles(ctx, []string{localPath})
	return ok, localPath, err
}

// UploadFiles uploads existing local files to the remote import directory.
func (s *Service) UploadFiles(ctx context.Context, localPaths []string) (bool, error) {
	for _, p := range localPaths {
		if _, err := os.Stat(p); err != nil {
			return false, fmt.Errorf("%w: local %s", sftp.ErrNotFound, p)
		}
	}

	session, err := s.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer s.disconnect(session)

	for _, p := range localPaths {
		remotePath := path.Join(s.cfg.RemoteImportDir, filepath.Base(p))
		written, err := session.Upload(ctx, p, remotePath)
		if err != nil {
			s.logger.Error("upload failed", zap.String("file", p), zap.Error(err))
			return false, fmt.Errorf("upload %s: %w", filepath.Base(p), err)
		}
		s.logger.Info("file uploaded", zap.String("file", p), zap.String("remote", remotePath), zap.Int64("bytes", written))
	}
	return true, nil
}

// ImportFileName returns the default timestamped name for a new import file.
func (s *Service) ImportFileName(format models.Format) string {
	return fmt.Sprintf("%s%sZ%s", importFilePrefix, s.now().UTC().Format("20060102_150405"), format.Extension())
}

func (s *Service) importFileName(name string, format models.Format) (string, error) {
	if name == "" {
		return s.ImportFileName(format), nil
	}
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	if filepath.Ext(name) == "" {
		name += format.Extension()
	}
	if got, ok := models.FormatFromFilename(name); !ok || got != format {
		return "", fmt.Errorf("%w: %q does not match format %s", ErrInvalidFileName, name, format)
	}
	return name, nil
}

func (s *Service) disconnect(session sftp.Client) {
	if err := session.Close(); err != nil {
		s.logger.Warn("failed to close sftp session", zap.Error(err))
	}
}
