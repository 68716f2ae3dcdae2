package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/reqsync/internal/codec"
	"github.com/mamadbah2/reqsync/internal/domain/models"
	"github.com/mamadbah2/reqsync/internal/repository/ledger"
	"github.com/mamadbah2/reqsync/pkg/clients/sftp"
)

type fakeInfo struct {
	name string
	size int64
}

func (i fakeInfo) Name() string       { return i.name }
func (i fakeInfo) Size() int64        { return i.size }
func (i fakeInfo) Mode() fs.FileMode  { return 0o644 }
func (i fakeInfo) ModTime() time.Time { return time.Time{} }
func (i fakeInfo) IsDir() bool        { return false }
func (i fakeInfo) Sys() any           { return nil }

// fakeRemote is an in-memory sftp.Client.
type fakeRemote struct {
	mu         sync.Mutex
	files      map[string][]byte
	truncate   map[string]bool
	failRemove map[string]bool
	listErr    error
	panicList  bool
	calls      []string
	closed     int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files:      map[string][]byte{},
		truncate:   map[string]bool{},
		failRemove: map[string]bool{},
	}
}

func (f *fakeRemote) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeRemote) List(_ context.Context, dir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list " + dir)
	if f.panicList {
		panic("listing exploded")
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	var names []string
	for p := range f.files {
		if path.Dir(p) == dir {
			names = append(names, path.Base(p))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeRemote) Stat(_ context.Context, remotePath string) (os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[remotePath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sftp.ErrNotFound, remotePath)
	}
	return fakeInfo{name: path.Base(remotePath), size: int64(len(data))}, nil
}

func (f *fakeRemote) Download(_ context.Context, remotePath, localPath string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("download " + path.Base(remotePath))
	data, ok := f.files[remotePath]
	if !ok {
		return 0, fmt.Errorf("%w: %s", sftp.ErrNotFound, remotePath)
	}
	if f.truncate[remotePath] {
		data = data[:len(data)/2]
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (f *fakeRemote) Upload(_ context.Context, localPath, remotePath string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("upload " + path.Base(remotePath))
	data, err := os.ReadFile(localPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", sftp.ErrNotFound, localPath)
	}
	f.files[remotePath] = data
	return int64(len(data)), nil
}

func (f *fakeRemote) Remove(_ context.Context, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove " + path.Base(remotePath))
	if f.failRemove[remotePath] {
		return fmt.Errorf("%w: permission denied", sftp.ErrIO)
	}
	delete(f.files, remotePath)
	return nil
}

func (f *fakeRemote) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type fixture struct {
	remote   *fakeRemote
	service  *Service
	localDir string
	dials    int
}

func newFixture(t *testing.T, repo ledger.Repository) *fixture {
	t.Helper()
	fx := &fixture{remote: newFakeRemote(), localDir: t.TempDir()}
	cfg := Config{
		RemoteExportDir:  "/export",
		RemoteImportDir:  "/import",
		LocalDownloadDir: filepath.Join(fx.localDir, "downloads"),
		LocalUploadDir:   filepath.Join(fx.localDir, "uploads"),
	}
	dial := func(context.Context) (sftp.Client, error) {
		fx.dials++
		return fx.remote, nil
	}
	fx.service = NewService(cfg, dial, codec.New(), repo, nil)
	fx.service.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }
	return fx
}

const csvExport = "requisition_number,description,quantity,unit_price\nREQ-1,Laptop,1,1200.0\nREQ-2,Mouse,3,25.50\n"

const xmlExport = `<?xml version="1.0"?>
<requisitions>
  <requisition>
    <requisition-number>REQ-9</requisition-number>
    <quantity>2</quantity>
  </requisition>
</requisitions>`

func TestExportCollectsRecordsFromAllFormats(t *testing.T) {
	fx := newFixture(t, nil)
	fx.remote.files["/export/a.csv"] = []byte(csvExport)
	fx.remote.files["/export/b.xml"] = []byte(xmlExport)
	fx.remote.files["/export/notes.pdf"] = []byte("%PDF")

	result, err := fx.service.Export(context.Background(), ExportOptions{})
	require.NoError(t, err)

	require.Len(t, result.Records, 3)
	assert.Equal(t, "REQ-1", result.Records[0].Text("requisition_number"))
	assert.Equal(t, "REQ-9", result.Records[2].Text("requisition_number"))
	qty, _ := result.Records[2].Get("quantity")
	assert.True(t, decimal.NewFromInt(2).Equal(qty.(decimal.Decimal)))

	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, models.OutcomeDownloaded, result.Outcomes[0].Status)
	assert.Equal(t, 2, result.Outcomes[0].Records)
	assert.Equal(t, models.OutcomeDownloaded, result.Outcomes[1].Status)
	assert.Equal(t, models.OutcomeSkipped, result.Outcomes[2].Status)

	assert.FileExists(t, filepath.Join(fx.localDir, "downloads", "a.csv"))
	assert.Contains(t, fx.remote.files, "/export/a.csv")
	assert.Equal(t, 1, fx.remote.closed)

	leftovers, err := filepath.Glob(filepath.Join(fx.localDir, "downloads", "*.part"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestExportStrictExtensionsReportsFailure(t *testing.T) {
	fx := newFixture(t, nil)
	fx.remote.files["/export/notes.pdf"] = []byte("%PDF")

	result, err := fx.service.Export(context.Background(), ExportOptions{StrictExtensions: true})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.True(t, result.Outcomes[0].Failed())
	assert.Contains(t, result.Outcomes[0].Error, "notes.pdf")
}

func TestExportAppliesPattern(t *testing.T) {
	fx := newFixture(t, nil)
	fx.remote.files["/export/RequisitionExport_1.csv"] = []byte(csvExport)
	fx.remote.files["/export/Other_1.csv"] = []byte(csvExport)

	result, err := fx.service.Export(context.Background(), ExportOptions{Pattern: "RequisitionExport_*.csv"})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, "RequisitionExport_1.csv", result.Outcomes[0].Name)
	assert.Len(t, result.Records, 2)
}

func TestExportRejectsInvalidPattern(t *testing.T) {
	fx := newFixture(t, nil)
	_, err := fx.service.Export(context.Background(), ExportOptions{Pattern: "[a-"})
	assert.ErrorIs(t, err, ErrInvalidPattern)
	assert.Zero(t, fx.dials)
}

func TestExportEmptyDirectory(t *testing.T) {
	fx := newFixture(t, nil)
	result, err := fx.service.Export(context.Background(), ExportOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.Empty(t, result.Outcomes)
	assert.Equal(t, 1, fx.remote.closed)
}

func TestExportParseFailureIsolatedToFile(t *testing.T) {
	fx := newFixture(t, nil)
	fx.remote.files["/export/bad.xml"] = []byte("<requisitions><requisition>")
	fx.remote.files["/export/good.csv"] = []byte(csvExport)

	result, err := fx.service.Export(context.Background(), ExportOptions{DeleteRemote: true})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, models.OutcomeFailed, result.Outcomes[0].Status)
	assert.Equal(t, models.OutcomeDeleted, result.Outcomes[1].Status)
	assert.Len(t, result.Records, 2)
	assert.Contains(t, fx.remote.files, "/export/bad.xml")
	assert.NotContains(t, fx.remote.files, "/export/good.csv")
}

func TestExportListFailureClosesSession(t *testing.T) {
	fx := newFixture(t, nil)
	fx.remote.listErr = fmt.Errorf("%w: boom", sftp.ErrIO)

	_, err := fx.service.Export(context.Background(), ExportOptions{})
	assert.ErrorIs(t, err, sftp.ErrIO)
	assert.Equal(t, 1, fx.remote.closed)
}

func TestExportPanicStillClosesSession(t *testing.T) {
	fx := newFixture(t, nil)
	fx.remote.panicList = true

	assert.Panics(t, func() {
		_, _ = fx.service.Export(context.Background(), ExportOptions{})
	})
	assert.Equal(t, 1, fx.remote.closed)
}

func TestExportDialFailure(t *testing.T) {
	svc := NewService(Config{}, func(context.Context) (sftp.Client, error) {
		return nil, fmt.Errorf("%w: refused", sftp.ErrConnection)
	}, nil, nil, nil)

	_, err := svc.Export(context.Background(), ExportOptions{})
	assert.ErrorIs(t, err, sftp.ErrConnection)
}

func TestExportWithCleanupDeletesAfterDownload(t *testing.T) {
	repo := openLedger(t)
	fx := newFixture(t, repo)
	fx.remote.files["/export/a.csv"] = []byte(csvExport)

	result, err := fx.service.Export(context.Background(), ExportOptions{DeleteRemote: true})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, models.OutcomeDeleted, result.Outcomes[0].Status)
	assert.Len(t, result.Records, 2)
	assert.Empty(t, fx.remote.files)
	assert.Equal(t, []string{"list /export", "download a.csv", "remove a.csv"}, fx.remote.calls)

	entry, err := repo.Lookup(context.Background(), "a.csv")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, ledger.StatusRemoved, entry.Status)
}

func TestExportWithCleanupKeepsRemoteOnVerificationFailure(t *testing.T) {
	fx := newFixture(t, nil)
	fx.remote.files["/export/a.csv"] = []byte(csvExport)
	fx.remote.truncate["/export/a.csv"] = true

	result, err := fx.service.Export(context.Background(), ExportOptions{DeleteRemote: true})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, models.OutcomeFailed, result.Outcomes[0].Status)
	assert.Contains(t, result.Outcomes[0].Error, ErrVerification.Error())
	assert.Contains(t, fx.remote.files, "/export/a.csv")
	assert.NoFileExists(t, filepath.Join(fx.localDir, "downloads", "a.csv"))

	leftovers, err := filepath.Glob(filepath.Join(fx.localDir, "downloads", "*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestExportWithCleanupResumesFailedDelete(t *testing.T) {
	repo := openLedger(t)
	fx := newFixture(t, repo)
	fx.remote.files["/export/a.csv"] = []byte(csvExport)
	fx.remote.failRemove["/export/a.csv"] = true

	first, err := fx.service.Export(context.Background(), ExportOptions{DeleteRemote: true})
	require.NoError(t, err)
	require.Len(t, first.Outcomes, 1)
	assert.Equal(t, models.OutcomeDeleteFailed, first.Outcomes[0].Status)
	assert.Len(t, first.Records, 2)
	assert.Contains(t, fx.remote.files, "/export/a.csv")

	fx.remote.failRemove["/export/a.csv"] = false
	fx.remote.calls = nil

	second, err := fx.service.Export(context.Background(), ExportOptions{DeleteRemote: true})
	require.NoError(t, err)
	require.Len(t, second.Outcomes, 1)
	assert.Equal(t, models.OutcomeDeleted, second.Outcomes[0].Status)
	assert.Empty(t, second.Records)
	assert.Equal(t, []string{"list /export", "download a.csv", "remove a.csv"}, fx.remote.calls)
	assert.Empty(t, fx.remote.files)

	leftovers, err := filepath.Glob(filepath.Join(fx.localDir, "downloads", "*.part"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestExportWithCleanupRereadsReplacedFileOfSameSize(t *testing.T) {
	repo := openLedger(t)
	fx := newFixture(t, repo)
	fx.remote.files["/export/a.csv"] = []byte(csvExport)
	fx.remote.failRemove["/export/a.csv"] = true

	first, err := fx.service.Export(context.Background(), ExportOptions{DeleteRemote: true})
	require.NoError(t, err)
	require.Len(t, first.Outcomes, 1)
	assert.Equal(t, models.OutcomeDeleteFailed, first.Outcomes[0].Status)

	replaced := strings.Replace(csvExport, "REQ-1", "REQ-7", 1)
	require.Len(t, replaced, len(csvExport))
	fx.remote.files["/export/a.csv"] = []byte(replaced)
	fx.remote.failRemove["/export/a.csv"] = false

	second, err := fx.service.Export(context.Background(), ExportOptions{DeleteRemote: true})
	require.NoError(t, err)
	require.Len(t, second.Outcomes, 1)
	assert.Equal(t, models.OutcomeDeleted, second.Outcomes[0].Status)
	require.Len(t, second.Records, 2)
	assert.Equal(t, "REQ-7", second.Records[0].Text("requisition_number"))
	assert.Empty(t, fx.remote.files)

	local, err := os.ReadFile(filepath.Join(fx.localDir, "downloads", "a.csv"))
	require.NoError(t, err)
	assert.Equal(t, replaced, string(local))

	entry, err := repo.Lookup(context.Background(), "a.csv")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, ledger.StatusRemoved, entry.Status)
	assert.Len(t, entry.Checksum, 64)
}

func TestExportRejectsBinaryContent(t *testing.T) {
	fx := newFixture(t, nil)
	fx.remote.files["/export/a.csv"] = []byte{0x00, 0x01, 0x02, 0x03, 0xff, 0xfe, 0x00, 0x00}

	result, err := fx.service.Export(context.Background(), ExportOptions{DeleteRemote: true})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, models.OutcomeFailed, result.Outcomes[0].Status)
	assert.Contains(t, fx.remote.files, "/export/a.csv")
}

func TestImportWritesAndUploads(t *testing.T) {
	fx := newFixture(t, nil)
	records := []models.Record{
		models.NewRecord(
			models.Field{Name: "requisition_number", Value: "REQ-1"},
			models.Field{Name: "quantity", Value: decimal.NewFromInt(1)},
		),
	}

	ok, localPath, err := fx.service.Import(context.Background(), records, models.FormatCSV, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "RequisitionHeader_20250304_050607Z.csv", filepath.Base(localPath))

	uploaded := fx.remote.files["/import/RequisitionHeader_20250304_050607Z.csv"]
	assert.Equal(t, "requisition_number,quantity\nREQ-1,1.0\n", string(uploaded))
	assert.Equal(t, 1, fx.remote.closed)
}

func TestImportNameHandling(t *testing.T) {
	fx := newFixture(t, nil)
	records := []models.Record{models.NewRecord(models.Field{Name: "requisition_number", Value: "REQ-1"})}

	_, localPath, err := fx.service.Import(context.Background(), records, models.FormatXML, "batch")
	require.NoError(t, err)
	assert.Equal(t, "batch.xml", filepath.Base(localPath))
	assert.True(t, strings.HasPrefix(string(fx.remote.files["/import/batch.xml"]), "<?xml"))

	_, _, err = fx.service.Import(context.Background(), records, models.FormatXML, "../escape.xml")
	assert.ErrorIs(t, err, ErrInvalidFileName)

	_, _, err = fx.service.Import(context.Background(), records, models.FormatXML, "batch.csv")
	assert.ErrorIs(t, err, ErrInvalidFileName)
}

func TestImportRequiresRecords(t *testing.T) {
	fx := newFixture(t, nil)
	ok, _, err := fx.service.Import(context.Background(), nil, models.FormatCSV, "")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNoRecords)
	assert.Zero(t, fx.dials)
}

func TestUploadMissingLocalFile(t *testing.T) {
	fx := newFixture(t, nil)
	ok, err := fx.service.UploadFiles(context.Background(), []string{filepath.Join(fx.localDir, "missing.csv")})
	assert.False(t, ok)
	assert.ErrorIs(t, err, sftp.ErrNotFound)
	assert.Zero(t, fx.dials)
}

func TestUploadDialFailure(t *testing.T) {
	local := filepath.Join(t.TempDir(), "a.csv")
	require.NoError(t, os.WriteFile(local, []byte(csvExport), 0o644))

	svc := NewService(Config{}, func(context.Context) (sftp.Client, error) {
		return nil, errors.Join(sftp.ErrConnection, errors.New("auth failed"))
	}, nil, nil, nil)

	ok, err := svc.UploadFiles(context.Background(), []string{local})
	assert.False(t, ok)
	assert.ErrorIs(t, err, sftp.ErrConnection)
}

func TestDefaultExportOptions(t *testing.T) {
	svc := NewService(Config{ExportFilter: "*.csv", DeleteAfterDownload: true, StrictExtensions: true}, nil, nil, nil, nil)
	assert.Equal(t, ExportOptions{Pattern: "*.csv", DeleteRemote: true, StrictExtensions: true}, svc.DefaultExportOptions())
}

func openLedger(t *testing.T) *ledger.SQLiteRepository {
	t.Helper()
	repo, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}
