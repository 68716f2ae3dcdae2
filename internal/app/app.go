package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mamadbah2/reqsync/internal/codec"
	"github.com/mamadbah2/reqsync/internal/config"
	"github.com/mamadbah2/reqsync/internal/domain/models"
	"github.com/mamadbah2/reqsync/internal/repository/ledger"
	"github.com/mamadbah2/reqsync/internal/repository/mongodb"
	"github.com/mamadbah2/reqsync/internal/repository/sheets"
	"github.com/mamadbah2/reqsync/internal/service/cycle"
	"github.com/mamadbah2/reqsync/internal/service/reporting"
	"github.com/mamadbah2/reqsync/internal/service/transfer"
	"github.com/mamadbah2/reqsync/pkg/clients/sftp"
	"github.com/mamadbah2/reqsync/pkg/clients/webhook"
)

// App holds the wired services shared by the daemon and the CLI.
type App struct {
	Config    *config.Config
	Transfer  *transfer.Service
	Runner    *cycle.Runner
	History   *mongodb.MongoDBRepository
	Reporting *reporting.Service

	ledger *ledger.SQLiteRepository
	logger *zap.Logger
}

// New builds every service from cfg. Optional integrations are wired only
// when configured. Callers must Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, logger: logger}

	shortRows, err := codec.ParseShortRowPolicy(cfg.Processing.ShortRows)
	if err != nil {
		return nil, err
	}
	format, err := models.ParseFormat(cfg.Processing.FileFormat)
	if err != nil {
		return nil, err
	}

	var ledgerRepo ledger.Repository = ledger.Nop{}
	if cfg.Ledger.Path != "" {
		a.ledger, err = ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("open transfer ledger: %w", err)
		}
		ledgerRepo = a.ledger
	}

	a.Transfer = transfer.NewService(
		TransferConfig(cfg, format),
		transfer.DialerFor(SFTPConfig(cfg.SFTP)),
		codec.New(codec.WithShortRowPolicy(shortRows)),
		ledgerRepo,
		logger.Named("svc.transfer"),
	)

	var opts []cycle.Option
	if cfg.MongoDB.URI != "" {
		a.History, err = mongodb.NewMongoDBRepository(ctx, cfg.MongoDB.URI, cfg.MongoDB.DBName)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("init mongodb repository: %w", err)
		}
		a.Reporting = reporting.NewService(a.History, logger.Named("svc.reporting"))
		opts = append(opts, cycle.WithReportStore(a.History))
	}

	if cfg.Sheets.Enabled() {
		sheetsRepo, err := sheets.NewGoogleSheetRepository(ctx, cfg.Sheets, logger.Named("repo.sheets"))
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("init sheets repository: %w", err)
		}
		opts = append(opts, cycle.WithRecordSink(sheetsRepo))
	}

	if cfg.Webhook.URL != "" {
		notifier, err := webhook.NewClient(cfg.Webhook)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		opts = append(opts, cycle.WithNotifier(notifier))
	}

	a.Runner = cycle.NewRunner(cycle.Config{
		MaxAttempts: cfg.Sync.MaxAttempts,
		BackoffMin:  cfg.Sync.BackoffMin.Std(),
		BackoffMax:  cfg.Sync.BackoffMax.Std(),
	}, a.Transfer, logger.Named("svc.cycle"), opts...)

	return a, nil
}

// Close releases the history store and the ledger.
func (a *App) Close(ctx context.Context) {
	if a.History != nil {
		if err := a.History.Close(ctx); err != nil {
			a.logger.Error("failed to close mongodb connection", zap.Error(err))
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Error("failed to close transfer ledger", zap.Error(err))
		}
	}
}

// SFTPConfig maps the configuration surface onto the transport client.
func SFTPConfig(cfg config.SFTPConfig) sftp.Config {
	return sftp.Config{
		Host:                 cfg.Host,
		Port:                 cfg.Port,
		User:                 cfg.Username,
		PrivateKeyPath:       cfg.PrivateKeyPath,
		PrivateKeyPassphrase: cfg.PrivateKeyPassphrase,
		KnownHostsPath:       cfg.KnownHostsPath,
		ConnectTimeout:       cfg.ConnectTimeout.Std(),
		TransferTimeout:      cfg.TransferTimeout.Std(),
	}
}

// TransferConfig maps directories and export policy onto the transfer service.
func TransferConfig(cfg *config.Config, format models.Format) transfer.Config {
	return transfer.Config{
		RemoteExportDir:     cfg.Paths.RemoteExportPath,
		RemoteImportDir:     cfg.Paths.RemoteImportPath,
		LocalDownloadDir:    cfg.Paths.LocalDownloadDir,
		LocalUploadDir:      cfg.Paths.LocalUploadDir,
		ExportFilter:        cfg.FilePatterns.ExportFilter,
		DeleteAfterDownload: cfg.Processing.DeleteAfterDownload,
		StrictExtensions:    cfg.Processing.StrictExtensions,
		DefaultFormat:       format,
	}
}
