package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/mamadbah2/reqsync/internal/app"
	"github.com/mamadbah2/reqsync/internal/codec"
	"github.com/mamadbah2/reqsync/internal/config"
	"github.com/mamadbah2/reqsync/internal/domain/models"
	"github.com/mamadbah2/reqsync/pkg/logger"
)

// runtime is the per-invocation environment shared by commands.
type runtime struct {
	app    *app.App
	logger *zap.Logger
}

func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := config.Load(c.String("config"), c.String("env-file"))
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, err
	}

	services, err := app.New(c.Context, cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	return &runtime{app: services, logger: log}, nil
}

func (r *runtime) Close() {
	r.app.Close(context.Background())
	_ = r.logger.Sync()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loadRecords reads records from a JSON array of objects, or from a CSV or XML
// file dispatched on its extension.
func loadRecords(path string) ([]models.Record, error) {
	if _, ok := models.FormatFromFilename(path); ok {
		return codec.New().ParseFile(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var records []models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: expected a JSON array of objects: %w", path, err)
	}
	return records, nil
}
