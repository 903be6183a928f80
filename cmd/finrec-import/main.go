// Command finrec-import loads one spreadsheet from disk into a partition
// without going through the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"finrec/internal/backend"
	"finrec/internal/cli"
	"finrec/internal/core"
	"finrec/internal/log"
	"finrec/internal/services"
)

type importResult struct {
	UserID         string `json:"user_id"`
	Year           int    `json:"year"`
	File           string `json:"file"`
	RecordsWritten int    `json:"records_written"`
	Duplicates     int    `json:"duplicates"`
	Checksum       string `json:"checksum"`
}

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentImport)

	userID := flag.String("user", "", "user id owning the partition")
	year := flag.String("year", "", "partition year")
	timeout := flag.Duration("timeout", 2*time.Minute, "maximum time for the import")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: finrec-import -user <id> -year <yyyy> <file.xlsx|file.csv>")
		os.Exit(exitCode(core.ErrInvalidPartition))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	res, err := run(ctx, logger, *userID, *year, flag.Arg(0))
	if err != nil {
		logger.ErrorContext(ctx, "Import failed", log.NewFields().
			WithOperation(log.OpUpload).
			WithError(err).
			ToSlice()...)
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(exitCode(err))
	}

	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))
}

func run(ctx context.Context, logger *log.Logger, userID, year, path string) (importResult, error) {
	key, err := core.NewPartitionKey(userID, year)
	if err != nil {
		return importResult{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return importResult{}, &core.FileSystemError{Op: "read", Path: path, Err: err}
	}

	cfg := cli.LoadAndValidateConfig(logger)
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return importResult{}, err
	}
	if backendCfg.Type == backend.MemoryBackend {
		logger.WarnContext(ctx, "Memory backend selected, imported rows are discarded on exit")
	}

	be, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return importResult{}, &core.StorageError{Op: "open", Err: err}
	}
	defer func() {
		if cerr := be.Cleanup(); cerr != nil {
			logger.WarnContext(ctx, "Backend cleanup error", "error", cerr)
		}
	}()

	ingest := services.NewIngestService(be.Store, be.Publisher)
	res, err := ingest.Ingest(ctx, key, services.Source{Name: filepath.Base(path), Data: data})
	if err != nil {
		return importResult{}, err
	}

	logger.InfoContext(ctx, "Import stored", log.NewFields().
		WithOperation(log.OpUpload).
		WithPartition(key).
		WithUpload(filepath.Base(path), int64(len(data))).
		WithIngestResult(res.RecordsWritten, res.Duplicates, res.Checksum).
		ToSlice()...)

	return importResult{
		UserID:         key.UserID,
		Year:           key.Year,
		File:           path,
		RecordsWritten: res.RecordsWritten,
		Duplicates:     res.Duplicates,
		Checksum:       res.Checksum,
	}, nil
}

// exitCode maps an error category to the process exit status.
func exitCode(err error) int {
	switch core.Category(err) {
	case core.CategoryNone:
		return 0
	case core.CategoryValidation:
		return 2
	case core.CategoryDecode, core.CategoryInvalidMonth:
		return 3
	case core.CategoryStorage:
		return 4
	case core.CategoryFileSystem:
		return 5
	default:
		return 1
	}
}
