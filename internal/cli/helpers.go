package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/lherron/exportmerge/internal/config"
	"github.com/lherron/exportmerge/internal/ledger"
	"github.com/lherron/exportmerge/internal/record"
	"github.com/lherron/exportmerge/internal/snapshot"
	"golang.org/x/sync/errgroup"
)

// Exit codes
const (
	exitGeneral     = 1
	exitUsage       = 2
	exitDiscrepancy = 3
	exitMerge       = 4
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// exitError returns an error that will cause the CLI to exit with the given code
func exitError(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// ExitCode returns the exit code for err: 0 for nil, 1 unless err carries
// another code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *ExitError
	if errors.As(err, &e) {
		return e.Code
	}
	return exitGeneral
}

// resolveSources returns the --source overrides if given, otherwise the
// configured sources.
func resolveSources(cfg *config.Config, flags []string) ([]config.SourceConfig, error) {
	if len(flags) == 0 {
		return cfg.Sources, nil
	}
	sources, err := config.ParseSources(flags)
	if err != nil {
		return nil, exitError(exitUsage, err)
	}
	return sources, nil
}

// loadedSources are export files read in priority order.
type loadedSources struct {
	Stores []*record.Store
	Inputs []ledger.Input
}

// loadSources reads every source file concurrently. Order is preserved.
func loadSources(sources []config.SourceConfig, logger *slog.Logger) (*loadedSources, error) {
	out := &loadedSources{
		Stores: make([]*record.Store, len(sources)),
		Inputs: make([]ledger.Input, len(sources)),
	}

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			store, result, err := snapshot.LoadStore(src.Name, src.Path)
			if err != nil {
				return fmt.Errorf("source %s: %w", src.Name, err)
			}
			logger.Debug("loaded export", "source", src.Name, "path", src.Path, "records", result.Records, "rev", result.Rev)
			out.Stores[i] = store
			out.Inputs[i] = ledger.Input{Source: src.Name, Path: src.Path, Rev: result.Rev, Records: result.Records}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
