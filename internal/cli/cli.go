// Package cli wires the pipeline workflows to their commands.
package cli

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"astrokeep/internal/config"
	"astrokeep/internal/scheduler"
	"astrokeep/internal/storage"
)

// Root carries the shared command dependencies.
type Root struct {
	cfg *config.Config
	log *slog.Logger
}

// NewRoot constructs the CLI root state.
func NewRoot(cfg *config.Config, logger *slog.Logger) *Root {
	return &Root{cfg: cfg, log: logger}
}

// openStore opens the acquisition database and seeds its reference rows.
func (r *Root) openStore() (*storage.Store, error) {
	store, err := storage.New(r.cfg.Paths.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening acquisition database: %w", err)
	}
	if err := store.SeedDefaults(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func (r *Root) openScheduler() (*scheduler.DB, error) {
	sched, err := scheduler.Open(r.cfg.Paths.SchedulerPath)
	if err != nil {
		return nil, fmt.Errorf("opening scheduler database: %w", err)
	}
	return sched, nil
}

// confirm asks the operator a yes/no question on the terminal.
func confirm(question string) bool {
	fmt.Printf("%s ", question)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
