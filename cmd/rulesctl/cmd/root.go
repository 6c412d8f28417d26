package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liamcoop/fraudrules/internal/config"
	"github.com/liamcoop/fraudrules/internal/logger"
	"github.com/liamcoop/fraudrules/rules"
	"github.com/liamcoop/fraudrules/sampledata"
)

// RepoOpener returns the repository a command runs against and a function
// releasing its storage
type RepoOpener func(ctx context.Context) (*rules.Repository, func() error, error)

type app struct {
	open   RepoOpener
	output string
	actor  string
}

// Execute runs rulesctl against the storage configured in the environment
func Execute() error {
	return NewRootCmd(openConfigured).Execute()
}

// NewRootCmd builds the command tree over open
func NewRootCmd(open RepoOpener) *cobra.Command {
	a := &app{open: open}

	root := &cobra.Command{
		Use:   "rulesctl",
		Short: "Manage fraud rules in the configured store",
		Long: `rulesctl reads and writes the rule collection directly in the storage
slot selected by STORAGE_BACKEND and STORAGE_SLOT, without going through the API.

A running server keeps its own snapshot of the slot and re-reads it only when
STORE_CACHE_TTL expires. With the default TTL of 0 it never re-reads, so its
next write overwrites changes made here. Stop the server, or run it with a
non-zero STORE_CACHE_TTL, before editing a slot it also serves.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch a.output {
			case outputTable, outputJSON, outputYAML:
				return nil
			}
			return fmt.Errorf("unknown output format %q (use: table, json, yaml)", a.output)
		},
	}

	root.PersistentFlags().StringVarP(&a.output, "output", "o", outputTable, "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&a.actor, "as", "", "Acting user recorded on created versions")

	root.AddCommand(
		a.listCmd(),
		a.getCmd(),
		a.createCmd(),
		a.updateCmd(),
		a.deleteCmd(),
		a.statusCmd(),
		a.versionsCmd(),
		a.notesCmd(),
		a.cloneCmd(),
		a.publishCmd(),
		a.testCmd(),
	)
	return root
}

// withRepo opens the repository, runs fn and releases the storage
func (a *app) withRepo(cmd *cobra.Command, fn func(ctx context.Context, repo *rules.Repository) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.actor != "" {
		ctx = rules.WithActor(ctx, a.actor)
	}

	repo, closeFn, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	return fn(ctx, repo)
}

func openConfigured(ctx context.Context) (*rules.Repository, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(logger.Options{Level: cfg.LogLevel, Output: os.Stderr}); err != nil {
		return nil, nil, err
	}

	medium, closeFn, err := config.OpenMedium(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s storage: %w", cfg.StorageBackend, err)
	}

	store := rules.NewStore(medium, sampledata.Seed, rules.WithStoreLogger(logger.Logger))
	repo := rules.NewRepository(store, rules.WithRepositoryLogger(logger.Logger))
	return repo, closeFn, nil
}
