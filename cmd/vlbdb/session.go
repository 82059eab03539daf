package main

import (
	"github.com/spf13/cobra"

	"vlbdb/internal/batch"
	"vlbdb/internal/config"
	"vlbdb/internal/vlbdb"
)

// session is the configuration shared by commands that build units.
type session struct {
	cfg     config.Config
	opts    batch.Options
	cleanup func()
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	unitOpts, err := cfg.UnitOptions()
	if err != nil {
		return nil, err
	}
	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return nil, err
	}
	tracer, stopTracing, err := setupTracing(cmd, cfg)
	if err != nil {
		stopProfiling()
		return nil, err
	}
	cleanup := func() {
		stopTracing()
		stopProfiling()
	}
	return &session{
		cfg: cfg,
		opts: batch.Options{
			Unit:          append(unitOpts, vlbdb.WithTracer(tracer)),
			DefaultBudget: cfg.Engine.DefaultBudget,
		},
		cleanup: cleanup,
	}, nil
}
