package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"cronsage/internal/advisor"
	"cronsage/internal/analyzer"
	"cronsage/internal/config"
	"cronsage/internal/predictor"
	"cronsage/internal/server"
	"cronsage/internal/storage"
	"cronsage/internal/strategy"
	logx "cronsage/pkg/logx"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "cronsage",
	Short:         "schedule prediction advisor for recurring jobs",
	Long:          "cronsage learns from job execution history and recommends cron schedules\nthat maximize success likelihood while avoiding congestion and conflicts.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	rootCmd.AddCommand(
		serveCmd,
		recordCmd,
		predictCmd,
		trackCmd,
		reportCmd,
		accuracyCmd,
		exportCmd,
		adaptCmd,
		evolveCmd,
	)
}

// env bundles what a one-shot command needs: parsed config, a console
// logger, an opened store, and the advisor on top.
type env struct {
	cfg *config.Config
	log logx.Logger
	adv *advisor.Advisor

	store storage.Store
}

func (e *env) close() {
	if e.store != nil {
		_ = e.store.Close()
	}
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	log := logx.NewConsole(cfg.Logging.Level)

	stCfg, err := storageConfig(cfg.Storage)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(stCfg, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	adv, err := advisor.New(ctx, advisorConfig(cfg), st, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &env{cfg: cfg, log: log, adv: adv, store: st}, nil
}

func storageConfig(c config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy}, nil
}

// advisorConfig maps the validated file config onto component configs.
// Duration strings were already validated, so parse errors cannot occur here.
func advisorConfig(c *config.Config) advisor.Config {
	low, _ := config.ParseDurationOrDefault("analyzer.low_duration_max", c.Analyzer.LowDurationMax, 0)
	medium, _ := config.ParseDurationOrDefault("analyzer.medium_duration_max", c.Analyzer.MediumDurationMax, 0)

	return advisor.Config{
		Analyzer: analyzer.Config{
			ConflictOverlapThreshold: c.Analyzer.ConflictOverlapThreshold,
			CPUThreshold:             c.Analyzer.CPUThreshold,
			MemoryThreshold:          c.Analyzer.MemoryThreshold,
			LowDurationMax:           low,
			MediumDurationMax:        medium,
		},
		Predictor: predictor.Config{
			DefaultSchedule:        c.Predictor.DefaultSchedule,
			DefaultDurationSeconds: c.Predictor.DefaultDurationSeconds,
			ConfidenceSaturation:   c.Predictor.ConfidenceSaturation,
		},
		Strategy: strategy.Config{
			TrendWindow:            c.Strategy.TrendWindow,
			TrendVarianceThreshold: c.Strategy.TrendVarianceThreshold,
			TrendSlopeThreshold:    c.Strategy.TrendSlopeThreshold,
			EliteCount:             c.Strategy.EliteCount,
			MinPopulation:          c.Strategy.MinPopulation,
			MaxPopulation:          c.Strategy.MaxPopulation,
			MutationScale:          c.Strategy.MutationScale,
			RepresentativeJobs:     c.Strategy.RepresentativeJobs,
		},
	}
}

func serverConfig(c config.ServerConfig) (server.Config, error) {
	read, err := config.ParseDurationOrDefault("server.read_timeout", c.ReadTimeout, 10*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("server.write_timeout", c.WriteTimeout, 30*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("server.idle_timeout", c.IdleTimeout, 2*time.Minute)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Addr:         c.Addr,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		RatePerSec:   c.RatePerSec,
	}, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}
