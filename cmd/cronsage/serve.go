package main

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cronsage/internal/advisor"
	"cronsage/internal/config"
	"cronsage/internal/server"
	"cronsage/internal/storage"
	logx "cronsage/pkg/logx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the advisor service (HTTP API + periodic meta-learning)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	defer logSvc.Close()
	mgr.SetLogger(log)

	stCfg, err := storageConfig(cfg.Storage)
	if err != nil {
		return err
	}
	st, err := storage.Open(stCfg, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer st.Close()

	adv, err := advisor.New(ctx, advisorConfig(cfg), st, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// Periodic meta-learning on the configured cron schedules.
	runner := cron.New()
	if _, err := runner.AddFunc(cfg.Strategy.AdaptSchedule, func() {
		if err := adv.Adapt(gctx); err != nil {
			log.Warn("scheduled adapt failed", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("adapt schedule %q: %w", cfg.Strategy.AdaptSchedule, err)
	}
	if _, err := runner.AddFunc(cfg.Strategy.EvolveSchedule, func() {
		if err := adv.Evolve(gctx); err != nil {
			log.Warn("scheduled evolve failed", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("evolve schedule %q: %w", cfg.Strategy.EvolveSchedule, err)
	}
	runner.Start()
	g.Go(func() error {
		<-gctx.Done()
		<-runner.Stop().Done()
		return nil
	})

	if cfg.Server.Enabled {
		srvCfg, err := serverConfig(cfg.Server)
		if err != nil {
			return err
		}
		srv := server.New(srvCfg, adv, log)
		g.Go(func() error { return srv.Run(gctx) })
	} else {
		log.Info("http server disabled")
	}

	// Watch the config file; logging changes apply live, everything else
	// needs a restart.
	g.Go(func() error { return mgr.Watch(gctx) })
	g.Go(func() error {
		updates := mgr.Subscribe(1)
		defer mgr.Unsubscribe(updates)
		for {
			select {
			case <-gctx.Done():
				return nil
			case next, ok := <-updates:
				if !ok {
					return nil
				}
				logSvc.Apply(logx.Config{
					Level:   next.Logging.Level,
					Console: next.Logging.Console,
					File:    logx.FileConfig{Enabled: next.Logging.File.Enabled, Path: next.Logging.File.Path},
				})
				log.Info("config reloaded", logx.String("path", cfgPath))
			}
		}
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		log.Debug("sd_notify ready sent")
	}
	log.Info("cronsage started",
		logx.String("storage", cfg.Storage.Driver),
		logx.String("adapt", cfg.Strategy.AdaptSchedule),
		logx.String("evolve", cfg.Strategy.EvolveSchedule),
	)

	err = g.Wait()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
