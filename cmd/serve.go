package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scanner/internal/api"
	"github.com/sells-group/lead-scanner/internal/cache"
	"github.com/sells-group/lead-scanner/internal/metrics"
	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/internal/scheduler"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for submitting and tracking scan jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		env, err := initEnv(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		sched, err := buildScheduler(env)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}

		deps := api.Dependencies{
			Jobs:        meteredJobs{env.Manager},
			Defaults:    env.Defaults,
			CORSOrigins: cfg.Server.CORSOrigins,
			LogTail:     cfg.Jobs.LogTail,
		}
		if cfg.Metrics.Enabled {
			deps.Metrics = promhttp.Handler()
		}

		srv := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      api.NewRouter(deps),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("starting server", zap.String("addr", cfg.Server.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- eris.Wrap(err, "server listen")
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				sched.Stop()
				return err
			}
		}

		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
		sched.Stop()
		if err := env.Manager.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("job manager shutdown", zap.Error(err))
		}
		return nil
	},
}

// buildScheduler registers the background maintenance tasks.
func buildScheduler(env *scanEnv) (*scheduler.Scheduler, error) {
	sched := scheduler.New()
	if err := sched.Add(scheduler.Task{
		Name:     "job-eviction",
		Interval: cfg.Jobs.EvictionInterval,
		Fn:       env.Manager.Evict,
	}); err != nil {
		return nil, err
	}
	if _, ok := env.Cache.(cache.Sweeper); ok && cfg.Cache.SweepEvery > 0 {
		if err := sched.Add(scheduler.Task{
			Name:     "cache-sweep",
			Interval: cfg.Cache.SweepEvery,
			Fn:       sweepCache(env.Cache),
		}); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// meteredJobs counts accepted submissions.
type meteredJobs struct {
	api.JobService
}

func (m meteredJobs) Submit(params model.SearchParams) (string, error) {
	id, err := m.JobService.Submit(params)
	if err == nil {
		metrics.JobSubmitted()
	}
	return id, err
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
