// README: serve command; runs the HTTP API with the monitor, matcher and position feeds.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httptransport "siaga/internal/http"
	"siaga/internal/infra"
	"siaga/internal/modules/location"
)

const purgeInterval = time.Hour

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the dispatch API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Env != "local" && cfg.Env != "test" {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			router := httptransport.NewRouter(httptransport.ServerDeps{
				Dispatch:      a.dispatch,
				Matching:      a.matching,
				Capacity:      a.capacity,
				Location:      a.location,
				Queue:         a.queue,
				Monitor:       a.monitor,
				LiveMaxAge:    cfg.Matching.PositionMaxAge,
				LocationRPS:   float64(cfg.HTTP.LocationRPS),
				LocationBurst: cfg.HTTP.LocationBurst,
			}, logger)
			server := httptransport.NewServer(cfg.HTTP.Addr, router)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.monitor.Run(gctx)
				return nil
			})
			g.Go(func() error {
				a.matching.RunScheduler(gctx)
				return nil
			})
			g.Go(func() error {
				runPurge(gctx, a)
				return nil
			})

			if cfg.NATS.URL != "" {
				nc, err := infra.NewNATS(cfg.NATS.URL, logger)
				if err != nil {
					logger.Warn("nats feed disabled", "err", err)
				} else {
					defer nc.Drain()
					feed := location.NewNATSFeed(nc, cfg.NATS.Subject, a.location, logger)
					g.Go(func() error { return feed.Run(gctx) })
				}
			}
			if cfg.Firebase.ProjectID != "" {
				client, err := infra.NewFirebaseDB(ctx, cfg.Firebase.ProjectID, cfg.Firebase.DatabaseURL, cfg.Firebase.CredentialsFile)
				if err != nil {
					logger.Warn("firebase feed disabled", "err", err)
				} else {
					feed := location.NewFirebaseFeed(client, a.location, cfg.Firebase.PollInterval, logger)
					g.Go(func() error {
						feed.Run(gctx)
						return nil
					})
				}
			}

			g.Go(func() error {
				logger.Info("http listening", "addr", cfg.HTTP.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})

			err = g.Wait()
			logger.Info("shutdown complete")
			return err
		},
	}
}

// runPurge drops terminal sync items past the retention window.
func runPurge(ctx context.Context, a *app) {
	if a.cfg.Sync.RetainTerminal <= 0 {
		return
	}
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.queue.Purge(ctx, a.cfg.Sync.RetainTerminal)
			if err != nil {
				a.logger.Warn("purge sync queue", "err", err)
				continue
			}
			if n > 0 {
				a.logger.Info("purged sync items", "count", n)
			}
		}
	}
}
