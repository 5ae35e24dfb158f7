package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trancheworks/cascade/internal/engine"
	"github.com/trancheworks/cascade/internal/loader"
	"github.com/trancheworks/cascade/internal/server"
	"github.com/trancheworks/cascade/internal/server/handler"
	"github.com/trancheworks/cascade/internal/service"
)

// RunMode executes the configured deal file against the configured
// periods file, in period order, and writes the JSON results to stdout.
// Everything happens in memory; nothing is persisted.
func (a *App) RunMode(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting run mode",
		slog.String("deal_file", a.cfg.Run.DealFile),
		slog.String("periods_file", a.cfg.Run.PeriodsFile),
	)

	deal, err := loader.LoadFile(a.cfg.Run.DealFile)
	if err != nil {
		return fmt.Errorf("run mode: %w", err)
	}
	inputs, err := loader.LoadPeriods(a.cfg.Run.PeriodsFile)
	if err != nil {
		return fmt.Errorf("run mode: %w", err)
	}

	eng := engine.New(a.logger)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := eng.RunPeriod(ctx, deal, in)
		if err != nil {
			return fmt.Errorf("run mode: period %d: %w", in.Period, err)
		}
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("run mode: encode period %d result: %w", in.Period, err)
		}
	}

	a.logger.InfoContext(ctx, "run mode finished",
		slog.String("deal_id", deal.ID),
		slog.Int("periods", len(inputs)),
	)
	return nil
}

// ServeMode starts the HTTP API backed by the wired stores and blocks
// until the context is cancelled, then shuts the server down gracefully.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.Int("port", a.cfg.Server.Port),
	)

	eng := engine.New(a.logger)
	dealSvc := service.NewDealService(deps.Deals, a.logger)
	runSvc := service.NewRunService(
		dealSvc, deps.States, deps.Ledgers, deps.Locks, deps.Results,
		eng, a.cfg.LockTTL(), a.logger,
	)
	if deps.Archiver != nil {
		runSvc.WithArchiver(deps.Archiver)
	}

	checks := make(map[string]handler.Pinger, len(deps.Health))
	for name, ping := range deps.Health {
		checks[name] = ping
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimitRPS,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(checks, a.logger),
			Deals:  handler.NewDealHandler(dealSvc, a.logger),
			Runs:   handler.NewRunHandler(runSvc, a.logger),
		},
		deps.Limiter,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}
