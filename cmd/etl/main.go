// Command etl runs the periodic batch pipeline (spec.md §4.J–§4.L): the
// watermarked raw-to-visit ETL parser, the Identity Resolver, and the
// Scoring materializer, each run in dependency order on a fixed tick
// since Identity and Scoring both consume the Visit facts ETL produces.
// Grounded on HttpIngester/main.go's config-flag-load-then-serve shape,
// generalized from a request-driven server to a ticker-driven batch
// runner with the same graceful-shutdown posture.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gravwell/pixelforge/internal/config"
	"github.com/gravwell/pixelforge/internal/etl"
	"github.com/gravwell/pixelforge/internal/identity"
	"github.com/gravwell/pixelforge/internal/logging"
	"github.com/gravwell/pixelforge/internal/scoring"
	"github.com/gravwell/pixelforge/internal/store"
)

const defaultConfigLoc = `/opt/pixelforge/etc/etl.conf`

var (
	confLoc      = flag.String("config-file", defaultConfigLoc, "Location for configuration file")
	tickInterval = flag.Duration("interval", 30*time.Second, "How often to run the ETL/identity/scoring batch pass")
)

func main() {
	flag.Parse()
	cfg, err := config.Load(*confLoc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config file %q: %v\n", *confLoc, err)
		os.Exit(1)
	}

	lg, err := logging.NewFile(cfg.LogFilePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	lg.SetLevelString(cfg.Log_Level)
	defer lg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Connection_String)
	if err != nil {
		lg.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	parser := etl.New(st.Pool, lg)
	resolver := identity.New(st.Pool, store.NewConsumerProximity(st))
	materializer := scoring.NewMaterializer(st.Pool)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		runLoop(gctx, lg, *tickInterval, parser, resolver, materializer)
		return nil
	})

	lg.Infof("etl running every %s", tickInterval.String())
	if err := grp.Wait(); err != nil {
		lg.Errorf("etl shutting down on error: %v", err)
	}
}

func runLoop(ctx context.Context, lg *logging.Logger, interval time.Duration, parser *etl.Parser, resolver *identity.Resolver, materializer *scoring.Materializer) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runOnce(ctx, lg, parser, resolver, materializer)
	for {
		select {
		case <-ticker.C:
			runOnce(ctx, lg, parser, resolver, materializer)
		case <-ctx.Done():
			return
		}
	}
}

const candidateBatchLimit = 10000

func runOnce(ctx context.Context, lg *logging.Logger, parser *etl.Parser, resolver *identity.Resolver, materializer *scoring.Materializer) {
	etlResult, err := parser.Run(ctx)
	if err != nil {
		lg.Errorf("etl run failed: %v", err)
		return
	}
	if etlResult.RowsProcessed > 0 {
		lg.Infof("etl processed %d raw rows, inserted %d visits", etlResult.RowsProcessed, etlResult.VisitsInserted)
	}

	candidates, err := resolver.LoadCandidates(ctx, candidateBatchLimit)
	if err != nil {
		lg.Errorf("identity candidate load failed: %v", err)
	} else if len(candidates) > 0 {
		matched, err := resolver.Run(ctx, candidates, candidateBatchLimit)
		if err != nil {
			lg.Errorf("identity resolution failed: %v", err)
		} else {
			lg.Infof("identity resolved %d of %d candidates", matched, len(candidates))
		}
	}

	batch, err := materializer.LoadBatch(ctx, candidateBatchLimit)
	if err != nil {
		lg.Errorf("scoring batch load failed: %v", err)
	} else if len(batch) > 0 {
		scored, err := materializer.Run(ctx, batch)
		if err != nil {
			lg.Errorf("scoring run failed: %v", err)
		} else {
			lg.Infof("scoring materialized %d visits", scored)
		}
	}
}
