// Command edge runs the Edge Capture process (spec.md §4.D): it terminates
// the tracking-pixel HTTP endpoint, runs the twelve Fast Enrichments, and
// hands each captured hit to the Dispatcher for delivery to a co-located
// Forge process. Grounded on HttpIngester/main.go's config-flag-load-then-
// serve shape, generalized from a muxer-backed log ingester to an
// HTTP-facing one with its own loopback control server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gravwell/pixelforge/internal/config"
	"github.com/gravwell/pixelforge/internal/dcset"
	"github.com/gravwell/pixelforge/internal/dispatch"
	"github.com/gravwell/pixelforge/internal/edge"
	"github.com/gravwell/pixelforge/internal/enrich/fast"
	"github.com/gravwell/pixelforge/internal/geocache"
	"github.com/gravwell/pixelforge/internal/logging"
	"github.com/gravwell/pixelforge/internal/pipetransport"
	"github.com/gravwell/pixelforge/internal/store"
)

const defaultConfigLoc = `/opt/pixelforge/etc/edge.conf`

var (
	confLoc  = flag.String("config-file", defaultConfigLoc, "Location for configuration file")
	pipeAddr = flag.String("pipe-addr", "/var/run/pixelforge/pixelforge.pipe", "Unix socket path for the Edge-to-Forge pipe")
	bindAddr = flag.String("bind", ":8080", "Address the tracking pixel endpoint listens on")
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

	datacenter := dcset.New()
	if cfg.Datacenter_CIDR_Feed_Path != `` {
		if f, err := os.Open(cfg.Datacenter_CIDR_Feed_Path); err != nil {
			lg.Warnf("failed to open datacenter CIDR feed: %v", err)
		} else {
			if err := datacenter.Load(f); err != nil {
				lg.Warnf("failed to load datacenter CIDR feed: %v", err)
			}
			f.Close()
		}
	}

	geoSrc := store.NewGeoSource(st)
	geo := geocache.New(geoSrc, cfg.Geo_Cache_Warm_Size, cfg.GeoCacheWarmTTL())
	defer geo.Close()
	if top, err := geoSrc.TopHitIPs(ctx, 10000); err != nil {
		lg.Warnf("geo cache pre-warm failed: %v", err)
	} else {
		geo.PreWarm(top)
	}

	pipeline := fast.NewPipeline(fast.Config{
		Datacenter:   datacenter,
		Geo:          geo,
		MaxMindDB:    cfg.MaxMind_City_DB_Path,
		DNSTimeout:   cfg.ReverseDNSTimeout(),
		WhoisTimeout: cfg.WhoisTimeout(),
	})

	failover, err := dispatch.NewFailoverWriter(cfg.Failover_Directory)
	if err != nil {
		lg.Fatalf("failed to open failover directory: %v", err)
	}

	pipeClient := pipetransport.NewClient(*pipeAddr, cfg.Pipe_Secret, lg)
	defer pipeClient.Close()

	disp := dispatch.New(cfg.Queue_Capacity, pipeClient, failover, lg)
	go func() {
		if err := pipeClient.Dial(ctx); err != nil {
			lg.Warnf("initial pipe dial abandoned: %v", err)
		}
	}()

	trustList := trustListFrom(cfg.Dashboard_Allowed_IP)

	handler := &edge.Handler{
		Dispatcher: disp,
		Pipeline:   pipeline,
		Log:        lg,
		TrustProxy: trustList.contains,
		ScriptBody: scriptBody(cfg.Script_Template_Path, lg),
		// Cover the real DNS+WHOIS budgets plus slack for the other ten
		// near-instant enrichments, never less than either budget alone.
		EnrichTimeout: cfg.ReverseDNSTimeout() + cfg.WhoisTimeout() + time.Second,
	}

	controlSrv := &pipetransport.ControlServer{
		Health:   disp,
		Circuit:  disp,
		GeoCache: geo,
		Allow:    trustList.contains,
		Stats: func() (int, uint64) {
			s := disp.Stats()
			return s.QueueDepth, s.Dropped
		},
	}

	grp, gctx := errgroup.WithContext(ctx)

	// Dispatcher drain loop: Run exits as soon as gctx is canceled,
	// draining whatever is still queued before returning.
	grp.Go(func() error {
		disp.Run(gctx)
		return nil
	})

	// Failover catch-up: periodically replays undelivered records once
	// the pipe is healthy again.
	grp.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if disp.Healthy() {
					if err := dispatch.CatchUp(cfg.Failover_Directory, pipeClient.Write); err != nil {
						lg.Warnf("failover catch-up failed: %v", err)
					}
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	// Daily geo refresh: at the configured UTC hour, pull new upstream
	// geo rows past the geo-sync watermark and clear the hot tier; the
	// warm tier decays on its own TTL (spec.md §4.B).
	grp.Go(func() error {
		for {
			select {
			case <-time.After(untilNextSyncHour(time.Now().UTC(), cfg.Ip_Api_Sync_Hour_Utc)):
				if n, err := geoSrc.SyncFromUpstream(gctx); err != nil {
					lg.Warnf("daily geo sync failed: %v", err)
				} else {
					lg.Infof("daily geo sync applied %d upstream rows", n)
					geo.ClearHot()
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	pixelSrv := &http.Server{
		Addr:         *bindAddr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	grp.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		return pixelSrv.Shutdown(shCtx)
	})
	grp.Go(func() error {
		if err := pixelSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("pixel server: %w", err)
		}
		return nil
	})

	controlLn, err := pipetransport.Listen("127.0.0.1:0")
	if err != nil {
		lg.Fatalf("failed to bind control listener: %v", err)
	}
	lg.Infof("loopback control server listening on %s", controlLn.Addr())
	grp.Go(func() error {
		<-gctx.Done()
		controlLn.Close()
		return nil
	})
	grp.Go(func() error {
		if err := http.Serve(controlLn, controlSrv.Mux()); err != nil && !isClosedErr(err) {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})

	lg.Infof("edge listening on %s, dispatching to %s", *bindAddr, *pipeAddr)
	if err := grp.Wait(); err != nil {
		lg.Errorf("edge shutting down on error: %v", err)
	}
}

func isClosedErr(err error) bool {
	return err != nil && err.Error() != "" && (err == net.ErrClosed || errorsIsClosed(err))
}

func errorsIsClosed(err error) bool {
	return err.Error() == "use of closed network connection" ||
		err.Error() == "http: Server closed"
}

// scriptBody loads the opaque browser script template once and bakes the
// per-request pixel URL into it. The template is an external artifact;
// %COMPANY% and %PIXEL% are the only substitutions applied. A missing
// template leaves the /js endpoint serving 404.
func scriptBody(path string, lg *logging.Logger) func(company, pixel string) []byte {
	if path == `` {
		return nil
	}
	tmpl, err := os.ReadFile(path)
	if err != nil {
		lg.Warnf("failed to read script template %s: %v", path, err)
		return nil
	}
	return func(company, pixel string) []byte {
		out := strings.ReplaceAll(string(tmpl), "%COMPANY%", company)
		out = strings.ReplaceAll(out, "%PIXEL%", pixel)
		return []byte(out)
	}
}

// untilNextSyncHour returns the wait until the next occurrence of the
// given UTC hour, always at least a minute out so a sync that finishes
// within the same hour does not immediately rerun.
func untilNextSyncHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	for !next.After(now.Add(time.Minute)) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// trustSet is a simple allow-list of proxy peers permitted to set
// X-Forwarded-For, per spec.md §4.D's "configured trust list" language.
type trustSet struct {
	ips map[string]struct{}
}

func trustListFrom(entries []string) *trustSet {
	t := &trustSet{ips: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		t.ips[e] = struct{}{}
	}
	return t
}

func (t *trustSet) contains(ip net.IP) bool {
	_, ok := t.ips[ip.String()]
	return ok
}
