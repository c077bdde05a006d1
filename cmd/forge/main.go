// Command forge runs the Forge process (spec.md §4.G): it accepts the
// Edge's pipe connection, runs the nine Tier-2/3 enrichments against
// each decoded TrackingRecord, and hands the enriched row to the Bulk
// Writer for batched persistence. Grounded on HttpIngester/main.go's
// config-flag-load-then-serve shape, generalized to a pipe listener
// instead of an HTTP listener.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/gravwell/pixelforge/internal/bulkwriter"
	"github.com/gravwell/pixelforge/internal/config"
	"github.com/gravwell/pixelforge/internal/enrich/forge"
	"github.com/gravwell/pixelforge/internal/forgeserver"
	"github.com/gravwell/pixelforge/internal/logging"
	"github.com/gravwell/pixelforge/internal/record"
	"github.com/gravwell/pixelforge/internal/store"
)

const defaultConfigLoc = `/opt/pixelforge/etc/forge.conf`

var (
	confLoc  = flag.String("config-file", defaultConfigLoc, "Location for configuration file")
	pipeAddr = flag.String("pipe-addr", "/var/run/pixelforge/pixelforge.pipe", "Unix socket path to listen for the Edge's pipe connection")
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

	os.Remove(*pipeAddr)
	ln, err := net.Listen("unix", *pipeAddr)
	if err != nil {
		lg.Fatalf("failed to listen on pipe %s: %v", *pipeAddr, err)
	}

	pipeline := forge.NewPipeline()
	writer := bulkwriter.New(st, cfg.Batch_Size*10, lg)

	srv := &forgeserver.Server{
		Secret: cfg.Pipe_Secret,
		Log:    lg,
		Handler: func(rec record.TrackingRecord) {
			result := pipeline.Run(signalsFromRecord(rec))
			forgeJSON, err := json.Marshal(result)
			if err != nil {
				lg.Warnf("failed to marshal forge result: %v", err)
				forgeJSON = []byte("{}")
			}
			item := bulkwriter.Item{Record: rec, ForgeJSON: forgeJSON}
			if err := writer.Enqueue(ctx, item); err != nil {
				lg.Warnf("bulk writer enqueue abandoned: %v", err)
			}
		},
	}

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		writer.Run(gctx)
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		ln.Close()
		return nil
	})
	grp.Go(func() error {
		if err := srv.Serve(ln); err != nil && !isClosedErr(err) {
			return fmt.Errorf("pipe server: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		srv.Wait()
		return nil
	})

	lg.Infof("forge listening on %s", *pipeAddr)
	if err := grp.Wait(); err != nil {
		lg.Errorf("forge shutting down on error: %v", err)
	}
}

func isClosedErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "use of closed network connection")
}

// signalsFromRecord reassembles the forge.Signals a Tier-2/3 enrichment
// pass needs from a decoded TrackingRecord's `_cp_*` client params and
// the `_srv_*` flags Fast Enrichments already appended.
func signalsFromRecord(rec record.TrackingRecord) forge.Signals {
	qs := rec.QueryString
	cp := record.ExtractClientParams(qs)

	s := forge.Signals{
		CompanyID:   rec.CompanyID,
		PixelID:     rec.PixelID,
		IPAddress:   rec.IPAddress,
		RequestPath: rec.RequestPath,
		Fingerprint: cp["cv"] + "|" + cp["wgl"] + "|" + cp["aud"] + "|" + cp["fonts"] + "|" + cp["gpu"],

		CanvasHash:  cp["cv"],
		WebGLHash:   cp["wgl"],
		AudioHash:   cp["aud"],
		Fonts:       splitNonEmpty(cp["fonts"], ","),
		GPURenderer: cp["gpu"],

		MousePath:  cp["mpath"],
		MouseMoves: strings.Count(cp["mpath"], "|"),

		ScreenWidth:  atoiOr(cp["sw"], 0),
		ScreenHeight: atoiOr(cp["sh"], 0),
		CoresLogical: atoiOr(cp["cores"], 0),
		MemoryGB:     atoiOr(cp["mem"], 0),
		Platform:     cp["platform"],
		Browser:      cp["browser"],
		OS:           cp["os"],
		Language:     cp["lang"],
		Timezone:     cp["tz"],
		NumberFormat: cp["numfmt"],
		Calendar:     cp["cal"],
		TouchPoints:  atoiOr(cp["touch"], 0),
		Battery:      cp["battery"] == "1",
		WebDriver:    cp["webdriver"] == "1",
		VoiceCount:   atoiOr(cp["voices"], 0),

		GeoCountry:    paramOr(qs, "_srv_geoCC", "_srv_mmCC"),
		IsResidential: !hasParam(qs, "_srv_dcName") && !hasFlag(qs, "_srv_rdnsCloud"),
		IsDatacenter:  hasParam(qs, "_srv_dcName"),
		KnownBot:      hasFlag(qs, "_srv_knownBot"),
		// _srv_fpStability scores 0 as perfectly stable, higher as more
		// variation; an absent score means a first-seen IP, which counts
		// as consistent until it proves otherwise.
		ConsistentFingerprint: atoiOr(paramOr(qs, "_srv_fpStability", ""), 0) <= 20,
	}
	return s
}

func paramOr(qs string, keys ...string) string {
	for _, k := range keys {
		if v, ok := record.GetQueryParam(qs, k); ok && v != "" {
			return v
		}
	}
	return ""
}

func hasFlag(qs, key string) bool {
	v, ok := record.GetQueryParam(qs, key)
	return ok && (v == "" || v == "1")
}

func hasParam(qs, key string) bool {
	_, ok := record.GetQueryParam(qs, key)
	return ok
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
