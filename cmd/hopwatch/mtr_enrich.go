package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/hopwatch/hopwatch/internal/config"
	"github.com/hopwatch/hopwatch/internal/enrich"
	"github.com/hopwatch/hopwatch/internal/mtrengine"
)

// maxMindDB is the offline GeoLite2 database, set up once by
// setupMaxMind and shared by every hopEnricher for the life of the
// process.
var maxMindDB *enrich.MaxMindDB

// setupMaxMind opens (and downloads, if configured and necessary) the
// offline MaxMind databases. It is a no-op, returning (nil, nil), when the
// config doesn't enable MaxMind — callers then fall back to the online
// Team Cymru / ip-api.com lookups.
func setupMaxMind(c *config.Config) (*enrich.MaxMindDB, error) {
	if c == nil || !c.MaxMind.Enabled || c.MaxMind.LicenseKey == "" {
		return nil, nil
	}

	db, err := enrich.NewMaxMindDB(enrich.MaxMindDBConfig{
		LicenseKey: c.MaxMind.LicenseKey,
		ASNDBPath:  config.GetASNDBPath(),
		GeoDBPath:  config.GetGeoDBPath(),
	})
	if err != nil {
		return nil, err
	}

	if c.MaxMind.UpdateHours > 0 {
		maxAge := time.Duration(c.MaxMind.UpdateHours) * time.Hour
		if db.NeedsUpdate(maxAge) {
			fmt.Fprintf(os.Stderr, "Updating MaxMind databases...\n")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if err := db.DownloadDatabases(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to update MaxMind databases: %v\n", err)
			}
			cancel()
		}
	}

	if !db.HasASN() && !db.HasGeo() {
		fmt.Fprintf(os.Stderr, "Downloading MaxMind databases (first run)...\n")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		err := db.DownloadDatabases(ctx)
		cancel()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to download MaxMind databases: %w", err)
		}
	}

	return db, nil
}

// hopEnricher wraps enrich.Enricher with an async cache so the continuous
// probe session's render loop never blocks on rDNS/ASN/GeoIP lookups:
// Resolve returns immediately, populating the cache in the background on
// first sight of an address and serving from it on every snapshot after.
type hopEnricher struct {
	enricher *enrich.Enricher

	mu       sync.Mutex
	results  map[string]string
	inFlight map[string]bool
}

func newHopEnricher(enableASN, enableGeo bool) *hopEnricher {
	cfg := enrich.DefaultEnricherConfig()
	cfg.EnableRDNS = !noEnrich && !noRDNS
	cfg.EnableASN = !noEnrich && enableASN
	cfg.EnableGeoIP = !noEnrich && enableGeo
	cfg.MaxMind = maxMindDB
	return &hopEnricher{
		enricher: enrich.NewEnricher(cfg),
		results:  make(map[string]string),
		inFlight: make(map[string]bool),
	}
}

// Resolve implements output.HostResolver.
func (h *hopEnricher) Resolve(ip string) string {
	h.mu.Lock()
	if display, ok := h.results[ip]; ok {
		h.mu.Unlock()
		return display
	}
	if h.inFlight[ip] {
		h.mu.Unlock()
		return ""
	}
	h.inFlight[ip] = true
	h.mu.Unlock()

	go h.lookup(ip)
	return ""
}

func (h *hopEnricher) lookup(ip string) {
	defer func() {
		h.mu.Lock()
		delete(h.inFlight, ip)
		h.mu.Unlock()
	}()

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result := h.enricher.EnrichIP(ctx, parsed)
	if result == nil {
		return
	}

	display := ip
	if result.Hostname != "" {
		display = result.Hostname
	}
	if result.ASN != nil && result.ASN.Number > 0 {
		display = fmt.Sprintf("%s (AS%d %s)", display, result.ASN.Number, result.ASN.Org)
	}

	h.mu.Lock()
	h.results[ip] = display
	h.mu.Unlock()
}

func (h *hopEnricher) Close() error {
	return h.enricher.Close()
}

// warm resolves every hop address in snap synchronously, up to a short
// overall deadline, so a one-shot report doesn't print bare IPs just
// because its lookups hadn't completed in the background yet.
func (h *hopEnricher) warm(ctx context.Context, snap mtrengine.Snapshot) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, hop := range snap.Hops {
		if hop.Address == "" {
			continue
		}
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			h.lookup(ip)
		}(hop.Address)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
