// Package collabtext is the public facade over the collaborative-text
// core: one call to New gets a caller a running replica, wired to either
// a real TCP transport or an in-process one, with logging, metrics and
// tracing already initialized and an optional on-disk snapshot restored.
//
// Grounded on the teacher's pkg/knirvbase.DB (Options/New/Shutdown
// lifecycle; here New returns an error, not a panic, for an empty Site),
// narrowed from a multi-collection distributed database facade down to
// a single collaboratively-edited document.
package collabtext

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/knirvcorp/collabtext/internal/clock"
	"github.com/knirvcorp/collabtext/internal/document"
	"github.com/knirvcorp/collabtext/internal/logging"
	"github.com/knirvcorp/collabtext/internal/monitoring"
	"github.com/knirvcorp/collabtext/internal/network"
	"github.com/knirvcorp/collabtext/internal/persistence"
	"github.com/knirvcorp/collabtext/internal/replica"
	"github.com/knirvcorp/collabtext/internal/tracing"
	"github.com/knirvcorp/collabtext/internal/types"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Options contains configuration for the library.
type Options struct {
	// Site is this replica's identity. Required.
	Site types.SiteID

	// DataDir, if non-empty, enables snapshot persistence: the document
	// is restored from <DataDir>/<Site>.json on New and can be saved back
	// with Snapshot/Shutdown.
	DataDir string

	// ListenAddr, if non-empty, starts a TCPTransport listening on this
	// address. If empty, the replica gets a standalone in-memory
	// transport (a MemoryBus of one) that no other replica can reach — the
	// document stays local to this process.
	ListenAddr string

	// LogLevel/LogFormat configure zap (see internal/logging). Defaults:
	// "info" / "json".
	LogLevel  string
	LogFormat string

	// TracingEndpoint, if non-empty, initializes a Jaeger exporter
	// tagged with TracingServiceName (default "collabtext").
	TracingEndpoint    string
	TracingServiceName string

	// TickInterval drives the background retry/backoff loop. Zero
	// selects 1 second.
	TickInterval time.Duration

	Replica replica.Options
}

// Doc is the public handle to one replica's document.
type Doc struct {
	site types.SiteID

	r         *replica.Replica
	log       *logging.Logger
	metrics   *monitoring.Metrics
	tp        *sdktrace.TracerProvider
	transport network.Transport

	snapshotPath string

	mu       sync.Mutex
	stopTick chan struct{}
	stopped  bool
}

// New constructs a Doc: it sets up logging/metrics/tracing, restores a
// snapshot if DataDir is configured, attaches the chosen transport, and
// starts the background retry-tick loop.
func New(ctx context.Context, opts Options) (*Doc, error) {
	if opts.Site == "" {
		return nil, fmt.Errorf("collabtext: Site cannot be empty")
	}
	if ctx == nil {
		return nil, fmt.Errorf("collabtext: context cannot be nil")
	}

	level := opts.LogLevel
	if level == "" {
		level = "info"
	}
	format := opts.LogFormat
	if format == "" {
		format = "json"
	}
	log, err := logging.NewLogger(level, format)
	if err != nil {
		return nil, fmt.Errorf("collabtext: logger init: %w", err)
	}

	var tp *sdktrace.TracerProvider
	if opts.TracingEndpoint != "" {
		serviceName := opts.TracingServiceName
		if serviceName == "" {
			serviceName = "collabtext"
		}
		tp, err = tracing.InitTracer(serviceName, opts.TracingEndpoint)
		if err != nil {
			return nil, fmt.Errorf("collabtext: tracer init: %w", err)
		}
	}

	metrics := monitoring.NewMetrics()

	doc := document.New()
	clk := clock.NewVectorClock()
	var counter uint64
	var snapshotPath string
	if opts.DataDir != "" {
		snapshotPath = filepath.Join(opts.DataDir, string(opts.Site)+".json")
		clk, counter, err = persistence.Restore(snapshotPath, opts.Site, doc)
		if err != nil {
			return nil, fmt.Errorf("collabtext: restore snapshot: %w", err)
		}
	}

	ropts := opts.Replica
	ropts.Site = opts.Site
	ropts.Logger = log
	ropts.Metrics = metrics
	ropts.InitialClock = clk
	ropts.InitialCounter = counter
	r := replica.New(doc, ropts)

	var transport network.Transport
	if opts.ListenAddr != "" {
		transport, err = network.NewTCPTransport(ctx, opts.Site, opts.ListenAddr, log)
		if err != nil {
			return nil, fmt.Errorf("collabtext: start transport: %w", err)
		}
	} else {
		transport = network.NewMemoryBus().NewTransport(opts.Site)
	}
	if err := r.AttachTransport(transport); err != nil {
		return nil, err
	}

	tickInterval := opts.TickInterval
	if tickInterval <= 0 {
		tickInterval = time.Second
	}

	d := &Doc{
		site:         opts.Site,
		r:            r,
		log:          log,
		metrics:      metrics,
		tp:           tp,
		transport:    transport,
		snapshotPath: snapshotPath,
		stopTick:     make(chan struct{}),
	}
	go d.tickLoop(tickInterval)
	return d, nil
}

func (d *Doc) tickLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopTick:
			return
		case now := <-ticker.C:
			d.r.Tick(now)
		}
	}
}

// Addr returns the TCP address this Doc is listening on, if ListenAddr
// was set and a TCPTransport was created. Returns "" otherwise.
func (d *Doc) Addr() string {
	if t, ok := d.transport.(*network.TCPTransport); ok {
		return t.Addr()
	}
	return ""
}

// Connect dials a peer's TCP address and registers it as a connected
// site. Only valid when this Doc was created with a ListenAddr.
func (d *Doc) Connect(address string) (types.SiteID, error) {
	t, ok := d.transport.(*network.TCPTransport)
	if !ok {
		return "", fmt.Errorf("collabtext: Connect requires a TCP transport (set Options.ListenAddr)")
	}
	return t.Dial(address)
}

// Insert inserts value at visible position and broadcasts the result.
func (d *Doc) Insert(position uint32, value rune) (types.Operation, error) {
	return d.r.LocalInsert(position, value)
}

// Delete tombstones the character at visible position and broadcasts
// the result.
func (d *Doc) Delete(position uint32) (types.Operation, error) {
	return d.r.LocalDelete(position)
}

// Text returns the current visible document text.
func (d *Doc) Text() string { return d.r.Text() }

// ReportCursor broadcasts this site's caret position and optional
// selection.
func (d *Doc) ReportCursor(position uint32, selection *types.Selection) {
	d.r.ReportCursor(position, selection)
}

// TransformedCursor returns where site's cursor should currently be
// drawn, transformed for edits applied since its last report.
func (d *Doc) TransformedCursor(site types.SiteID) (uint32, bool) {
	return d.r.TransformedCursor(site)
}

// SetOnline toggles whether this Doc sends over its transport; inbound
// envelopes are still applied while offline.
func (d *Doc) SetOnline(online bool) { d.r.SetOnline(online) }

// GC runs tombstone collection against every peer clock this Doc has
// observed.
func (d *Doc) GC(keepRecent int, force bool) (int, error) {
	return d.r.GC(keepRecent, force)
}

// Snapshot persists the current document and clock to DataDir. A no-op
// returning nil if DataDir was not configured.
func (d *Doc) Snapshot() error {
	if d.snapshotPath == "" {
		return nil
	}
	return persistence.Save(d.snapshotPath, d.site, d.r.Document(), d.r.Clock(), d.r.Counter())
}

// Raw returns the underlying Replica for advanced usage, such as driving
// Tick explicitly rather than waiting on the background loop.
func (d *Doc) Raw() *replica.Replica { return d.r }

// Shutdown snapshots the document (if configured), stops the background
// tick loop, closes the transport and flushes tracing. Safe to call more
// than once.
func (d *Doc) Shutdown() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	close(d.stopTick)

	var firstErr error
	if err := d.Snapshot(); err != nil {
		firstErr = err
	}
	if err := d.transport.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if d.tp != nil {
		if err := d.tp.Shutdown(context.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
