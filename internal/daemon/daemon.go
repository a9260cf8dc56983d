// Package daemon implements C8: the Daemon Core. It owns the Lock,
// Cache, Manifest, Watcher and IPC Server, runs the boot sequence
// (spec §4.8), and drives the main event loop that multiplexes watcher
// events, IPC connections, periodic flushes, and shutdown.
//
// The shape of Run — a boot sequence of ordered, individually-fallible
// steps followed by one event loop with a non-blocking shutdown check
// at the top of every iteration — is grounded on
// ppiankov-chainwatch/internal/daemon/daemon.go's Daemon.Run, adapted
// from that daemon's job-queue domain to this one's
// watch/scan/cache/flush domain.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ppiankov/discoveryd/internal/batch"
	"github.com/ppiankov/discoveryd/internal/cache"
	"github.com/ppiankov/discoveryd/internal/config"
	"github.com/ppiankov/discoveryd/internal/errs"
	"github.com/ppiankov/discoveryd/internal/ipc"
	"github.com/ppiankov/discoveryd/internal/lock"
	"github.com/ppiankov/discoveryd/internal/logging"
	"github.com/ppiankov/discoveryd/internal/manifest"
	"github.com/ppiankov/discoveryd/internal/metadata"
	"github.com/ppiankov/discoveryd/internal/scanner"
	"github.com/ppiankov/discoveryd/internal/strategy"
	"github.com/ppiankov/discoveryd/internal/watcher"
	"github.com/ppiankov/discoveryd/internal/writer"
)

const (
	flushInterval = 300 * time.Millisecond
	loopPoll      = 5 * time.Millisecond
	sourceExt     = ".php"
)

// Daemon is the running instance. Construct with New, run with Run.
type Daemon struct {
	cfg *config.Daemon
	log zerolog.Logger

	id       string
	strategy strategy.Strategy
	lock     *lock.Lock
	cache    *cache.Cache
	manifest *manifest.Manifest
	server   *ipc.Server
	watch    *watcher.Watcher
	batches  chan batch.Batch

	startTime time.Time
	dirty     bool
	lastFlush time.Time
}

// New constructs an unstarted Daemon from validated config.
func New(cfg *config.Daemon, log zerolog.Logger) *Daemon {
	return &Daemon{
		cfg: cfg,
		log: log,
		id:  uuid.NewString(),
	}
}

// Run executes the boot sequence (spec §4.8) and then the event loop
// until ctx is cancelled, performing a graceful shutdown on the way
// out. Any boot-step failure unwinds whatever was already acquired.
// Every goroutine Run spawns (watcher, batch collector, per-connection
// IPC serve) runs under guard, the panic hook boot step 4 calls for; a
// panic in Run's own body is caught by the deferred cleanup below,
// which Go still runs while a panic unwinds the stack.
func (d *Daemon) Run(ctx context.Context) error {
	d.log = d.log.With().Str("daemon_id", d.id).Logger()
	d.startTime = time.Now()

	d.strategy = strategy.Detect(d.cfg.OutputPath, d.cfg.WriteToDisk, d.log)

	lockPath := lock.PathFromOutput(d.cfg.OutputPath)
	l, err := lock.Acquire(lockPath, d.cfg.SocketPath, d.cfg.Force, ipc.Ping)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	d.lock = l
	defer d.cleanup()

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	m, loadErr := manifest.Load(manifestPath(d.cfg.OutputPath))
	if loadErr != nil {
		d.log.Warn().Err(loadErr).Msg("manifest missing or malformed, starting from an empty one")
	}
	d.manifest = m

	d.cache = cache.New(d.cfg.MaxCacheEntries, logging.Component(d.log, "cache"))

	if err := d.initialScan(); err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}

	if d.strategy == strategy.File {
		if err := d.flush(); err != nil {
			d.log.Warn().Err(err).Msg("initial cache flush failed")
		}
	}

	srv, err := ipc.Listen(d.cfg.SocketPath, d, d.cfg.MaxRequestSize, logging.Component(d.log, "ipc"))
	if err != nil {
		return fmt.Errorf("bind socket: %w", err)
	}
	d.server = srv

	w, err := watcher.New(d.cfg.Roots, sourceExt, logging.Component(d.log, "watcher"))
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	d.watch = w

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go d.guard("watcher", func() { w.Run(watchCtx) })

	d.batches = make(chan batch.Batch, 4)
	go d.guard("batch-collector", func() { d.collectBatches(w.Events) })

	d.eventLoop(ctx)
	return nil
}

func (d *Daemon) collectBatches(events <-chan watcher.Event) {
	collector := batch.NewCollector(events)
	for {
		b, ok := collector.Next()
		if !ok {
			return
		}
		d.batches <- b
	}
}

func (d *Daemon) eventLoop(ctx context.Context) {
	d.lastFlush = time.Now()
	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return
		case b := <-d.batches:
			d.applyBatch(b)
		default:
		}

		if conn, ok := d.server.Accept(); ok {
			go d.guard("ipc-serve", func() { d.server.Serve(conn) })
		}

		if d.strategy == strategy.File && d.dirty && time.Since(d.lastFlush) >= flushInterval {
			if err := d.flush(); err != nil {
				d.log.Warn().Err(err).Msg("periodic flush failed")
			}
		}

		time.Sleep(loopPoll)
	}
}

func (d *Daemon) applyBatch(b batch.Batch) {
	if b.Empty() {
		return
	}

	rescanned := scanner.ScanFiles(b.Mutated, d.cfg.MaxFileSize, logging.Component(d.log, "scanner"))

	// Mutated paths are cleared too, so a file that now yields no classes
	// does not keep its old entries.
	cleared := append(append([]string(nil), b.Removed...), b.Mutated...)
	d.cache.ApplyBatch(cleared, rescanned)

	for _, path := range b.Removed {
		d.manifest.Remove(path)
	}
	byFile := groupByFile(rescanned)
	for _, path := range b.Mutated {
		stat, err := manifest.StatOf(path)
		if err != nil {
			d.log.Warn().Str("file", path).Err(err).Msg("could not stat rescanned file for manifest update")
			continue
		}
		d.manifest.Update(path, stat, byFile[path])
	}

	d.dirty = true
	d.log.Debug().Int("mutated", len(b.Mutated)).Int("removed", len(b.Removed)).
		Int("cache_size", d.cache.Len()).Msg("batch applied")
}

func groupByFile(classes []metadata.Class) map[string][]metadata.Class {
	out := map[string][]metadata.Class{}
	for _, c := range classes {
		out[c.File] = append(out[c.File], c)
	}
	return out
}

// collectFileStats enumerates every source file under the configured
// roots (honouring the same ignore rules Scan does) and stats each one,
// giving the Manifest.Diff input spec §4.2 describes.
func collectFileStats(roots []string, ignore []string) (map[string]manifest.FileStat, error) {
	paths := scanner.Enumerate(roots, ignore)
	out := make(map[string]manifest.FileStat, len(paths))
	for _, p := range paths {
		stat, err := manifest.StatOf(p)
		if err != nil {
			continue // unstat-able files are skipped, spec §4.3 size gate
		}
		out[p] = stat
	}
	return out, nil
}

func (d *Daemon) initialScan() error {
	currentFiles, err := collectFileStats(d.cfg.Roots, d.cfg.Ignore)
	if err != nil {
		return err
	}

	if len(d.manifest.Files) == 0 {
		classes := scanner.Scan(scanner.Options{
			Roots:       d.cfg.Roots,
			Ignore:      d.cfg.Ignore,
			MaxFileSize: d.cfg.MaxFileSize,
			Log:         logging.Component(d.log, "scanner"),
		})
		d.cache.ApplyBatch(nil, classes)
		byFile := groupByFile(classes)
		for path, stat := range currentFiles {
			d.manifest.Update(path, stat, byFile[path])
		}
		return nil
	}

	changed, removed := d.manifest.Diff(currentFiles)
	rescanned := scanner.ScanFiles(changed, d.cfg.MaxFileSize, logging.Component(d.log, "scanner"))

	for _, path := range removed {
		d.manifest.Remove(path)
	}
	byFile := groupByFile(rescanned)
	for _, path := range changed {
		d.manifest.Update(path, currentFiles[path], byFile[path])
	}

	// Seed from the now-reconciled manifest so unchanged files' cached
	// classes survive the restart without a re-parse (spec §4.2).
	d.cache.ApplyBatch(nil, d.manifest.AllClasses())

	return nil
}

func (d *Daemon) flush() error {
	snap := d.cache.Snapshot()
	if err := writer.WriteCache(snap, d.cfg.OutputPath, writer.Format(d.cfg.Format), d.cfg.Pretty); err != nil {
		return err
	}
	if err := d.manifest.Save(manifestPath(d.cfg.OutputPath)); err != nil {
		return err
	}
	d.dirty = false
	d.lastFlush = time.Now()
	d.log.Info().Int("classes", len(snap)).Msg("cache flushed")
	return nil
}

// shutdown performs the final dirty flush (spec §4.8 "Shutdown"); the
// actual resource teardown runs once via Run's deferred cleanup.
func (d *Daemon) shutdown() {
	d.log.Info().Msg("graceful shutdown")
	if d.strategy == strategy.File && d.dirty {
		if err := d.flush(); err != nil {
			d.log.Warn().Err(err).Msg("final flush failed")
		}
	}
}

// cleanup removes the socket and PID files and releases the lock. It is
// safe to call more than once (e.g. once from guard, once deferred from
// Run) since each sub-step tolerates an already-missing resource.
func (d *Daemon) cleanup() {
	if d.watch != nil {
		_ = d.watch.Close()
	}
	if d.server != nil {
		_ = d.server.Close()
	}
	_ = os.Remove(d.cfg.SocketPath)
	_ = os.Remove(d.cfg.PIDPath)
	if d.lock != nil {
		if err := d.lock.Release(); err != nil {
			d.log.Warn().Err(err).Msg("lock release failed")
		}
	}
}

// guard is the panic hook spec §4.8 boot step 4 and spec §7's Panic
// kind require: it recovers a panic in a spawned goroutine, logs it
// with a stack trace, tears down the socket file, PID file and lock
// exactly as cleanup does on a normal shutdown, then re-panics so the
// process still terminates instead of limping on in an unknown state.
// Grounded on tomtom215-lyrebirdaudio-go/internal/util.SafeGo's
// recover-log-callback shape; unlike SafeGo this does not swallow the
// panic, since the daemon cannot safely keep serving once one of its
// core goroutines has died.
func (d *Daemon) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("goroutine", name).Str("kind", string(errs.KindPanic)).
				Bytes("stack", debug.Stack()).
				Msgf("recovered panic %v, tearing down", r)
			d.cleanup()
			panic(r)
		}
	}()
	fn()
}

func (d *Daemon) writePIDFile() error {
	if d.cfg.PIDPath == "" {
		return nil
	}
	return os.WriteFile(d.cfg.PIDPath, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func manifestPath(outputPath string) string {
	return filepath.Join(filepath.Dir(outputPath), manifest.FileName)
}

// --- ipc.Backend implementation ---

// GenerateCode renders the current cache snapshot in the configured
// output format (spec §4.7 getCode family).
func (d *Daemon) GenerateCode() (string, error) {
	return writer.Render(d.cache.Snapshot(), writer.Format(d.cfg.Format), d.cfg.Pretty)
}

// OutputPath reports the cache output path, only valid under File
// strategy (spec §4.7 getFilePath).
func (d *Daemon) OutputPath() (string, bool) {
	if d.strategy != strategy.File {
		return "", false
	}
	return d.cfg.OutputPath, true
}

// Stats reports the payload behind the "stats" IPC command.
func (d *Daemon) Stats() ipc.Stats {
	return ipc.Stats{
		Total:    d.cache.Len(),
		Strategy: d.strategy.String(),
		Uptime:   time.Since(d.startTime),
	}
}
