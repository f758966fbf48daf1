// Package daemon runs the long-lived loopsmith process that tracks
// connected runs over the unix socket: registration, heartbeats, waiting
// states, and the per-run event mailbox.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"loopsmith/internal/config"
	"loopsmith/internal/lock"
	"loopsmith/internal/registry"
	"loopsmith/internal/uds"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Daemon owns the run registry, its liveness sweeper, and the UDS server.
type Daemon struct {
	dir      string
	config   *config.Config
	logLevel LogLevel
	logger   *log.Logger
	logFile  io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	registry *registry.Registry
	sweeper  *registry.Sweeper

	shutdown sync.Once
	cancel   context.CancelFunc
}

// New creates a daemon logging to <dir>/logs/daemon.log.
func New(dir string, cfg *config.Config) (*Daemon, error) {
	logPath := filepath.Join(dir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}
	return newDaemon(dir, cfg, logFile, logFile), nil
}

// newDaemon is the internal constructor for testing.
func newDaemon(dir string, cfg *config.Config, w io.Writer, closer io.Closer) *Daemon {
	d := &Daemon{
		dir:      dir,
		config:   cfg,
		logLevel: parseLogLevel(cfg.Logging.Level),
		logger:   log.New(w, "", 0),
		logFile:  closer,
		fileLock: lock.NewFileLock(filepath.Join(dir, "locks", "daemon.lock")),
		registry: registry.New(cfg.Registry.MailboxSize),
	}
	d.server = uds.NewServer(filepath.Join(dir, uds.SocketName), func(format string, args ...any) {
		d.log(LogLevelError, format, args...)
	})
	d.sweeper = registry.NewSweeper(
		d.registry,
		time.Duration(cfg.Registry.StaleAfterSec)*time.Second,
		time.Duration(cfg.Registry.SweepIntervalSec)*time.Second,
		func(runIDs []string) {
			for _, id := range runIDs {
				d.log(LogLevelWarn, "run marked stale run_id=%s", id)
			}
		},
	)
	return d
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(LogLevelInfo, "daemon starting pid=%d dir=%s", os.Getpid(), d.dir)

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start uds server: %w", err)
	}
	d.log(LogLevelInfo, "listening on %s", filepath.Join(d.dir, uds.SocketName))

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		err := d.sweeper.Run(gCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return d.waitSignals(gCtx)
	})

	err := g.Wait()
	d.Shutdown()
	return err
}

func (d *Daemon) waitSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		return nil
	case sig := <-sigCh:
		d.log(LogLevelInfo, "received signal=%s, shutting down", sig)
		go func() {
			<-sigCh
			d.log(LogLevelWarn, "received second signal, forcing exit")
			os.Exit(1)
		}()
		return nil
	}
}

// Shutdown stops the server and releases the lock. Idempotent.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(LogLevelInfo, "shutdown started")
		if d.cancel != nil {
			d.cancel()
		}
		if d.server != nil {
			_ = d.server.Stop()
		}
		d.cleanup()
		d.log(LogLevelInfo, "daemon stopped")
	})
}

func (d *Daemon) cleanup() {
	d.fileLock.Unlock()
	if d.logFile != nil {
		_ = d.logFile.Close()
	}
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	levelStr := [...]string{"DEBUG", "INFO", "WARN", "ERROR"}[level]
	d.logger.Printf("%s [%s] %s",
		time.Now().UTC().Format(time.RFC3339), levelStr, fmt.Sprintf(format, args...))
}
