// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session runs a logging session against a connected target.
//
// A Manager owns two goroutines. The I/O goroutine reads the link and runs
// every byte through the stream decoder into the telemetry log. The
// housekeeping goroutine re-resolves symbols once the build artifact stops
// changing and persists the connection settings.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/heliograph/internal/config"
	"github.com/Thermoquad/heliograph/internal/symbols"
	"github.com/Thermoquad/heliograph/internal/telemetry"
	"github.com/Thermoquad/heliograph/pkg/varlog"
)

// Defaults
const (
	DefaultByteDelay            = time.Millisecond // target RX ring holds 64 bytes
	DefaultIdleSleep            = 10 * time.Millisecond
	DefaultHousekeepingInterval = 500 * time.Millisecond
	DefaultReadBufferSize       = 64 * 1024
)

// Session errors
var (
	ErrPortClosed    = errors.New("port is not open")
	ErrPortOpen      = errors.New("port is already open")
	ErrSessionActive = errors.New("a logging session is already running")
	ErrNoVariables   = errors.New("no variables to log")
	ErrSessionEnded  = errors.New("session stopped while starting")
)

// Link is the byte connection to the target
type Link = io.ReadWriteCloser

// ResolveFunc runs one symbol resolution pass
type ResolveFunc func(ctx context.Context, p symbols.Paths) (*symbols.Table, error)

// Options configure a Manager. Zero values select the defaults.
type Options struct {
	Settings  *config.Store
	Symbols   *symbols.Holder
	Log       *telemetry.Log
	Stats     *varlog.Statistics
	Logger    zerolog.Logger
	Resolve   ResolveFunc
	LogDir    string // session CSV directory, default telemetry.LogDir
	CachePath string // symbol table cache, empty disables caching

	ByteDelay            time.Duration
	IdleSleep            time.Duration
	HousekeepingInterval time.Duration
	ReadBufferSize       int
}

// Manager runs logging sessions over one link
type Manager struct {
	opts     Options
	logger   zerolog.Logger
	settings *config.Store
	symbols  *symbols.Holder
	log      *telemetry.Log
	stats    *varlog.Statistics
	detector *symbols.ChangeDetector

	mu        sync.Mutex // guards link, table and sessionID
	link      Link
	table     *varlog.FrameTable
	sessionID string

	writeMu   sync.Mutex // keeps paced commands from interleaving
	resolving atomic.Bool

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	runOnce  sync.Once
	shutOnce sync.Once
}

// NewManager creates a manager; call Run to start its goroutines
func NewManager(opts Options) *Manager {
	if opts.Settings == nil {
		opts.Settings = config.NewStore(config.DefaultSettingsPath, config.Defaults())
	}
	if opts.Symbols == nil {
		opts.Symbols = &symbols.Holder{}
	}
	if opts.Log == nil {
		opts.Log = telemetry.NewLog()
	}
	if opts.Stats == nil {
		opts.Stats = varlog.NewStatistics()
	}
	if opts.Resolve == nil {
		logger := opts.Logger
		opts.Resolve = func(ctx context.Context, p symbols.Paths) (*symbols.Table, error) {
			return symbols.Resolve(ctx, p, logger)
		}
	}
	if opts.LogDir == "" {
		opts.LogDir = telemetry.LogDir
	}
	if opts.ByteDelay < 0 {
		opts.ByteDelay = 0
	}
	if opts.IdleSleep <= 0 {
		opts.IdleSleep = DefaultIdleSleep
	}
	if opts.HousekeepingInterval <= 0 {
		opts.HousekeepingInterval = DefaultHousekeepingInterval
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:     opts,
		logger:   opts.Logger,
		settings: opts.Settings,
		symbols:  opts.Symbols,
		log:      opts.Log,
		stats:    opts.Stats,
		detector: symbols.NewChangeDetector(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Settings returns the settings store
func (m *Manager) Settings() *config.Store { return m.settings }

// Symbols returns the symbol table holder
func (m *Manager) Symbols() *symbols.Holder { return m.symbols }

// Log returns the telemetry log
func (m *Manager) Log() *telemetry.Log { return m.log }

// Stats returns the stream statistics
func (m *Manager) Stats() *varlog.Statistics { return m.stats }

// ============================================================
// Port
// ============================================================

// Open attaches a link to the manager
func (m *Manager) Open(link Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link != nil {
		return ErrPortOpen
	}
	m.link = link
	m.logger.Info().Msg("port opened")
	return nil
}

// IsPortOpen reports whether a link is attached
func (m *Manager) IsPortOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link != nil
}

// ClosePort stops any running session and closes the link
func (m *Manager) ClosePort() error {
	if m.log.Running() {
		m.Stop()
	}

	m.mu.Lock()
	link := m.link
	m.link = nil
	m.mu.Unlock()

	if link == nil {
		return ErrPortClosed
	}
	m.logger.Info().Msg("port closed")
	return link.Close()
}

func (m *Manager) currentLink() Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link
}

// Send writes bytes to the target one at a time, pausing ByteDelay after
// each so the target's receive ring never overflows. A write failure
// leaves the port open.
func (m *Manager) Send(data []byte) error {
	link := m.currentLink()
	if link == nil {
		return ErrPortClosed
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	for i := range data {
		if _, err := link.Write(data[i : i+1]); err != nil {
			m.logger.Error().Err(err).Int("written", i).Int("total", len(data)).Msg("serial write failed")
			return fmt.Errorf("write failed after %d of %d bytes: %w", i, len(data), err)
		}
		if m.opts.ByteDelay > 0 {
			time.Sleep(m.opts.ByteDelay)
		}
	}
	m.logger.Debug().Str("bytes", varlog.FormatHex(data)).Msg("sent")
	return nil
}

// ============================================================
// Session
// ============================================================

// Start configures the target with the selected variables and starts
// logging. Rejected variables are logged and left out; the call fails only
// when nothing can be logged or the command cannot be sent.
func (m *Manager) Start(selection []varlog.Selection) error {
	if !m.IsPortOpen() {
		return ErrPortClosed
	}
	if m.log.Running() {
		return ErrSessionActive
	}

	setup, errs := varlog.BuildSetup(selection)
	for _, err := range errs {
		var verr *varlog.VariableError
		if errors.As(err, &verr) {
			m.logger.Error().Err(verr.Err).Str("variable", verr.Name).Msg("variable rejected")
		} else {
			m.logger.Error().Err(err).Msg("variable rejected")
		}
	}
	names := setup.Table.Names()
	if len(names) == 0 {
		return ErrNoVariables
	}

	id := uuid.NewString()
	m.mu.Lock()
	m.table = setup.Table
	m.sessionID = id
	m.mu.Unlock()

	m.stats.Reset()
	// The log must be running before START goes out so the I/O goroutine
	// arms the decoder ahead of the target's FrameStart byte.
	m.log.Begin(names, telemetry.PathIn(m.opts.LogDir, time.Now()))

	if err := m.Send(setup.Command()); err != nil {
		m.log.End()
		return err
	}
	// A desync during the paced send stops the session from the I/O goroutine
	if !m.log.Running() {
		return ErrSessionEnded
	}

	m.logger.Info().
		Str("session", id).
		Strs("variables", names).
		Str("file", m.log.Path()).
		Msg("logging started")
	return nil
}

// Stop sends STOP_LOG and writes the session CSV before returning.
// Stopping an idle manager does nothing.
func (m *Manager) Stop() error {
	if !m.log.End() {
		return nil
	}

	var errs []error
	if err := m.Send([]byte{varlog.CmdStopLog}); err != nil {
		errs = append(errs, err)
	}

	if err := m.log.Save(); err != nil {
		m.logger.Error().Err(err).Msg("failed to save log")
		errs = append(errs, err)
	} else {
		m.logger.Info().
			Str("session", m.SessionID()).
			Int("rows", m.log.Rows()).
			Str("file", m.log.Path()).
			Msg("logging stopped")
	}
	return errors.Join(errs...)
}

// IsLogRunning reports whether a session is running
func (m *Manager) IsLogRunning() bool {
	return m.log.Running()
}

// IsResolving reports whether a symbol resolution pass is in progress
func (m *Manager) IsResolving() bool {
	return m.resolving.Load()
}

// SessionID returns the id of the current or last session
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// FrameTable returns the frame table of the current or last session
func (m *Manager) FrameTable() *varlog.FrameTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table
}

// ============================================================
// Goroutines
// ============================================================

// Run starts the I/O and housekeeping goroutines
func (m *Manager) Run() {
	m.runOnce.Do(func() {
		m.wg.Add(2)
		go m.ioLoop()
		go m.housekeepingLoop()
	})
}

// Shutdown stops the session, closes the port and waits for both
// goroutines to exit
func (m *Manager) Shutdown() {
	m.shutOnce.Do(func() {
		if m.log.Running() {
			m.Stop()
		}
		close(m.done)
		m.cancel()
		if m.IsPortOpen() {
			m.ClosePort()
		}
		m.wg.Wait()
		m.logger.Debug().Msg("session manager stopped")
	})
}

func (m *Manager) stopping() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// idle sleeps for d or until shutdown
func (m *Manager) idle(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-m.done:
	case <-timer.C:
	}
}

// ioLoop is the sole writer of decoded samples into the telemetry log
func (m *Manager) ioLoop() {
	defer m.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	buf := make([]byte, m.opts.ReadBufferSize)
	dec := varlog.NewDecoder()
	var failedLink Link

	for !m.stopping() {
		link := m.currentLink()
		if link == nil {
			dec.Disarm()
			m.idle(m.opts.IdleSleep)
			continue
		}

		start := time.Now()
		n, err := link.Read(buf)

		running := m.log.Running()
		if running {
			if table := m.FrameTable(); dec.Table() != table {
				dec.Arm(table)
			}
		} else if dec.Armed() {
			dec.Disarm()
		}

		if n > 0 {
			m.stats.AddBytes(n)
			m.decode(dec, buf[:n])
		}

		if err != nil {
			if link == m.currentLink() && link != failedLink && !m.stopping() {
				failedLink = link
				m.stats.AddReadError()
				m.logger.Error().Err(err).Msg("serial read failed")
			}
			m.idle(m.opts.IdleSleep)
			continue
		}

		m.stats.Loop(start)
		if running {
			runtime.Gosched()
		} else {
			m.idle(m.opts.IdleSleep)
		}
	}
}

// decode feeds a chunk through the decoder; a desync stops the session
func (m *Manager) decode(dec *varlog.Decoder, chunk []byte) {
	for _, b := range chunk {
		sample, err := dec.DecodeByte(b)
		m.stats.Update(sample, err)
		if err != nil {
			m.logger.Error().Err(err).Str("session", m.SessionID()).Msg("stream desynchronized, stopping session")
			dec.Disarm()
			m.Stop()
			return
		}
		if sample != nil && !m.log.Append(sample) && m.log.Running() {
			m.stats.AddStale()
		}
	}
}

func (m *Manager) housekeepingLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.HousekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.housekeep()
		}
	}
}

// housekeep runs one housekeeping pass
func (m *Manager) housekeep() {
	s := m.settings.Get()
	if m.detector.Poll(s.ELFFilePath) {
		m.refreshSymbols(s.Paths(), m.detector.ModTime())
	}
	if err := m.settings.Save(); err != nil {
		m.logger.Error().Err(err).Str("file", m.settings.Path()).Msg("failed to save settings")
	}
}

// ResolveSymbols runs a resolution pass now, bypassing change detection
func (m *Manager) ResolveSymbols(ctx context.Context) error {
	m.resolving.Store(true)
	defer m.resolving.Store(false)

	table, err := m.opts.Resolve(ctx, m.settings.Get().Paths())
	if err != nil {
		m.logger.Error().Err(err).Msg("symbol resolution failed")
		return err
	}
	m.symbols.Store(table)
	return nil
}

// refreshSymbols publishes a new table for a stable artifact, from the
// cache when it matches the artifact's modification time. A failed pass
// keeps the previous table.
func (m *Manager) refreshSymbols(paths symbols.Paths, modTime time.Time) {
	m.resolving.Store(true)
	defer m.resolving.Store(false)

	if m.opts.CachePath != "" {
		if table, err := symbols.LoadCache(m.opts.CachePath, modTime); err == nil {
			m.symbols.Store(table)
			m.logger.Info().Int("variables", table.Len()).Msg("symbols loaded from cache")
			return
		}
	}

	table, err := m.opts.Resolve(m.ctx, paths)
	if err != nil {
		m.logger.Error().Err(err).Str("elf", paths.ELF).Msg("symbol resolution failed")
		return
	}
	m.symbols.Store(table)

	if m.opts.CachePath != "" {
		if err := symbols.SaveCache(m.opts.CachePath, modTime, table); err != nil {
			m.logger.Warn().Err(err).Msg("failed to write symbol cache")
		}
	}
}
