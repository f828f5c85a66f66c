// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package simulator

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/goburrow/serial"
)

// SerialConfig carries the line parameters used when the engine opens a
// serial port for RTU transport. The zero value selects 9600 8N1.
type SerialConfig struct {
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

func (c SerialConfig) withDefaults() SerialConfig {
	if c.BaudRate == 0 {
		c.BaudRate = 9600
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
	return c
}

// Engine ties a register store, a dispatcher, and a transport listener
// together behind a small lifecycle API. It is what the CLI drives: load a
// configuration, start serving on TCP or a serial port, poke registers and
// fault behavior at runtime, stop.
type Engine struct {
	mu      sync.Mutex
	logger  *slog.Logger
	store     *Store
	server    *Server
	port      serial.Port
	serveCh   chan error
	watchStop chan struct{}

	storeOpts  []StoreOption
	serverOpts []ServerOption
	serialCfg  SerialConfig
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger used by the engine, its dispatcher, and
// its server.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithStoreOptions forwards options to stores built by LoadConfig.
func WithStoreOptions(opts ...StoreOption) EngineOption {
	return func(e *Engine) { e.storeOpts = append(e.storeOpts, opts...) }
}

// WithServerOptions forwards options to servers built by Start.
func WithServerOptions(opts ...ServerOption) EngineOption {
	return func(e *Engine) { e.serverOpts = append(e.serverOpts, opts...) }
}

// WithSerialConfig sets the line parameters for RTU transport.
func WithSerialConfig(cfg SerialConfig) EngineOption {
	return func(e *Engine) { e.serialCfg = cfg }
}

// NewEngine returns an engine with an empty register store.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.store = NewStore(e.storeOpts...)
	return e
}

// LoadConfig replaces the engine's store with one built from the given
// configuration file. The engine must be stopped.
func (e *Engine) LoadConfig(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server != nil {
		return ErrServerRunning
	}
	store, err := LoadConfig(path, e.storeOpts...)
	if err != nil {
		return err
	}
	e.store = store
	e.logger.Info("configuration loaded", "path", path)
	return nil
}

// Reload rebuilds the register set from the configuration file and swaps it
// into the live store. Unlike LoadConfig it works while the engine is
// serving: the swap happens behind the store's lock, so requests in flight
// finish against the old registers and later requests see the new ones. A
// load failure leaves the current registers untouched.
func (e *Engine) Reload(path string) error {
	store, err := LoadConfig(path, e.storeOpts...)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.replaceFrom(store)
	e.logger.Info("configuration reloaded", "path", path)
	return nil
}

// WatchConfig polls the configuration file and reloads the register set
// whenever its modification time advances, so edits to the file show up on
// the wire without a restart. A non-positive interval polls once per second.
// Watching stops when the engine stops.
func (e *Engine) WatchConfig(path string, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}

	e.mu.Lock()
	if e.watchStop != nil {
		e.mu.Unlock()
		return ErrConfigWatched
	}
	stop := make(chan struct{})
	e.watchStop = stop
	e.mu.Unlock()

	var lastMod time.Time
	if fi, err := os.Stat(path); err == nil {
		lastMod = fi.ModTime()
	}

	e.logger.Info("watching configuration", "path", path, "interval", interval)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fi, err := os.Stat(path)
				if err != nil {
					continue
				}
				if !fi.ModTime().After(lastMod) {
					continue
				}
				lastMod = fi.ModTime()
				if err := e.Reload(path); err != nil {
					e.logger.Error("reload failed", "path", path, "error", err.Error())
				}
			}
		}
	}()
	return nil
}

// Store returns the engine's register store.
func (e *Engine) Store() *Store {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store
}

// Start begins serving in the background. For TCP transport, host and port
// name the listen address (host may be empty, port 0 picks an ephemeral
// port). For RTU transport, host is the serial device path and port is
// ignored in favor of the configured line parameters.
func (e *Engine) Start(host string, port int, transport TransportKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server != nil {
		return ErrServerRunning
	}

	dispatcher := NewDispatcher(e.store, e.logger)
	opts := append([]ServerOption{WithServerLogger(e.logger)}, e.serverOpts...)
	server := NewServer(dispatcher, opts...)
	serveCh := make(chan error, 1)

	switch transport {
	case TransportTCP:
		listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return err
		}
		e.logger.Info("server starting", "transport", transport.String(), "addr", listener.Addr().String())
		// Publish the listener before Serve runs so Addr is valid as soon
		// as Start returns.
		server.mu.Lock()
		server.listener = listener
		server.mu.Unlock()
		go func() { serveCh <- server.Serve(listener) }()
	case TransportRTU:
		cfg := e.serialCfg.withDefaults()
		p, err := serial.Open(&serial.Config{
			Address:  host,
			BaudRate: cfg.BaudRate,
			DataBits: cfg.DataBits,
			StopBits: cfg.StopBits,
			Parity:   cfg.Parity,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return fmt.Errorf("open serial port %s: %w", host, err)
		}
		e.port = p
		e.logger.Info("server starting", "transport", transport.String(), "device", host, "baud", cfg.BaudRate)
		go func() { serveCh <- server.ServeRTU(p) }()
	default:
		return fmt.Errorf("%w: %d", ErrUnknownTransport, transport)
	}

	e.server = server
	e.serveCh = serveCh
	return nil
}

// Serve is Start followed by a blocking wait; it returns when the engine is
// stopped or the listener fails.
func (e *Engine) Serve(host string, port int, transport TransportKind) error {
	if err := e.Start(host, port, transport); err != nil {
		return err
	}
	return e.Wait()
}

// Wait blocks until the running server exits and returns its serve error.
// Orderly shutdown reports nil.
func (e *Engine) Wait() error {
	e.mu.Lock()
	ch := e.serveCh
	e.mu.Unlock()
	if ch == nil {
		return ErrServerStopped
	}
	err := <-ch
	ch <- err
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Stop shuts the running server down, draining in-flight requests, stops
// any configuration watcher, and closes the serial port if RTU transport is
// in use.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watchStop != nil {
		close(e.watchStop)
		e.watchStop = nil
	}
	if e.server == nil {
		return ErrServerStopped
	}

	// For RTU the serial port must close first so the read loop unblocks
	// before Close waits on it.
	if e.port != nil {
		e.port.Close()
		e.port = nil
	}
	err := e.server.Close()
	e.server = nil
	e.serveCh = nil
	e.logger.Info("server stopped")
	return err
}

// Running reports whether the engine is currently serving.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.server != nil
}

// Addr returns the TCP listen address, or nil when not serving over TCP.
func (e *Engine) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server == nil {
		return nil
	}
	return e.server.Addr()
}

// Metrics returns the running server's metrics, or nil when stopped.
func (e *Engine) Metrics() *ServerMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server == nil {
		return nil
	}
	return e.server.Metrics()
}

// Snapshot returns the current state of every register of the given kind.
func (e *Engine) Snapshot(kind RegisterKind) ([]RegisterSnapshot, error) {
	return e.Store().Snapshot(kind)
}

// SetRegister sets a register's application-level value, bypassing fault
// injection and writability rules.
func (e *Engine) SetRegister(kind RegisterKind, addr uint16, value any) error {
	return e.Store().SetValue(kind, addr, value)
}

// SetErrorBehavior replaces a register's error behavior and resets its
// fault state.
func (e *Engine) SetErrorBehavior(kind RegisterKind, addr uint16, b ErrorBehavior) error {
	return e.Store().SetErrorBehavior(kind, addr, b)
}

// ResetFaultState clears a register's fault counters and any frozen stale
// snapshot.
func (e *Engine) ResetFaultState(kind RegisterKind, addr uint16) error {
	return e.Store().ResetFaultState(kind, addr)
}
