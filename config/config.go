// Package config loads and hot-reloads the runtime's YAML configuration
// (connect timeout, default receive timeout, HTTP buffer/body caps, and
// the scheduler/I/O worker counts), grounded on gopkg.in/yaml.v3 plus a
// github.com/fsnotify/fsnotify watcher — the same dependency pairing the
// recera-vango teacher uses for its dev-server config reload
// (cmd/vango/dev.go), generalized here from "reload and rebuild a web
// project" to "reload and re-validate a runtime's tunables".
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the runtime's tunable surface.
type Config struct {
	// Workers is the number of scheduler/I/O-manager worker threads. 0
	// means "use runtime.GOMAXPROCS(0)".
	Workers int `yaml:"workers"`

	// ConnectTimeout is a connect timeout for callers to pass to
	// hook.DialTimeout. No package in this module reads it; DialTimeout
	// uses only the timeout argument it is given.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// DefaultReceiveTimeout is a per-connection read timeout for servers;
	// cmd/fiberd-echo assigns it to tcpserver.Server.RecvTimeout. It is not
	// applied to a hook.Conn automatically.
	DefaultReceiveTimeout time.Duration `yaml:"default_receive_timeout"`

	// HTTP holds limits specific to package httpserver.
	HTTP HTTPConfig `yaml:"http"`
}

// HTTPConfig bounds the demonstration HTTP server's parsing.
type HTTPConfig struct {
	MaxHeaderBytes int `yaml:"max_header_bytes"`
	MaxBodyBytes   int `yaml:"max_body_bytes"`
	ReadBufferSize int `yaml:"read_buffer_size"`
}

// Default returns the runtime's built-in configuration, used whenever no
// file is supplied or a field is left zero after loading one.
func Default() Config {
	return Config{
		Workers:               0,
		ConnectTimeout:        5 * time.Second,
		DefaultReceiveTimeout: 30 * time.Second,
		HTTP: HTTPConfig{
			MaxHeaderBytes: 8 << 10,
			MaxBodyBytes:   4 << 20,
			ReadBufferSize: 4096,
		},
	}
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Workers == 0 {
		c.Workers = d.Workers
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.DefaultReceiveTimeout == 0 {
		c.DefaultReceiveTimeout = d.DefaultReceiveTimeout
	}
	if c.HTTP.MaxHeaderBytes == 0 {
		c.HTTP.MaxHeaderBytes = d.HTTP.MaxHeaderBytes
	}
	if c.HTTP.MaxBodyBytes == 0 {
		c.HTTP.MaxBodyBytes = d.HTTP.MaxBodyBytes
	}
	if c.HTTP.ReadBufferSize == 0 {
		c.HTTP.ReadBufferSize = d.HTTP.ReadBufferSize
	}
}

// Load reads and parses a YAML config file, filling any zero-valued
// field from Default.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	c.applyDefaults()
	return c, nil
}

// Watcher reloads a Config from disk whenever its file changes, grounded
// on recera-vango's devServer.watcher (cmd/vango/dev.go).
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher

	mu      sync.RWMutex
	current Config

	onReload func(Config, error)
	done     chan struct{}
}

// NewWatcher loads path once, then begins watching it for changes.
// onReload, if non-nil, is invoked (on a background goroutine) after
// every reload attempt, successful or not.
func NewWatcher(path string, onReload func(Config, error)) (*Watcher, error) {
	initial, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		fsw:      fsw,
		current:  initial,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			c, err := Load(w.path)
			if err == nil {
				w.mu.Lock()
				w.current = c
				w.mu.Unlock()
			}
			if w.onReload != nil {
				w.onReload(c, err)
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Current returns the most recently (successfully) loaded Config.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
