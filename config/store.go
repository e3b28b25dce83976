package config

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// filePerm is the permission of the configuration file.  It holds the
// signing secret and database credentials.
const filePerm fs.FileMode = 0o600

// Listener is called after the configuration was reloaded from disk with
// the previous and the new values.  Listeners must not modify either.
type Listener func(prev, cur *Config)

// Store holds the current configuration and persists changes to it.  It is
// safe for concurrent use.
type Store struct {
	logger *slog.Logger
	path   string

	// mu protects current and serializes file writes.
	mu      sync.Mutex
	current *Config

	listenersMu sync.RWMutex
	listeners   []Listener
}

// Load reads the configuration at path, creating the file with default
// values first when it does not exist.
func Load(ctx context.Context, logger *slog.Logger, path string) (s *Store, err error) {
	defer func() { err = errors.Annotate(err, "loading config %q: %w", path) }()

	s = &Store{
		logger: logger,
		path:   path,
	}

	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		err = os.MkdirAll(filepath.Dir(path), 0o755)
		if err != nil {
			return nil, err
		}

		err = s.write(Default())
		if err != nil {
			return nil, err
		}

		logger.InfoContext(ctx, "created new configuration file", "path", path)
	} else if err != nil {
		return nil, err
	}

	conf, err := s.read()
	if err != nil {
		return nil, err
	}

	s.current = conf
	logger.InfoContext(ctx, "configuration loaded", "path", path)

	return s, nil
}

// Path returns the configuration file path.
func (s *Store) Path() string {
	return s.path
}

// LockPath returns the path of the advisory lock file guarding secret swaps.
func (s *Store) LockPath() string {
	return s.path + ".lock"
}

// Config returns a copy of the current configuration.
func (s *Store) Config() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current.Clone()
}

// SwapSecret replaces the signing secret with generated if the file still
// holds observed, and saves the file.  It returns the secret that is
// persisted afterwards.  Writers in this process are serialized by the store
// and writers in other processes by an advisory lock on LockPath, on
// platforms that support flock.
func (s *Store) SwapSecret(ctx context.Context, observed, generated string) (persisted string, err error) {
	defer func() { err = errors.Annotate(err, "swapping secret: %w") }()

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(s.LockPath())
	if err != nil {
		return "", err
	}
	defer func() { err = errors.WithDeferred(err, unlock()) }()

	conf, err := s.read()
	if err != nil {
		return "", err
	}

	if conf.JWTSecret != observed {
		s.logger.InfoContext(ctx, "jwt secret was changed by another writer")
		s.current = conf
		return conf.JWTSecret, nil
	}

	conf.JWTSecret = generated
	err = s.write(conf)
	if err != nil {
		return "", err
	}

	s.current = conf
	s.logger.InfoContext(ctx, "configuration saved", "path", s.path)

	return generated, nil
}

// Subscribe registers l to be called after every reload.
func (s *Store) Subscribe(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	s.listeners = append(s.listeners, l)
}

// Reload re-reads the file and notifies listeners.  A file that fails to
// parse or validate keeps the previous configuration in place.
func (s *Store) Reload(ctx context.Context) (err error) {
	s.mu.Lock()
	conf, err := s.read()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("reloading config: %w", err)
	}

	prev := s.current
	s.current = conf
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "configuration reloaded", "path", s.path)

	s.listenersMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(prev.Clone(), conf.Clone())
	}

	return nil
}

func (s *Store) read() (conf *Config, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	conf = &Config{}
	if len(bytes.TrimSpace(data)) > 0 {
		err = yaml.Unmarshal(data, conf)
		if err != nil {
			return nil, fmt.Errorf("parsing: %w", err)
		}
	}

	conf = conf.withDefaults()
	err = conf.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating: %w", err)
	}

	return conf, nil
}

func (s *Store) write(conf *Config) (err error) {
	data, err := yaml.Marshal(conf)
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}

	file, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(filePerm))
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = errors.WithDeferred(err, file.Cleanup())
			return
		}
		err = errors.WithDeferred(nil, file.CloseAtomicallyReplace())
	}()

	_, err = file.Write(data)

	return err
}
