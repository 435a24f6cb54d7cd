// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// KeyProvider supplies the bearer token for each request. An empty key sends
// no Authorization header.
type KeyProvider interface {
	APIKey() string
}

// StaticKey is a fixed API key.
type StaticKey string

// APIKey implements KeyProvider.
func (k StaticKey) APIKey() string { return string(k) }

// FileKey reads the API key from a file and, once watched, reloads it when
// the file is replaced. A failed reload keeps the previous key.
type FileKey struct {
	path string

	mu  sync.RWMutex
	key string

	watching  atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewFileKey reads the key at path.
func NewFileKey(path string) (*FileKey, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve the API key path: %w", err)
	}

	f := &FileKey{
		path:    abs,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// APIKey implements KeyProvider.
func (f *FileKey) APIKey() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.key
}

// Reload reads the key file again.
func (f *FileKey) Reload() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read API key: %w", err)
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return ErrAPIKeyEmpty
	}

	f.mu.Lock()
	f.key = key
	f.mu.Unlock()
	return nil
}

// Watch reloads the key whenever its directory changes, until ctx is done or
// Close is called. The directory is watched rather than the file so atomic
// replacements (rename over, symlink swaps) are seen.
func (f *FileKey) Watch(ctx context.Context) error {
	if !f.watching.CompareAndSwap(false, true) {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.watching.Store(false)
		return fmt.Errorf("failed to create the API key watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		f.watching.Store(false)
		return fmt.Errorf("failed to watch the API key directory: %w", err)
	}

	logger := log.Ctx(ctx).With().Str("path", f.path).Logger()
	go func() {
		defer close(f.stopped)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				if err := f.Reload(); err != nil {
					logger.Debug().Err(err).Str("event", ev.String()).Msg("API key reload skipped")
					continue
				}
				logger.Debug().Str("event", ev.String()).Msg("API key reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("API key watcher error")
			}
		}
	}()

	return nil
}

// Close stops the watcher, if any, and waits for it to exit.
func (f *FileKey) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	if f.watching.Load() {
		<-f.stopped
	}
	return nil
}
