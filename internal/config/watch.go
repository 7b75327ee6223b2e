// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events editors emit on save.
const watchDebounce = 100 * time.Millisecond

// Watch reloads path whenever it changes and passes the new Config to fn.
// Reload failures go to onErr (may be nil) and the previous config stays in
// effect. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file so atomic
// rename-on-save is seen.
func Watch(ctx context.Context, path string, fn func(*Config), onErr func(error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	report := func(err error) {
		if onErr != nil {
			onErr(err)
		}
	}

	var (
		timer  *time.Timer
		fire   <-chan time.Time
		target = filepath.Base(abs)
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			cfg, err := LoadFromPath(abs)
			if err != nil {
				report(err)
				continue
			}
			fn(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			report(err)
		}
	}
}
