package config

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch re-reads the config file whenever it changes and calls onChange with
// the parsed result. Invalid intermediate states (editors tend to truncate
// then write) are logged and skipped; the last good config stays in effect.
//
// The watcher runs until ctx is cancelled. Only runtime-tunable settings
// should be applied from onChange; secrets and endpoints are startup-fixed.
func Watch(ctx context.Context, path string, log zerolog.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory, not the file: editors replace files via rename,
	// which drops a direct file watch.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer w.Close()

		var lastHash uint64
		if b, err := os.ReadFile(path); err == nil {
			lastHash = hashBytes(b)
		}

		var debounce *time.Timer
		reload := func() {
			b, err := os.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Msg("config reread failed")
				return
			}
			h := hashBytes(b)
			if h == lastHash {
				return
			}
			cfg, err := Parse(b)
			if err != nil {
				log.Warn().Err(err).Msg("config change rejected")
				return
			}
			lastHash = h
			log.Info().Msg("config reloaded")
			onChange(cfg)
		}

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, reload)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
