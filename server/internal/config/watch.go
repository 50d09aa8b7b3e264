package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// settle is how long Watch waits after the last event on the file before it
// reloads. One editor save can produce several events.
const settle = 200 * time.Millisecond

// Watch reloads the config file at path whenever it changes and hands the
// result to onChange, until ctx is cancelled. A file that fails to parse or
// validate is logged and ignored; the caller keeps its previous config.
// Saves that leave the content byte-for-byte unchanged are ignored too.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "config: create watcher")
	}
	defer w.Close()

	// The directory is watched so that rename-over saves are still seen.
	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return errors.Wrapf(err, "config: watch %s", filepath.Dir(target))
	}

	log := zap.L().With(zap.String("path", path))
	current, _ := os.ReadFile(target)

	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	log.Info("config: watching for changes")
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == target && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				timer.Reset(settle)
			}

		case <-timer.C:
			data, err := os.ReadFile(target)
			if err != nil {
				log.Warn("config: reload skipped", zap.Error(err))
				continue
			}
			if bytes.Equal(data, current) {
				continue
			}
			cfg, err := Parse(data)
			if err != nil {
				log.Error("config: invalid update ignored", zap.Error(err))
				continue
			}
			current = data
			log.Info("config: reloaded")
			onChange(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config: watcher error", zap.Error(err))
		}
	}
}
