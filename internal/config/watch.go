package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "reportsched/pkg/logx"
)

const (
	reloadDebounce    = 250 * time.Millisecond
	validateTimeout   = 5 * time.Second
	watchRestartBase  = 250 * time.Millisecond
	watchRestartLimit = 5 * time.Second
)

// Watch follows the config file until ctx ends. Editors replace files in
// several steps, so the parent directory is watched and events for the
// file are debounced into one reload. A broken watcher is recreated with
// jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	log := m.log.With(logx.String("path", m.path))

	rl := &reloader{m: m, ctx: ctx, log: log}
	defer rl.stop()

	delay := watchRestartBase
	for ctx.Err() == nil {
		w, err := newDirWatcher(dir)
		if err == nil {
			delay = watchRestartBase
			log.Debug("config watcher started")
			err = m.follow(ctx, w, name, rl)
			_ = w.Close()
		}
		if ctx.Err() != nil {
			break
		}

		wait := delay + rand.N(delay/2+1)
		delay = min(delay*2, watchRestartLimit)
		log.Warn("config watcher restarting", logx.Err(err), logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

func newDirWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher init: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return w, nil
}

// follow pumps watcher events until ctx ends or the watcher breaks.
func (m *ConfigManager) follow(ctx context.Context, w *fsnotify.Watcher, name string, rl *reloader) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) && ev.Op != 0 {
				rl.schedule()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; the file may have changed.
				rl.schedule()
				continue
			}
			if err != nil && strings.Contains(strings.ToLower(err.Error()), "closed") {
				return err
			}
			if err != nil {
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

// reloader coalesces file events into a single delayed reload.
type reloader struct {
	m   *ConfigManager
	ctx context.Context
	log logx.Logger

	mu    sync.Mutex
	timer *time.Timer
}

func (r *reloader) schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(reloadDebounce, r.reload)
}

func (r *reloader) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
}

func (r *reloader) reload() {
	if r.ctx.Err() != nil {
		return
	}
	cfg, err := r.m.Parse()
	if err != nil {
		r.log.Warn("config parse failed", logx.Err(err))
		return
	}
	h := fingerprint(cfg)
	if r.m.unchanged(h) {
		r.log.Debug("config unchanged")
		return
	}
	if err := Validate(cfg); err != nil {
		r.log.Warn("config rejected", logx.Err(err))
		return
	}
	if r.m.validator != nil {
		vctx, cancel := context.WithTimeout(r.ctx, validateTimeout)
		err := r.m.validator(vctx, cfg)
		cancel()
		if err != nil {
			r.log.Warn("config rejected", logx.Err(err))
			return
		}
	}
	r.m.commit(cfg, h)
	r.m.publish(cfg)
	r.log.Info("config change accepted", logx.String("hash", fmt.Sprintf("%x", h)))
}
