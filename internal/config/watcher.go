package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher reloads the configuration document when it changes on disk
// and hands the fresh copy to onReload. Only the credential pools are
// applied live; settings differences are logged and need a restart.
type Watcher struct {
	path     string
	onReload func(*Config)
	stop     chan struct{}
	watcher  *fsnotify.Watcher
}

const debounceDelay = 100 * time.Millisecond

// Watch starts watching path. The directory is watched too so atomic
// tmp+rename writes are seen.
func Watch(path string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{path: path, onReload: onReload, stop: make(chan struct{}), watcher: fsw}
	go w.run()
	log.WithField("path", path).Info("config watcher started")
	return w, nil
}

func (w *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("config watcher error")
		case <-w.stop:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.WithError(err).Warn("config reload failed, keeping previous configuration")
		return
	}
	w.onReload(cfg)
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}
