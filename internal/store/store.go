// Package store implements the order/nickname store: best-effort JSON
// persistence for the saved visual card order and per-device nicknames,
// with live reload when the app-data directory changes underneath the
// process.
//
// Grounded on calibration.go's calibration.json load/save — "read a
// JSON sidecar file next to a fixed path, corruption just means
// defaults" — generalized from one calibration blob to two sidecar
// files, and extended with fsnotify the way this corpus's config-reload
// code watches a directory rather than polling mtimes.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	orderFileName    = "order.json"
	nicknameFileName = "nicknames.json"
)

// OrderRecord is the saved visual-card-order persistence shape.
type OrderRecord struct {
	Order   []string `json:"order"`
	SlotMap [4]int   `json:"slot_map"`
}

// NicknameRecord maps "vid:pid" to a human-assigned label.
type NicknameRecord map[string]string

// Store owns the per-user app-data directory holding both sidecar
// files. Load/Save never return errors to callers that treat failure as
// "no saved state" — a persistence failure is logged and swallowed.
type Store struct {
	mu  sync.Mutex
	dir string
	log kitlog.Logger

	watcher *fsnotify.Watcher
	onReload func()
}

// New builds a Store rooted at dir. The directory is not created here;
// Save creates it on demand.
func New(dir string, logger kitlog.Logger) *Store {
	return &Store{dir: dir, log: logger}
}

// LoadOrder reads the saved visual order. Absent or corrupt file means
// "no saved state": a zero-value OrderRecord and ok=false.
func (s *Store) LoadOrder() (OrderRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec OrderRecord
	if !s.readJSON(orderFileName, &rec) {
		return OrderRecord{}, false
	}
	return rec, true
}

// SaveOrder persists the visual order. Failure is logged and swallowed.
func (s *Store) SaveOrder(rec OrderRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeJSON(orderFileName, rec)
}

// LoadNicknames reads the saved nickname map. Absent or corrupt file
// means an empty map, never an error.
func (s *Store) LoadNicknames() NicknameRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := make(NicknameRecord)
	if !s.readJSON(nicknameFileName, &rec) {
		return make(NicknameRecord)
	}
	return rec
}

// SaveNicknames persists the nickname map. Failure is logged and
// swallowed.
func (s *Store) SaveNicknames(rec NicknameRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeJSON(nicknameFileName, rec)
}

func (s *Store) readJSON(name string, out interface{}) bool {
	path := filepath.Join(s.dir, name)
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		level.Warn(s.log).Log("msg", "store: corrupt file, treating as no saved state", "path", path, "op", "load", "err", err)
		return false
	}
	return true
}

func (s *Store) writeJSON(name string, in interface{}) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		level.Warn(s.log).Log("msg", "store: could not create app-data dir, save skipped", "path", s.dir, "op", "save", "err", err)
		return
	}
	path := filepath.Join(s.dir, name)
	b, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		level.Warn(s.log).Log("msg", "store: marshal failed, save skipped", "path", path, "op", "save", "err", err)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		level.Warn(s.log).Log("msg", "store: write failed, save skipped", "path", path, "op", "save", "err", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		level.Warn(s.log).Log("msg", "store: rename failed, save skipped", "path", path, "op", "save", "err", err)
	}
}

// Watch arms an fsnotify watcher on the store's directory and calls
// onChange (debounced) whenever either sidecar file changes. Watch-setup
// failure just means no live reload, not a startup failure — matches the
// device-change debounce's "best-effort" posture.
func (s *Store) Watch(debounce time.Duration, onChange func()) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		level.Warn(s.log).Log("msg", "store: watch setup failed, no live reload", "path", s.dir, "err", err)
		return
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		level.Warn(s.log).Log("msg", "store: watch setup failed, no live reload", "err", err)
		return
	}
	if err := w.Add(s.dir); err != nil {
		level.Warn(s.log).Log("msg", "store: watch setup failed, no live reload", "path", s.dir, "err", err)
		_ = w.Close()
		return
	}
	s.watcher = w
	s.onReload = onChange

	go func() {
		var timer *time.Timer
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, onChange)
				_ = ev
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				level.Warn(s.log).Log("msg", "store: watch error", "err", err)
			}
		}
	}()
}

// Close releases the watcher, if armed.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}
