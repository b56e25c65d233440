// Package watch reports changes to files, coalescing bursts of writes into
// one event per path.
package watch

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/logging"
)

// DefaultDelay is the quiet period before pending changes are reported.
const DefaultDelay = 100 * time.Millisecond

var (
	// ErrWatcherClosed is returned by Watch after Close.
	ErrWatcherClosed = errors.New("watcher closed")
	// ErrPathNotExist is returned when the watched path does not exist.
	ErrPathNotExist = errors.New("path does not exist")
)

// Op describes what happened to a path. Debounced events may carry several.
type Op uint8

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

// String returns the operations joined with '|'.
func (o Op) String() string {
	var s string
	for _, n := range []struct {
		op   Op
		name string
	}{{OpCreate, "create"}, {OpWrite, "write"}, {OpRemove, "remove"}, {OpRename, "rename"}} {
		if o&n.op != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// Event is one debounced change.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDelay sets the debounce delay.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher watches files and directories through fsnotify.
//
// Files are watched through their parent directory so that editors which
// save by rename are still seen. Directories are watched non-recursively.
type Watcher struct {
	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	delay   time.Duration
	logger  *logging.Logger
	files   map[string]bool
	dirs    map[string]bool
	added   map[string]bool
	pending map[string]Op

	events chan Event
	errors chan error

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// New creates a watcher with nothing watched yet.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:     fsw,
		delay:   DefaultDelay,
		logger:  logging.NullLogger,
		files:   make(map[string]bool),
		dirs:    make(map[string]bool),
		added:   make(map[string]bool),
		pending: make(map[string]Op),
		events:  make(chan Event, 64),
		errors:  make(chan error, 16),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.closedWg.Add(1)
	go w.processLoop()
	return w, nil
}

// Watch starts watching path, a file or a directory.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}

	dir := abs
	if !info.IsDir() {
		dir = filepath.Dir(abs)
	}
	if !w.added[dir] {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
		w.added[dir] = true
	}
	if info.IsDir() {
		w.dirs[abs] = true
	} else {
		w.files[abs] = true
	}
	return nil
}

// Events returns the debounced event channel. It is closed by Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel. It is closed by Close.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher. Pending changes are discarded.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.closedWg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsw.Close()
}

func (w *Watcher) processLoop() {
	defer w.closedWg.Done()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.record(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.delay)
			} else {
				timer.Reset(w.delay)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.flush()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch: %v", err)
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// record adds ev to the pending set when it concerns a watched path.
func (w *Watcher) record(ev fsnotify.Event) bool {
	op := convertOp(ev.Op)
	if op == 0 {
		return false
	}
	name := filepath.Clean(ev.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.files[name] && !w.dirs[filepath.Dir(name)] {
		return false
	}
	w.pending[name] |= op
	return true
}

// flush emits one event per pending path, in path order.
func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	batch := make([]Event, 0, len(paths))
	now := time.Now()
	for _, p := range paths {
		batch = append(batch, Event{Path: p, Op: w.pending[p], Time: now})
		delete(w.pending, p)
	}
	w.mu.Unlock()

	for _, ev := range batch {
		select {
		case w.events <- ev:
		default:
			w.logger.Warn("watch: event channel full, dropping %s", ev.Path)
		}
	}
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	return op
}
