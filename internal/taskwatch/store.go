// Package taskwatch keeps a client-side view of the server's tasks fresh and
// issues control commands against it.
package taskwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go-file-transfer/internal/event"
	"go-file-transfer/internal/model"
)

type Mode int

const (
	// Lightweight polls the plain task list every second for as long as the
	// store runs.
	Lightweight Mode = iota
	// Managed polls the paged list every two seconds, and only while a
	// non-terminal task exists. Poke re-arms it.
	Managed
)

const (
	lightweightInterval = time.Second
	managedInterval     = 2 * time.Second
	managedPageSize     = 100
)

// Lister is the read side of the task API.
type Lister interface {
	ListTasks(ctx context.Context) ([]model.Task, error)
	ListPaged(ctx context.Context, filter model.TaskFilter) (model.TaskPage, error)
}

// Subscriber yields pushed task events.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan event.Event, error)
}

// Buckets groups tasks by status for display.
type Buckets struct {
	Active      []model.Task
	Interrupted []model.Task
	Terminal    []model.Task
}

// Split is a pure function of each task's status.
func Split(tasks []model.Task) Buckets {
	var b Buckets
	for _, task := range tasks {
		switch {
		case task.Status == model.TaskInterrupted:
			b.Interrupted = append(b.Interrupted, task)
		case task.Status.IsTerminal():
			b.Terminal = append(b.Terminal, task)
		default:
			b.Active = append(b.Active, task)
		}
	}
	return b
}

type Options struct {
	Mode Mode
	// Interval overrides the mode's polling period.
	Interval   time.Duration
	Subscriber Subscriber
	Logger     *slog.Logger
}

// Store caches the latest task list. The cache is replaced wholesale on each
// refresh.
type Store struct {
	api      Lister
	mode     Mode
	interval time.Duration
	sub      Subscriber
	log      *slog.Logger

	mu      sync.RWMutex
	tasks   []model.Task
	fetched time.Time

	poke    chan struct{}
	updates chan struct{}
}

func NewStore(api Lister, opts Options) *Store {
	interval := opts.Interval
	if interval <= 0 {
		interval = lightweightInterval
		if opts.Mode == Managed {
			interval = managedInterval
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Store{
		api:      api,
		mode:     opts.Mode,
		interval: interval,
		sub:      opts.Subscriber,
		log:      log.With("component", "taskwatch"),
		poke:     make(chan struct{}, 1),
		updates:  make(chan struct{}, 1),
	}
}

// Run polls until ctx is cancelled.
func (s *Store) Run(ctx context.Context) error {
	events := s.subscribe(ctx)

	failed := s.Refresh(ctx) != nil

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		// A failed refresh leaves the cache stale, so keep polling until one
		// succeeds even when no live task is known.
		idle := s.mode == Managed && !failed && !s.hasPending()
		tick := ticker.C
		if idle {
			tick = nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		case <-s.poke:
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
		}

		failed = s.Refresh(ctx) != nil
	}
}

func (s *Store) subscribe(ctx context.Context) <-chan event.Event {
	if s.sub == nil {
		return nil
	}
	events, err := s.sub.Subscribe(ctx)
	if err != nil {
		s.log.Warn("task event push unavailable, polling only", "error", err)
		return nil
	}
	return events
}

// Refresh fetches the task list once. Errors are logged and the previous
// cache is kept.
func (s *Store) Refresh(ctx context.Context) error {
	tasks, err := s.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("task poll failed", "error", err)
		}
		return err
	}

	s.mu.Lock()
	s.tasks = tasks
	s.fetched = time.Now()
	s.mu.Unlock()

	select {
	case s.updates <- struct{}{}:
	default:
	}
	return nil
}

func (s *Store) fetch(ctx context.Context) ([]model.Task, error) {
	if s.mode == Lightweight {
		return s.api.ListTasks(ctx)
	}

	var all []model.Task
	for page := 1; ; page++ {
		result, err := s.api.ListPaged(ctx, model.TaskFilter{Page: page, PageSize: managedPageSize})
		if err != nil {
			return nil, err
		}
		all = append(all, result.Tasks...)
		if page >= result.TotalPages || len(result.Tasks) == 0 {
			return all, nil
		}
	}
}

// Poke asks for an immediate refresh and re-arms an idle managed store.
func (s *Store) Poke() {
	select {
	case s.poke <- struct{}{}:
	default:
	}
}

// Updates signals after every successful refresh. Signals coalesce.
func (s *Store) Updates() <-chan struct{} {
	return s.updates
}

func (s *Store) Tasks() []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Task(nil), s.tasks...)
}

func (s *Store) Get(taskID string) (model.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, task := range s.tasks {
		if task.ID == taskID {
			return task, true
		}
	}
	return model.Task{}, false
}

func (s *Store) Buckets() Buckets {
	return Split(s.Tasks())
}

// LastRefresh reports when the cache was last replaced.
func (s *Store) LastRefresh() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetched
}

func (s *Store) hasPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, task := range s.tasks {
		if !task.Status.IsTerminal() && task.Status != model.TaskInterrupted {
			return true
		}
	}
	return false
}
