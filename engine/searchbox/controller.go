// Package searchbox implements the incremental-search state machine driven
// by keystrokes: debounce, stale-response discard, and panel lifecycle.
package searchbox

import (
	"context"
	"strings"
	"time"
)

// Status is the controller's visible state.
type Status int

const (
	Idle Status = iota
	Debouncing
	Loading
	Error
	Ready
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Debouncing:
		return "debouncing"
	case Loading:
		return "loading"
	case Error:
		return "error"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Result is one rendered suggestion.
type Result struct {
	ID     string
	Title  string
	Handle string
	Score  float32
}

// Searcher starts a search and delivers the outcome through done. The
// callback must run on the controller's event loop goroutine.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, done func([]Result, error))
}

// Navigator is invoked when the user picks a result.
type Navigator interface {
	NavigateTo(handle string)
}

// Timer is a cancelable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler schedules callbacks. Injected so tests can drive time manually.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

// NewScheduler returns a Scheduler backed by the runtime clock.
func NewScheduler() Scheduler { return realScheduler{} }

// Options tune the controller.
type Options struct {
	// MinQueryLength is the trimmed length below which no search happens.
	MinQueryLength int
	// Debounce is the pause after the last keystroke before searching.
	Debounce time.Duration
	// BlurGrace delays the close on blur so a click on a result lands
	// before the panel disappears.
	BlurGrace time.Duration
	// Limit is the number of suggestions requested.
	Limit int
}

// DefaultOptions mirror the storefront search bar.
var DefaultOptions = Options{
	MinQueryLength: 2,
	Debounce:       350 * time.Millisecond,
	BlurGrace:      120 * time.Millisecond,
	Limit:          6,
}

// Key is a special keystroke delivered to HandleKey.
type Key int

const (
	KeyEscape Key = iota
	KeyEnter
)

// Controller is the search box state machine. It is cooperative: all
// methods, including timer callbacks, must run on the same goroutine (an
// event loop), so no locking is needed. The latest-query token resolves
// races between overlapping responses.
type Controller struct {
	searcher Searcher
	nav      Navigator
	sched    Scheduler
	opts     Options

	query   string
	status  Status
	open    bool
	results []Result
	errMsg  string

	// latest identifies the most recent issued query. Responses for any
	// other query string are discarded as stale.
	latest string

	debounce Timer
	grace    Timer
}

// New constructs a Controller.
func New(searcher Searcher, nav Navigator, sched Scheduler, opts Options) *Controller {
	if opts.MinQueryLength <= 0 {
		opts.MinQueryLength = DefaultOptions.MinQueryLength
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultOptions.Debounce
	}
	if opts.BlurGrace <= 0 {
		opts.BlurGrace = DefaultOptions.BlurGrace
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultOptions.Limit
	}
	return &Controller{searcher: searcher, nav: nav, sched: sched, opts: opts}
}

// Query returns the current raw input text.
func (c *Controller) Query() string { return c.query }

// Status returns the controller state.
func (c *Controller) Status() Status { return c.status }

// Open reports whether the results panel is visible.
func (c *Controller) Open() bool { return c.open }

// Results returns the current suggestions.
func (c *Controller) Results() []Result { return c.results }

// ErrMsg returns the current error message, if any.
func (c *Controller) ErrMsg() string { return c.errMsg }

// SetQuery handles one keystroke's worth of input change.
func (c *Controller) SetQuery(raw string) {
	c.query = raw
	c.stopDebounce()

	trimmed := strings.TrimSpace(raw)
	if len([]rune(trimmed)) < c.opts.MinQueryLength {
		c.results = nil
		c.errMsg = ""
		c.status = Idle
		c.latest = ""
		return
	}

	c.status = Debouncing
	c.debounce = c.sched.AfterFunc(c.opts.Debounce, func() {
		c.fire(trimmed)
	})
}

// fire issues the search for query and records it as the latest token.
// The response is applied only if no newer query was issued meanwhile.
func (c *Controller) fire(query string) {
	c.status = Loading
	c.open = true
	c.latest = query

	c.searcher.Search(context.Background(), query, c.opts.Limit, func(results []Result, err error) {
		c.apply(query, results, err)
	})
}

// apply installs a response unless a newer query has been issued since.
func (c *Controller) apply(query string, results []Result, err error) {
	if query != c.latest {
		return
	}
	if err != nil {
		c.results = nil
		c.errMsg = err.Error()
		c.status = Error
		return
	}
	c.results = results
	c.errMsg = ""
	c.status = Ready
}

// HandleKey processes Escape and Enter. Escape closes the panel but keeps
// the text; Enter navigates to the top-ranked result when one exists.
func (c *Controller) HandleKey(k Key) {
	switch k {
	case KeyEscape:
		c.open = false
	case KeyEnter:
		if len(c.results) > 0 {
			c.nav.NavigateTo(c.results[0].Handle)
			c.open = false
		}
	}
}

// ClickResult navigates to the chosen result, clears the input, and closes
// the panel.
func (c *Controller) ClickResult(r Result) {
	c.stopGrace()
	c.nav.NavigateTo(r.Handle)
	c.query = ""
	c.results = nil
	c.errMsg = ""
	c.status = Idle
	c.latest = ""
	c.open = false
}

// Focus reopens the panel when there is something to show and cancels any
// pending blur close.
func (c *Controller) Focus() {
	c.stopGrace()
	if len(c.results) > 0 || c.status == Loading || c.status == Error {
		c.open = true
	}
}

// Blur schedules the panel close after a short grace period so that a
// click on a result is not pre-empted.
func (c *Controller) Blur() {
	c.stopGrace()
	c.grace = c.sched.AfterFunc(c.opts.BlurGrace, func() {
		c.open = false
	})
}

// ClickOutside closes the panel unconditionally.
func (c *Controller) ClickOutside() {
	c.stopGrace()
	c.open = false
}

func (c *Controller) stopDebounce() {
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
}

func (c *Controller) stopGrace() {
	if c.grace != nil {
		c.grace.Stop()
		c.grace = nil
	}
}
