package broker

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies monotonic time for deadline computation, generalized out
// of the engine so tests can substitute a controllable clock instead of
// sleeping real seconds.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of time.Timer the engine needs; it exists so Clock
// implementations can hand back something other than a real *time.Timer.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// IDGenerator produces the universally-unique opaque request identifier
// required by spec §2 item 1.
type IDGenerator interface {
	NewID() string
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.NewString() }

// Option configures an Engine at construction, generalizing the teacher's
// internal/common.go FnModeOption pattern from a Debug/Test flag pair into
// engine dependency injection.
type Option func(*engineOptions)

type engineOptions struct {
	clock     Clock
	ids       IDGenerator
	queueWait time.Duration
	forward   time.Duration
}

func defaultEngineOptions() *engineOptions {
	return &engineOptions{
		clock:     realClock{},
		ids:       uuidGenerator{},
		queueWait: 30 * time.Second,
		forward:   150 * time.Second,
	}
}

// WithClock substitutes the clock used for deadlines, for tests.
func WithClock(c Clock) Option {
	return func(o *engineOptions) { o.clock = c }
}

// WithIDGenerator substitutes the request-id generator, for tests.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *engineOptions) { o.ids = g }
}

// WithQueueWaitDeadline overrides the 30s default, for tests that would
// otherwise wait the full window.
func WithQueueWaitDeadline(d time.Duration) Option {
	return func(o *engineOptions) { o.queueWait = d }
}

// WithForwardDeadline overrides the 150s default, for tests.
func WithForwardDeadline(d time.Duration) Option {
	return func(o *engineOptions) { o.forward = d }
}
