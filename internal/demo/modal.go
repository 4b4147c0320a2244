package demo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrRejected means the booking endpoint answered with a non-success status.
	ErrRejected = errors.New("booking rejected")
	// ErrUnreachable means no response was obtained from the booking endpoint.
	ErrUnreachable = errors.New("booking endpoint unreachable")

	ErrSubmitInFlight = errors.New("submission already in flight")
	ErrModalClosed    = errors.New("demo modal is closed")
	ErrDisposed       = errors.New("demo modal disposed")
)

const (
	MessageSuccess    = "✓ Demo request submitted successfully! We'll contact you soon."
	MessageRejected   = "✗ Submission failed. Please try again."
	MessageNetwork    = "✗ Network error. Please check your connection."
	MessageValidation = "Please fill in all required fields."

	DefaultAutoCloseDelay = 2000 * time.Millisecond
)

// Booker delivers a demo request to the booking endpoint. Implementations
// wrap ErrRejected when the endpoint declined the request; any other error
// is treated as a transport failure.
type Booker interface {
	Book(ctx context.Context, req Request) error
}

type BookerFunc func(ctx context.Context, req Request) error

func (f BookerFunc) Book(ctx context.Context, req Request) error { return f(ctx, req) }

type SubmissionState int

const (
	StateIdle SubmissionState = iota
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s SubmissionState) String() string {
	switch s {
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

func (s SubmissionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SubmissionState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "submitting":
		*s = StateSubmitting
	case "succeeded":
		*s = StateSucceeded
	case "failed":
		*s = StateFailed
	default:
		return fmt.Errorf("unknown submission state %q", b)
	}
	return nil
}

type FeedbackKind string

const (
	FeedbackNone    FeedbackKind = ""
	FeedbackSuccess FeedbackKind = "success"
	FeedbackError   FeedbackKind = "error"
)

// AfterFunc schedules f after d and returns a function that cancels it.
// The cancel func reports whether the call was stopped before running.
type AfterFunc func(d time.Duration, f func()) (cancel func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type Option func(*Modal)

func WithAfterFunc(fn AfterFunc) Option {
	return func(m *Modal) { m.afterFunc = fn }
}

func WithAutoCloseDelay(d time.Duration) Option {
	return func(m *Modal) { m.autoCloseDelay = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Modal) { m.logger = l }
}

type Snapshot struct {
	Open            bool            `json:"open"`
	Fields          Request         `json:"fields"`
	CompletionRatio float64         `json:"completionRatio"`
	State           SubmissionState `json:"state"`
	Submitting      bool            `json:"submitting"`
	Feedback        string          `json:"feedback"`
	FeedbackKind    FeedbackKind    `json:"feedbackKind"`
}

// Modal hosts one demo form. The form exists only while the modal is open.
type Modal struct {
	booker         Booker
	afterFunc      AfterFunc
	autoCloseDelay time.Duration
	logger         *zap.Logger

	mu        sync.Mutex
	open      bool
	disposed  bool
	form      Form
	state     SubmissionState
	feedback  string
	kind      FeedbackKind
	gen       uint64
	timerSeq  uint64
	stopTimer func() bool
}

func NewModal(booker Booker, opts ...Option) *Modal {
	m := &Modal{
		booker:         booker,
		afterFunc:      timeAfterFunc,
		autoCloseDelay: DefaultAutoCloseDelay,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open shows the modal with an empty form. Opening an already open modal
// keeps its current form.
func (m *Modal) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return ErrDisposed
	}
	if m.open {
		return nil
	}
	m.gen++
	m.open = true
	m.resetLocked()
	return nil
}

// Close hides the modal, discards the form and cancels a pending auto-close.
// A response still in flight is discarded when it arrives.
func (m *Modal) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

// Dispose closes the modal for good. Later calls to Open fail.
func (m *Modal) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
	m.disposed = true
}

func (m *Modal) closeLocked() {
	m.cancelTimerLocked()
	if m.open {
		m.gen++
	}
	m.open = false
	m.resetLocked()
}

func (m *Modal) resetLocked() {
	m.form.Reset()
	m.state = StateIdle
	m.feedback = ""
	m.kind = FeedbackNone
}

// cancelTimerLocked also invalidates a callback that already fired and is
// waiting on m.mu.
func (m *Modal) cancelTimerLocked() {
	m.timerSeq++
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
}

func (m *Modal) SetField(id FieldID, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ErrModalClosed
	}
	return m.form.Set(id, value)
}

func (m *Modal) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Open:            m.open,
		Fields:          m.form.Request(),
		CompletionRatio: m.form.CompletionRatio(),
		State:           m.state,
		Submitting:      m.state == StateSubmitting,
		Feedback:        m.feedback,
		FeedbackKind:    m.kind,
	}
}

// Submit sends the form to the Booker and records the outcome. It blocks
// until the Booker returns. The returned error is the protocol refusal
// (ErrModalClosed, ErrSubmitInFlight, *ValidationError) or the booking
// failure that moved the modal to StateFailed.
func (m *Modal) Submit(ctx context.Context) error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return ErrModalClosed
	}
	if m.state == StateSubmitting {
		m.mu.Unlock()
		return ErrSubmitInFlight
	}
	if err := m.form.Validate(); err != nil {
		m.feedback = MessageValidation
		m.kind = FeedbackError
		m.mu.Unlock()
		return err
	}
	m.cancelTimerLocked()
	m.state = StateSubmitting
	m.feedback = ""
	m.kind = FeedbackNone
	req := m.form.Request()
	gen := m.gen
	m.mu.Unlock()

	err := m.book(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		m.logger.Debug("discarding booking response for closed modal", zap.Error(err))
		return ErrModalClosed
	}
	switch {
	case err == nil:
		m.state = StateSucceeded
		m.feedback = MessageSuccess
		m.kind = FeedbackSuccess
		m.form.Reset()
		m.scheduleCloseLocked(gen)
	case errors.Is(err, ErrRejected):
		m.state = StateFailed
		m.feedback = MessageRejected
		m.kind = FeedbackError
	default:
		m.state = StateFailed
		m.feedback = MessageNetwork
		m.kind = FeedbackError
	}
	return err
}

func (m *Modal) book(ctx context.Context, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("booker panicked", zap.Any("panic", r))
			err = fmt.Errorf("%w: booker panic: %v", ErrUnreachable, r)
		}
	}()
	if m.booker == nil {
		return fmt.Errorf("%w: no booker configured", ErrUnreachable)
	}
	return m.booker.Book(ctx, req)
}

func (m *Modal) scheduleCloseLocked(gen uint64) {
	m.timerSeq++
	seq := m.timerSeq
	m.stopTimer = m.afterFunc(m.autoCloseDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.timerSeq != seq || m.gen != gen || !m.open || m.state != StateSucceeded {
			return
		}
		m.stopTimer = nil
		m.closeLocked()
	})
}
