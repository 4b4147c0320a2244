package demo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		was := !t.stopped
		t.stopped = true
		return was
	}
}

// fire runs every pending timer, as if their delay elapsed.
func (c *fakeClock) fire() {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			t.stopped = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

type recordingBooker struct {
	mu    sync.Mutex
	calls []Request
	err   error
}

func (b *recordingBooker) Book(_ context.Context, req Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, req)
	return b.err
}

func (b *recordingBooker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func fillRequired(t *testing.T, m *Modal) {
	t.Helper()
	require.NoError(t, m.SetField(FieldFullName, "A. Lee"))
	require.NoError(t, m.SetField(FieldEmail, "a@x.io"))
	require.NoError(t, m.SetField(FieldPhone, "555"))
	require.NoError(t, m.SetField(FieldOrganization, "Acme"))
}

func newTestModal(b Booker) (*Modal, *fakeClock) {
	clock := &fakeClock{}
	return NewModal(b, WithAfterFunc(clock.AfterFunc)), clock
}

func TestSubmitSuccessClearsFieldsAndAutoCloses(t *testing.T) {
	booker := &recordingBooker{}
	m, clock := newTestModal(booker)
	require.NoError(t, m.Open())
	fillRequired(t, m)
	require.NoError(t, m.SetField(FieldCameras, "11-50"))

	require.NoError(t, m.Submit(context.Background()))
	require.Equal(t, 1, booker.count())
	assert.Equal(t, Request{
		FullName: "A. Lee", Email: "a@x.io", Phone: "555",
		Organization: "Acme", Cameras: "11-50",
	}, booker.calls[0])

	snap := m.Snapshot()
	assert.True(t, snap.Open)
	assert.Equal(t, StateSucceeded, snap.State)
	assert.Equal(t, MessageSuccess, snap.Feedback)
	assert.Equal(t, FeedbackSuccess, snap.FeedbackKind)
	assert.Equal(t, Request{}, snap.Fields)
	assert.Zero(t, snap.CompletionRatio)

	require.Len(t, clock.timers, 1)
	assert.Equal(t, 2000*time.Millisecond, clock.timers[0].delay)
	clock.fire()

	snap = m.Snapshot()
	assert.False(t, snap.Open)
	assert.Empty(t, snap.Feedback)
	assert.Equal(t, StateIdle, snap.State)
}

func TestSubmitRejectedKeepsFields(t *testing.T) {
	booker := &recordingBooker{err: fmt.Errorf("status 500: %w", ErrRejected)}
	m, clock := newTestModal(booker)
	require.NoError(t, m.Open())
	fillRequired(t, m)

	err := m.Submit(context.Background())
	assert.ErrorIs(t, err, ErrRejected)

	snap := m.Snapshot()
	assert.True(t, snap.Open)
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, MessageRejected, snap.Feedback)
	assert.Equal(t, FeedbackError, snap.FeedbackKind)
	assert.Equal(t, "A. Lee", snap.Fields.FullName)
	assert.Equal(t, "Acme", snap.Fields.Organization)
	assert.Zero(t, clock.pending())
}

func TestSubmitNetworkErrorHasDistinctMessage(t *testing.T) {
	booker := &recordingBooker{err: fmt.Errorf("dial tcp: %w", ErrUnreachable)}
	m, _ := newTestModal(booker)
	require.NoError(t, m.Open())
	fillRequired(t, m)

	err := m.Submit(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)

	snap := m.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, MessageNetwork, snap.Feedback)
	assert.NotEqual(t, MessageRejected, snap.Feedback)
	assert.Equal(t, "555", snap.Fields.Phone)
}

func TestSubmitUnclassifiedErrorCountsAsNetwork(t *testing.T) {
	m, _ := newTestModal(&recordingBooker{err: errors.New("boom")})
	require.NoError(t, m.Open())
	fillRequired(t, m)

	require.Error(t, m.Submit(context.Background()))
	assert.Equal(t, MessageNetwork, m.Snapshot().Feedback)
}

func TestSubmitWithMissingRequiredFieldsDoesNoIO(t *testing.T) {
	booker := &recordingBooker{}
	m, _ := newTestModal(booker)
	require.NoError(t, m.Open())
	require.NoError(t, m.SetField(FieldEmail, "a@x.io"))

	err := m.Submit(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, booker.count())

	snap := m.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, MessageValidation, snap.Feedback)
	assert.Equal(t, "a@x.io", snap.Fields.Email)
}

func TestSubmitWhileInFlightIsIgnored(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls int
	var mu sync.Mutex
	booker := BookerFunc(func(ctx context.Context, _ Request) error {
		mu.Lock()
		calls++
		mu.Unlock()
		close(entered)
		<-release
		return nil
	})
	m, _ := newTestModal(booker)
	require.NoError(t, m.Open())
	fillRequired(t, m)

	done := make(chan error, 1)
	go func() { done <- m.Submit(context.Background()) }()
	<-entered

	snap := m.Snapshot()
	assert.True(t, snap.Submitting)
	assert.Equal(t, StateSubmitting, snap.State)
	assert.ErrorIs(t, m.Submit(context.Background()), ErrSubmitInFlight)

	close(release)
	require.NoError(t, <-done)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
	assert.Equal(t, StateSucceeded, m.Snapshot().State)
}

func TestCloseCancelsAutoClose(t *testing.T) {
	m, clock := newTestModal(&recordingBooker{})
	require.NoError(t, m.Open())
	fillRequired(t, m)
	require.NoError(t, m.Submit(context.Background()))
	require.Equal(t, 1, clock.pending())

	m.Close()
	assert.Zero(t, clock.pending())

	require.NoError(t, m.Open())
	require.NoError(t, m.SetField(FieldFullName, "B. Kim"))
	clock.fire()
	snap := m.Snapshot()
	assert.True(t, snap.Open, "a cancelled timer must not close the reopened modal")
	assert.Equal(t, "B. Kim", snap.Fields.FullName)
}

func TestStaleTimerDoesNotCloseReopenedModal(t *testing.T) {
	m, clock := newTestModal(&recordingBooker{})
	require.NoError(t, m.Open())
	fillRequired(t, m)
	require.NoError(t, m.Submit(context.Background()))
	fn := clock.timers[0].fn

	m.Close()
	require.NoError(t, m.Open())
	fn()
	assert.True(t, m.Snapshot().Open)
}

func TestResponseAfterCloseIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	booker := BookerFunc(func(ctx context.Context, _ Request) error {
		close(entered)
		<-release
		return nil
	})
	m, clock := newTestModal(booker)
	require.NoError(t, m.Open())
	fillRequired(t, m)

	done := make(chan error, 1)
	go func() { done <- m.Submit(context.Background()) }()
	<-entered
	m.Close()
	close(release)

	assert.ErrorIs(t, <-done, ErrModalClosed)
	snap := m.Snapshot()
	assert.False(t, snap.Open)
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.Feedback)
	assert.Zero(t, clock.pending())
}

func TestPanickingBookerLeavesSubmitting(t *testing.T) {
	booker := BookerFunc(func(context.Context, Request) error { panic("kaboom") })
	m, _ := newTestModal(booker)
	require.NoError(t, m.Open())
	fillRequired(t, m)

	err := m.Submit(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
	snap := m.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.False(t, snap.Submitting)
	assert.Equal(t, MessageNetwork, snap.Feedback)

	assert.ErrorIs(t, m.Submit(context.Background()), ErrUnreachable, "retry is allowed after failure")
}

func TestClosedModalRefusesInput(t *testing.T) {
	m, _ := newTestModal(&recordingBooker{})
	assert.ErrorIs(t, m.SetField(FieldEmail, "a@x.io"), ErrModalClosed)
	assert.ErrorIs(t, m.Submit(context.Background()), ErrModalClosed)
}

func TestOpenStartsWithEmptyForm(t *testing.T) {
	m, _ := newTestModal(&recordingBooker{})
	require.NoError(t, m.Open())
	fillRequired(t, m)
	require.NoError(t, m.Open())
	assert.Equal(t, "A. Lee", m.Snapshot().Fields.FullName, "reopening an open modal keeps the form")

	m.Close()
	require.NoError(t, m.Open())
	assert.Equal(t, Request{}, m.Snapshot().Fields)
}

func TestDisposeCancelsTimerAndBlocksOpen(t *testing.T) {
	m, clock := newTestModal(&recordingBooker{})
	require.NoError(t, m.Open())
	fillRequired(t, m)
	require.NoError(t, m.Submit(context.Background()))

	m.Dispose()
	assert.Zero(t, clock.pending())
	assert.ErrorIs(t, m.Open(), ErrDisposed)
}

func TestDefaultAfterFuncFires(t *testing.T) {
	m := NewModal(&recordingBooker{}, WithAutoCloseDelay(10*time.Millisecond))
	require.NoError(t, m.Open())
	fillRequired(t, m)
	require.NoError(t, m.Submit(context.Background()))

	assert.Eventually(t, func() bool { return !m.Snapshot().Open }, time.Second, 5*time.Millisecond)
}

func TestFiredAutoCloseDoesNotInterruptResubmit(t *testing.T) {
	var fired func()
	after := func(_ time.Duration, f func()) func() bool {
		fired = f
		return func() bool { return false }
	}
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var calls int
	var mu sync.Mutex
	booker := BookerFunc(func(ctx context.Context, _ Request) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 2 {
			entered <- struct{}{}
			<-release
		}
		return nil
	})
	m := NewModal(booker, WithAfterFunc(after))
	require.NoError(t, m.Open())
	fillRequired(t, m)
	require.NoError(t, m.Submit(context.Background()))
	require.NotNil(t, fired)
	stale := fired

	fillRequired(t, m)
	done := make(chan error, 1)
	go func() { done <- m.Submit(context.Background()) }()
	<-entered

	stale()
	assert.True(t, m.Snapshot().Open, "the first auto-close must not act during the second submission")

	close(release)
	require.NoError(t, <-done)
	snap := m.Snapshot()
	assert.True(t, snap.Open)
	assert.Equal(t, StateSucceeded, snap.State)
	assert.Equal(t, MessageSuccess, snap.Feedback)
}
