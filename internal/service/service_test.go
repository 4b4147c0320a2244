package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/internal/captcha"
	"vigil/internal/db"
	"vigil/internal/models"
	"vigil/internal/notify"
	"vigil/internal/store"
)

type recordingSender struct {
	mu       sync.Mutex
	bookings []models.Booking
	digests  []notify.Digest
}

func (r *recordingSender) NotifyBooking(_ context.Context, b models.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookings = append(r.bookings, b)
	return nil
}

func (r *recordingSender) SendDigest(_ context.Context, d notify.Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.digests = append(r.digests, d)
	return nil
}

type stubVerifier struct{ err error }

func (s stubVerifier) Verify(context.Context, string, string) error { return s.err }

func newTestService(t *testing.T, v captcha.Verifier) (*Service, *recordingSender) {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"), 1, 1, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqdb.Close() })
	require.NoError(t, db.Migrate(sqdb, db.DriverSQLite))

	sender := &recordingSender{}
	svc := New(store.New(sqdb, db.DriverSQLite), sender, v, zap.NewNop())
	t.Cleanup(svc.Close)
	return svc, sender
}

func validInput() BookingInput {
	return BookingInput{
		FullName:     "A. Lee",
		Email:        "A@X.io",
		Phone:        "555",
		Organization: "Acme",
		Cameras:      "11-50",
	}
}

func TestCreateBookingStoresAndNotifies(t *testing.T) {
	svc, sender := newTestService(t, nil)
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, validInput(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, b.Status)
	assert.Equal(t, "a@x.io", b.Email)

	svc.Close()
	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.bookings, 1)
	assert.Equal(t, b.ID, sender.bookings[0].ID)
}

func TestCreateBookingValidation(t *testing.T) {
	svc, sender := newTestService(t, nil)
	ctx := context.Background()

	cases := map[string]struct {
		mutate func(*BookingInput)
		field  string
	}{
		"missing name":  {func(in *BookingInput) { in.FullName = "  " }, "fullName"},
		"bad email":     {func(in *BookingInput) { in.Email = "nope" }, "email"},
		"missing phone": {func(in *BookingInput) { in.Phone = "" }, "phone"},
		"missing org":   {func(in *BookingInput) { in.Organization = "" }, "organization"},
		"bad cameras":   {func(in *BookingInput) { in.Cameras = "9000" }, "cameras"},
		"bad role":      {func(in *BookingInput) { in.Role = "janitor" }, "role"},
		"long message":  {func(in *BookingInput) { in.Message = strings.Repeat("m", 501) }, "message"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.CreateBooking(ctx, in, "")
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
		})
	}

	list, err := svc.ListBookings(ctx, "", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, list.Items)
	assert.Empty(t, sender.bookings)
}

func TestCreateBookingSanitizesMarkup(t *testing.T) {
	svc, _ := newTestService(t, nil)
	in := validInput()
	in.Organization = "<b>Acme</b> & Sons"
	in.Message = `<script>alert(1)</script>Call me`

	b, err := svc.CreateBooking(context.Background(), in, "")
	require.NoError(t, err)
	assert.Equal(t, "Acme & Sons", b.Organization)
	assert.Equal(t, "Call me", b.Message)
}

func TestCreateBookingCaptcha(t *testing.T) {
	svc, _ := newTestService(t, stubVerifier{err: captcha.ErrCaptchaRequired})
	_, err := svc.CreateBooking(context.Background(), validInput(), "")
	assert.True(t, errors.Is(err, captcha.ErrCaptchaRequired))
}

func TestUpdateStatus(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	b, err := svc.CreateBooking(ctx, validInput(), "")
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(ctx, b.ID, "Contacted")
	require.NoError(t, err)
	assert.Equal(t, models.BookingContacted, updated.Status)

	_, err = svc.UpdateStatus(ctx, b.ID, "lost")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = svc.UpdateStatus(ctx, "missing", "closed")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListBookingsPaging(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.CreateBooking(ctx, validInput(), "")
		require.NoError(t, err)
	}

	res, err := svc.ListBookings(ctx, "pending", 2, 2)
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
	assert.Equal(t, 2, res.Page)

	res, err = svc.ListBookings(ctx, "", 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, res.PageSize)
	assert.Len(t, res.Items, 3)

	_, err = svc.ListBookings(ctx, "bogus", 1, 10)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestSendDigestSkipsWhenNothingPending(t *testing.T) {
	svc, sender := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.SendDigest(ctx))
	assert.Empty(t, sender.digests)

	_, err := svc.CreateBooking(ctx, validInput(), "")
	require.NoError(t, err)
	require.NoError(t, svc.SendDigest(ctx))

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.digests, 1)
	assert.Equal(t, 1, sender.digests[0].Counts[models.BookingPending])
	assert.Len(t, sender.digests[0].Pending, 1)
}
