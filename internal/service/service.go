package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"vigil/internal/captcha"
	"vigil/internal/models"
	"vigil/internal/notify"
	"vigil/internal/store"
)

var (
	ErrNotFound      = errors.New("booking not found")
	ErrInvalidStatus = errors.New("invalid booking status")
)

const (
	notifyTimeout   = 30 * time.Second
	digestPendingN  = 20
	defaultPageSize = 25
	maxPageSize     = 100
)

// BookingInput is the body accepted by the booking endpoint.
type BookingInput struct {
	FullName     string `json:"fullName" validate:"required,max=255"`
	Email        string `json:"email" validate:"required,email,max=320"`
	Phone        string `json:"phone" validate:"required,max=64"`
	Organization string `json:"organization" validate:"required,max=255"`
	Role         string `json:"role" validate:"omitempty,oneof=security it operations executive other"`
	Cameras      string `json:"cameras" validate:"omitempty,oneof=1-10 11-50 51-200 200+"`
	Message      string `json:"message" validate:"max=500"`
	CaptchaToken string `json:"captcha_token" validate:"-"`
}

// ValidationError maps JSON field names to the failed rule.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	return "invalid booking: " + strings.Join(names, ", ")
}

type Service struct {
	st       *store.Store
	sender   notify.Sender
	verifier captcha.Verifier
	log      *zap.Logger

	validate *validator.Validate
	policy   *bluemonday.Policy

	wg sync.WaitGroup
}

func New(st *store.Store, sender notify.Sender, verifier captcha.Verifier, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if sender == nil {
		sender = notify.NewLogSender(log)
	}
	if verifier == nil {
		verifier = captcha.NoopVerifier{}
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{
		st:       st,
		sender:   sender,
		verifier: verifier,
		log:      log,
		validate: v,
		policy:   bluemonday.StrictPolicy(),
	}
}

// clean strips markup and surrounding space. Entities escaped by the
// sanitizer are decoded again since the value is stored as plain text.
func (s *Service) clean(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(v)))
}

func (s *Service) normalize(in BookingInput) BookingInput {
	return BookingInput{
		FullName:     s.clean(in.FullName),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:        s.clean(in.Phone),
		Organization: s.clean(in.Organization),
		Role:         strings.TrimSpace(in.Role),
		Cameras:      strings.TrimSpace(in.Cameras),
		Message:      s.clean(in.Message),
		CaptchaToken: in.CaptchaToken,
	}
}

func (s *Service) Validate(in BookingInput) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[fe.Field()] = fe.Tag()
	}
	return out
}

// CreateBooking validates, verifies the captcha, stores the booking, and
// notifies sales in the background.
func (s *Service) CreateBooking(ctx context.Context, in BookingInput, sourceIP string) (models.Booking, error) {
	in = s.normalize(in)
	if err := s.Validate(in); err != nil {
		return models.Booking{}, err
	}
	if err := s.verifier.Verify(ctx, in.CaptchaToken, sourceIP); err != nil {
		return models.Booking{}, err
	}
	b, err := s.st.CreateBooking(ctx, models.Booking{
		FullName:     in.FullName,
		Email:        in.Email,
		Phone:        in.Phone,
		Organization: in.Organization,
		Role:         in.Role,
		Cameras:      in.Cameras,
		Message:      in.Message,
		SourceIP:     sourceIP,
	})
	if err != nil {
		return models.Booking{}, err
	}
	s.log.Info("demo booking stored", zap.String("booking_id", b.ID), zap.String("organization", b.Organization))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		nctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.sender.NotifyBooking(nctx, b); err != nil {
			s.log.Warn("booking notification failed", zap.String("booking_id", b.ID), zap.Error(err))
		}
	}()
	return b, nil
}

type ListResult struct {
	Items    []models.Booking `json:"items"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

func (s *Service) ListBookings(ctx context.Context, status string, page, pageSize int) (ListResult, error) {
	st := models.BookingStatus(strings.ToLower(strings.TrimSpace(status)))
	if st != "" && !st.Valid() {
		return ListResult{}, ErrInvalidStatus
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	items, err := s.st.ListBookings(ctx, models.BookingQuery{Status: st, Limit: pageSize, Offset: (page - 1) * pageSize})
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Page: page, PageSize: pageSize}, nil
}

func (s *Service) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	b, err := s.st.GetBooking(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Booking{}, ErrNotFound
	}
	return b, err
}

func (s *Service) UpdateStatus(ctx context.Context, id, status string) (models.Booking, error) {
	st := models.BookingStatus(strings.ToLower(strings.TrimSpace(status)))
	if !st.Valid() {
		return models.Booking{}, ErrInvalidStatus
	}
	b, err := s.st.UpdateBookingStatus(ctx, id, st)
	if errors.Is(err, store.ErrNotFound) {
		return models.Booking{}, ErrNotFound
	}
	if err != nil {
		return models.Booking{}, err
	}
	s.log.Info("demo booking status changed", zap.String("booking_id", id), zap.String("status", string(st)))
	return b, nil
}

func (s *Service) Digest(ctx context.Context, now time.Time) (notify.Digest, error) {
	counts, err := s.st.CountBookingsByStatus(ctx)
	if err != nil {
		return notify.Digest{}, fmt.Errorf("count bookings: %w", err)
	}
	pending, err := s.st.ListBookings(ctx, models.BookingQuery{Status: models.BookingPending, Limit: digestPendingN})
	if err != nil {
		return notify.Digest{}, fmt.Errorf("list pending bookings: %w", err)
	}
	return notify.Digest{GeneratedAt: now.UTC(), Counts: counts, Pending: pending}, nil
}

// SendDigest mails the backlog summary. Nothing is sent while no booking
// is pending.
func (s *Service) SendDigest(ctx context.Context) error {
	d, err := s.Digest(ctx, time.Now())
	if err != nil {
		return err
	}
	if d.Counts[models.BookingPending] == 0 {
		s.log.Debug("digest skipped, nothing pending")
		return nil
	}
	return s.sender.SendDigest(ctx, d)
}

func (s *Service) Ready(ctx context.Context) error {
	return s.st.Ping(ctx)
}

// Close waits for background notifications to finish.
func (s *Service) Close() {
	s.wg.Wait()
}
