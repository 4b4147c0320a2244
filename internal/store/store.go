package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"vigil/internal/db"
	"vigil/internal/models"
)

var ErrNotFound = errors.New("not found")

const bookingColumns = `id,full_name,email,phone,organization,role,cameras,message,status,source_ip,created_at,updated_at`

type Store struct {
	db     *sql.DB
	driver string
}

func New(sqdb *sql.DB, driver string) *Store { return &Store{db: sqdb, driver: driver} }

// q rewrites ? placeholders for drivers that number their parameters.
func (s *Store) q(query string) string {
	if db.Placeholder(s.driver, 1) == "?" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(db.Placeholder(s.driver, n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) CreateBooking(ctx context.Context, b models.Booking) (models.Booking, error) {
	b.ID = uuid.NewString()
	b.Status = models.BookingPending
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = nil
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO demo_bookings(`+bookingColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`),
		b.ID, b.FullName, b.Email, b.Phone, b.Organization, b.Role, b.Cameras, b.Message, string(b.Status), b.SourceIP, b.CreatedAt, nil,
	)
	if err != nil {
		return models.Booking{}, fmt.Errorf("insert booking: %w", err)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (models.Booking, error) {
	var b models.Booking
	var status string
	var updated sql.NullTime
	if err := row.Scan(&b.ID, &b.FullName, &b.Email, &b.Phone, &b.Organization, &b.Role, &b.Cameras, &b.Message, &status, &b.SourceIP, &b.CreatedAt, &updated); err != nil {
		return models.Booking{}, err
	}
	b.Status = models.BookingStatus(status)
	if updated.Valid {
		t := updated.Time
		b.UpdatedAt = &t
	}
	return b, nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+bookingColumns+` FROM demo_bookings WHERE id=?`), id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Booking{}, ErrNotFound
	}
	if err != nil {
		return models.Booking{}, err
	}
	return b, nil
}

// ListBookings returns bookings newest first, optionally filtered by status.
func (s *Store) ListBookings(ctx context.Context, q models.BookingQuery) ([]models.Booking, error) {
	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + bookingColumns + ` FROM demo_bookings`
	args := []any{}
	if q.Status != "" {
		query += ` WHERE status=?`
		args = append(args, string(q.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Booking, 0, limit)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) UpdateBookingStatus(ctx context.Context, id string, status models.BookingStatus) (models.Booking, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE demo_bookings SET status=?, updated_at=? WHERE id=?`), string(status), now, id)
	if err != nil {
		return models.Booking{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.Booking{}, err
	}
	if n == 0 {
		return models.Booking{}, ErrNotFound
	}
	return s.GetBooking(ctx, id)
}

// CountBookingsByStatus returns a count for every known status, zero included.
func (s *Store) CountBookingsByStatus(ctx context.Context) (map[models.BookingStatus]int, error) {
	out := make(map[models.BookingStatus]int, len(models.BookingStatuses))
	for _, st := range models.BookingStatuses {
		out[st] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM demo_bookings GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[models.BookingStatus(st)] = n
	}
	return out, rows.Err()
}
