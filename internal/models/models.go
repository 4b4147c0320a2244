package models

import "time"

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingContacted BookingStatus = "contacted"
	BookingScheduled BookingStatus = "scheduled"
	BookingClosed    BookingStatus = "closed"
)

var BookingStatuses = []BookingStatus{BookingPending, BookingContacted, BookingScheduled, BookingClosed}

func (s BookingStatus) Valid() bool {
	for _, v := range BookingStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Booking is a demo request received by the booking endpoint.
type Booking struct {
	ID           string        `json:"id"`
	FullName     string        `json:"fullName"`
	Email        string        `json:"email"`
	Phone        string        `json:"phone"`
	Organization string        `json:"organization"`
	Role         string        `json:"role,omitempty"`
	Cameras      string        `json:"cameras,omitempty"`
	Message      string        `json:"message,omitempty"`
	Status       BookingStatus `json:"status"`
	SourceIP     string        `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    *time.Time    `json:"updated_at,omitempty"`
}

type BookingQuery struct {
	Status BookingStatus
	Limit  int
	Offset int
}
