package model

import "time"

// Session statuses. Only StatusScheduled occupies the coach's calendar.
const (
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no-show"
)

// Payment statuses.
const (
	PaymentNotRequired = "not_required"
	PaymentPending     = "pending"
	PaymentPaid        = "paid"
)

const (
	CancelledByCoach  = "coach"
	CancelledByClient = "client"
)

type Availability struct {
	ID        string
	CoachID   string
	DayOfWeek int
	StartTime string
	EndTime   string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Exception struct {
	ID        string
	CoachID   string
	StartDate time.Time
	EndDate   time.Time
	Reason    string
	CreatedAt time.Time
}

type Session struct {
	ID              string
	CoachID         string
	ClientID        string
	SessionTypeID   string
	ScheduledDate   time.Time
	DurationMinutes int
	Status          string
	PaymentStatus   string
	PriceCents      int64
	StripeSessionID string
	Notes           string
	ClientEmail     string
	ClientPhone     string
	CancelledBy     string
	CancelReason    string
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (s Session) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

func (s Session) EndsAt() time.Time {
	return s.ScheduledDate.Add(s.Duration())
}

type SessionType struct {
	ID              string
	CoachID         string
	Name            string
	Description     string
	DurationMinutes int
	PriceCents      int64
	StripePriceID   string
	Active          bool
	DisplayOrder    int
	CreatedAt       time.Time
}

// IsPaid reports whether booking this type goes through checkout.
func (t SessionType) IsPaid() bool {
	return t.PriceCents > 0
}

type SessionFile struct {
	ID          string
	SessionID   string
	UploadedBy  string
	FileName    string
	ContentType string
	SizeBytes   int64
	URL         string
	CreatedAt   time.Time
}
