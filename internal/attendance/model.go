package attendance

import (
	"time"

	"github.com/paulmach/orb"
)

// Status of an attendance record.
type Status string

const (
	StatusPresent Status = "hadir"
	StatusExcused Status = "izin"
	StatusSick    Status = "sakit"
)

// IsLeave reports whether s is a leave declaration.
func (s Status) IsLeave() bool {
	return s == StatusExcused || s == StatusSick
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPresent || s.IsLeave()
}

// Action is what a successful submission did.
type Action string

const (
	ActionCheckIn  Action = "check_in"
	ActionCheckOut Action = "check_out"
	ActionLeave    Action = "leave"
)

// DateLayout formats attendance dates.
const DateLayout = "2006-01-02"

// Student is the subset of a student this pipeline reads.
type Student struct {
	ID            string
	CampusID      string
	FullName      string
	FaceEmbedding []byte
}

// Campus is a campus location with its allowed radius.
type Campus struct {
	ID           string
	Name         string
	Center       orb.Point
	RadiusMeters float64
}

// Key identifies the single record allowed per student, course and day.
type Key struct {
	StudentID string
	CourseID  string
	Date      string
}

// Location is a submitted position.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Record is one attendance row.
type Record struct {
	ID            string     `json:"id"`
	StudentID     string     `json:"student_id"`
	CourseID      string     `json:"course_id"`
	CourseName    string     `json:"course_name,omitempty"`
	Date          string     `json:"date"`
	Status        Status     `json:"status"`
	CheckInAt     *time.Time `json:"check_in_at,omitempty"`
	CheckInPhoto  string     `json:"check_in_photo,omitempty"`
	CheckInLoc    *Location  `json:"check_in_location,omitempty"`
	CheckOutAt    *time.Time `json:"check_out_at,omitempty"`
	CheckOutPhoto string     `json:"check_out_photo,omitempty"`
	CheckOutLoc   *Location  `json:"check_out_location,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Key returns the record's idempotency key.
func (r Record) Key() Key {
	return Key{StudentID: r.StudentID, CourseID: r.CourseID, Date: r.Date}
}
