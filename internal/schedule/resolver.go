// Package schedule decides which enrolled course a submission belongs to.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Course is one weekly meeting of a course with its attendance window.
type Course struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Weekday      time.Weekday `json:"weekday"`
	OpensAt      Tod          `json:"opens_at"`
	CheckInUntil Tod          `json:"check_in_until"`
	ClosesAt     Tod          `json:"closes_at"`
}

// IsOpen reports whether at lies inside [OpensAt, ClosesAt].
func (c Course) IsOpen(at Tod) bool {
	return c.OpensAt <= at && at <= c.ClosesAt
}

// IsCheckIn reports whether at is in the arriving phase. The cutoff itself is still check-in.
func (c Course) IsCheckIn(at Tod) bool {
	return at <= c.CheckInUntil
}

// Validate checks that the window boundaries are ordered.
func (c Course) Validate() error {
	if !(c.OpensAt <= c.CheckInUntil && c.CheckInUntil <= c.ClosesAt) {
		return fmt.Errorf("course %s: window %s/%s/%s is not ordered", c.ID, c.OpensAt, c.CheckInUntil, c.ClosesAt)
	}
	return nil
}

// CourseSource lists a student's enrolled courses meeting on a weekday.
type CourseSource interface {
	CoursesForStudentOnWeekday(ctx context.Context, studentID string, day time.Weekday) ([]Course, error)
}

// Outcome tags a Resolution.
type Outcome int

const (
	Resolved Outcome = iota
	Ambiguous
	NoneOpen
	NoneToday
)

func (o Outcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case Ambiguous:
		return "ambiguous"
	case NoneOpen:
		return "none_open"
	case NoneToday:
		return "none_today"
	}
	return "unknown"
}

// Resolution is the result of resolving a submission against the timetable.
// Course and IsCheckIn are set only when Outcome is Resolved; Candidates only when Ambiguous.
type Resolution struct {
	Outcome    Outcome
	Course     Course
	IsCheckIn  bool
	Candidates []Course
}

// Resolver picks the single course a submission at a given instant applies to.
type Resolver struct {
	source CourseSource
}

// NewResolver creates a resolver over source.
func NewResolver(source CourseSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve selects the open course for studentID at now. selectedID, when non-empty,
// disambiguates between simultaneously open courses. The returned error is only
// for source failures; every scheduling outcome is reported in the Resolution.
func (r *Resolver) Resolve(ctx context.Context, studentID string, now time.Time, selectedID string) (Resolution, error) {
	courses, err := r.source.CoursesForStudentOnWeekday(ctx, studentID, now.Weekday())
	if err != nil {
		return Resolution{}, fmt.Errorf("load courses for %s: %w", studentID, err)
	}
	if len(courses) == 0 {
		return Resolution{Outcome: NoneToday}, nil
	}

	at := TodOf(now)
	var open []Course
	for _, c := range courses {
		if c.IsOpen(at) {
			open = append(open, c)
		}
	}
	if len(open) == 0 {
		return Resolution{Outcome: NoneOpen}, nil
	}

	selectedID = strings.TrimSpace(selectedID)
	if selectedID != "" {
		for _, c := range open {
			if c.ID == selectedID {
				return resolved(c, at), nil
			}
		}
		return Resolution{Outcome: NoneOpen}, nil
	}

	if len(open) > 1 {
		return Resolution{Outcome: Ambiguous, Candidates: open}, nil
	}
	return resolved(open[0], at), nil
}

func resolved(c Course, at Tod) Resolution {
	return Resolution{Outcome: Resolved, Course: c, IsCheckIn: c.IsCheckIn(at)}
}
