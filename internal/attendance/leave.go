package attendance

import (
	"context"
	"errors"
	"fmt"
)

// recordLeave stores an izin/sakit declaration. It skips the geofence and
// biometric steps but shares the one-record-per-key guarantee.
func (s *Service) recordLeave(ctx context.Context, sub *submission) (Result, error) {
	existing, err := s.store.FindAttendance(ctx, sub.key)
	if err != nil {
		return Result{}, s.storeError("load attendance", err)
	}
	if existing != nil {
		return Result{}, duplicateLeave(existing)
	}

	rec, err := s.store.CreateAttendance(ctx, Record{
		StudentID: sub.key.StudentID,
		CourseID:  sub.key.CourseID,
		Date:      sub.key.Date,
		Status:    sub.req.Status,
	})
	if errors.Is(err, ErrConflict) {
		existing, rerr := s.store.FindAttendance(ctx, sub.key)
		if rerr != nil {
			return Result{}, s.storeError("reload attendance", rerr)
		}
		return Result{}, duplicateLeave(existing)
	}
	if err != nil {
		return Result{}, s.storeError("write leave", err)
	}
	rec.CourseName = sub.course.Name

	return Result{
		Action:  ActionLeave,
		Course:  sub.course,
		Record:  rec,
		Message: fmt.Sprintf("%s recorded as %s for %s", sub.student.FullName, sub.req.Status, sub.course.Name),
	}, nil
}

func duplicateLeave(existing *Record) *Error {
	if existing == nil {
		return newError(KindDuplicateAttendance, "attendance already recorded for this course today")
	}
	return newError(KindDuplicateAttendance, fmt.Sprintf("attendance (%s) already recorded for this course today", existing.Status))
}
