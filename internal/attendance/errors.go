package attendance

import (
	"errors"
	"fmt"

	"presensi/internal/schedule"
)

// Kind is a stable, client-visible failure category.
type Kind string

const (
	KindInvalidRequest       Kind = "InvalidRequest"
	KindStudentNotFound      Kind = "StudentNotFound"
	KindCampusNotConfigured  Kind = "CampusNotConfigured"
	KindNoCourseToday        Kind = "NoCourseToday"
	KindNoCourseOpen         Kind = "NoCourseOpen"
	KindAmbiguousCourse      Kind = "AmbiguousCourse"
	KindDuplicateAttendance  Kind = "DuplicateAttendance"
	KindAlreadyCheckedIn     Kind = "AlreadyCheckedIn"
	KindCheckInMissing       Kind = "CheckInMissing"
	KindAlreadyCheckedOut    Kind = "AlreadyCheckedOut"
	KindSubmissionInProgress Kind = "SubmissionInProgress"
	KindOutOfRange           Kind = "OutOfRange"
	KindNoFaceDetected       Kind = "NoFaceDetected"
	KindFaceMismatch         Kind = "FaceMismatch"
	KindBiometricLength      Kind = "BiometricLengthMismatch"
	KindCorruptBiometric     Kind = "CorruptStoredBiometric"
	KindInvalidImageFormat   Kind = "InvalidImageFormat"
	KindProcessingTimeout    Kind = "ProcessingTimeout"
	KindStorageFailure       Kind = "StorageFailure"
)

// ServerSide reports whether the kind is a server fault. Its details are logged
// and the caller only gets a generic message.
func (k Kind) ServerSide() bool {
	return k == KindStorageFailure || k == KindProcessingTimeout
}

// Error is the failure returned by Service. Distance is set for OutOfRange and
// FaceMismatch; Candidates for AmbiguousCourse.
type Error struct {
	Kind       Kind
	Message    string
	Distance   *float64
	Candidates []schedule.Course
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
