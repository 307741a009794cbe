package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"presensi/internal/biometric"
	"presensi/internal/geo"
	"presensi/internal/media"
	"presensi/internal/metrics"
	"presensi/internal/photo"
	"presensi/internal/queue"
	"presensi/internal/schedule"
)

// Store is the persistence the service needs.
type Store interface {
	FindStudent(ctx context.Context, id string) (*Student, error)
	FindCampus(ctx context.Context, id string) (*Campus, error)
	FindAttendance(ctx context.Context, key Key) (*Record, error)
	CreateAttendance(ctx context.Context, rec Record) (Record, error)
	CheckOutAttendance(ctx context.Context, key Key, at time.Time, photoRef string, loc Location) (Record, error)
	ListAttendanceForDate(ctx context.Context, studentID, date string) ([]Record, error)
}

// FaceMatcher compares a submitted image against a stored vector blob.
type FaceMatcher interface {
	Match(ctx context.Context, image, stored []byte) (biometric.Result, error)
}

// Deps are the collaborators of a Service. Guard and Queue are optional.
type Deps struct {
	Store    Store
	Resolver *schedule.Resolver
	Matcher  FaceMatcher
	Media    media.Store
	Clock    schedule.Clock
	Guard    Guard
	Queue    queue.Queue
}

// Options tunes a Service.
type Options struct {
	// GeofenceTolerance is added to every campus radius to absorb GPS jitter.
	GeofenceTolerance float64
	// InflightTTL bounds how long a guard lock may outlive a crashed request.
	InflightTTL time.Duration
	// PublishTimeout bounds the event publish after a record is committed.
	PublishTimeout time.Duration
}

// Service runs the check-in / check-out / leave pipeline.
type Service struct {
	store     Store
	resolver  *schedule.Resolver
	matcher   FaceMatcher
	media     media.Store
	clock     schedule.Clock
	guard     Guard
	queue     queue.Queue
	tolerance float64
	ttl       time.Duration
	pubWait   time.Duration
}

// NewService wires a Service.
func NewService(d Deps, opts Options) *Service {
	if d.Clock == nil {
		d.Clock = schedule.SystemClock{}
	}
	if opts.InflightTTL <= 0 {
		opts.InflightTTL = time.Minute
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	return &Service{
		store:     d.Store,
		resolver:  d.Resolver,
		matcher:   d.Matcher,
		media:     d.Media,
		clock:     d.Clock,
		guard:     d.Guard,
		queue:     d.Queue,
		tolerance: opts.GeofenceTolerance,
		ttl:       opts.InflightTTL,
		pubWait:   opts.PublishTimeout,
	}
}

// Request is one submission from a student.
type Request struct {
	StudentID string
	Lat       float64
	Lon       float64
	Image     string // base64 or data URL; ignored for leave
	CourseID  string // optional, disambiguates overlapping courses
	Status    Status // empty for normal attendance, izin or sakit for leave
}

// Result describes a successful submission.
type Result struct {
	Action       Action
	Course       schedule.Course
	Record       Record
	Message      string
	Distance     float64 // meters from campus; zero for leave
	FaceDistance float64 // zero for leave
}

// submission carries the state resolved so far for one request.
type submission struct {
	req       Request
	student   *Student
	campus    *Campus
	now       time.Time
	course    schedule.Course
	isCheckIn bool
	key       Key
}

// Submit validates and records one attendance submission.
func (s *Service) Submit(ctx context.Context, req Request) (res Result, err error) {
	action := "unknown"
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(KindOf(err))
		} else {
			action = string(res.Action)
		}
		metrics.Submissions.WithLabelValues(action, outcome).Inc()
	}()

	sub, err := s.prepare(ctx, req)
	if err != nil {
		return Result{}, s.report(sub, err)
	}

	switch {
	case req.Status.IsLeave():
		action = string(ActionLeave)
	case sub.isCheckIn:
		action = string(ActionCheckIn)
	default:
		action = string(ActionCheckOut)
	}

	if s.guard != nil {
		release, ok, gerr := s.guard.Acquire(ctx, sub.key.String(), s.ttl)
		switch {
		case gerr != nil:
			log.Printf("attendance: inflight guard unavailable for %s, continuing without it: %v", sub.key, gerr)
		case !ok:
			return Result{}, s.report(sub, newError(KindSubmissionInProgress, "another submission for this course is still being processed"))
		default:
			defer release()
		}
	}

	if req.Status.IsLeave() {
		res, err = s.recordLeave(ctx, sub)
	} else {
		res, err = s.recordPresence(ctx, sub)
	}
	if err != nil {
		return Result{}, s.report(sub, err)
	}
	s.publish(ctx, res.Record, res.Action)
	return res, nil
}

// prepare resolves the student, campus and course for req.
func (s *Service) prepare(ctx context.Context, req Request) (*submission, error) {
	req.StudentID = strings.TrimSpace(req.StudentID)
	if req.StudentID == "" {
		return nil, newError(KindInvalidRequest, "student id required")
	}
	if req.Status != "" && !req.Status.IsLeave() {
		return nil, newError(KindInvalidRequest, fmt.Sprintf("unsupported status %q", req.Status))
	}
	sub := &submission{req: req}

	student, err := s.store.FindStudent(ctx, req.StudentID)
	if err != nil {
		return sub, s.storeError("load student", err)
	}
	if student == nil {
		return sub, newError(KindStudentNotFound, "student not found")
	}
	sub.student = student

	if student.CampusID != "" {
		campus, err := s.store.FindCampus(ctx, student.CampusID)
		if err != nil {
			return sub, s.storeError("load campus", err)
		}
		sub.campus = campus
	}
	if sub.campus == nil {
		return sub, newError(KindCampusNotConfigured, "no campus location configured for this student")
	}

	sub.now = s.clock.Now()
	resolution, err := s.resolver.Resolve(ctx, student.ID, sub.now, req.CourseID)
	if err != nil {
		return sub, s.storeError("resolve schedule", err)
	}
	switch resolution.Outcome {
	case schedule.NoneToday:
		return sub, newError(KindNoCourseToday, "no course scheduled today")
	case schedule.NoneOpen:
		return sub, newError(KindNoCourseOpen, "no course is open for attendance right now")
	case schedule.Ambiguous:
		e := newError(KindAmbiguousCourse, "several courses are open; choose one")
		e.Candidates = resolution.Candidates
		return sub, e
	}

	sub.course = resolution.Course
	sub.isCheckIn = resolution.IsCheckIn
	sub.key = Key{StudentID: student.ID, CourseID: sub.course.ID, Date: sub.now.Format(DateLayout)}
	return sub, nil
}

func (s *Service) recordPresence(ctx context.Context, sub *submission) (Result, error) {
	existing, err := s.store.FindAttendance(ctx, sub.key)
	if err != nil {
		return Result{}, s.storeError("load attendance", err)
	}
	if err := checkOrder(existing, sub.isCheckIn); err != nil {
		return Result{}, err
	}

	here := geo.Point(sub.req.Lat, sub.req.Lon)
	if err := geo.Validate(here); err != nil {
		return Result{}, wrapError(KindInvalidRequest, "invalid coordinates", err)
	}
	fence := geo.Fence{Center: sub.campus.Center, Radius: sub.campus.RadiusMeters, Tolerance: s.tolerance}
	dist, inside, err := fence.Check(here)
	if err != nil {
		return Result{}, wrapError(KindCampusNotConfigured, "campus location is invalid", err)
	}
	metrics.GeofenceDistance.Observe(dist)
	if !inside {
		e := newError(KindOutOfRange, fmt.Sprintf("you are %.0f m from campus, allowed %.0f m", dist, sub.campus.RadiusMeters))
		e.Distance = &dist
		return Result{}, e
	}

	img, err := photo.FromBase64(sub.req.Image)
	if err != nil {
		return Result{}, wrapError(KindInvalidImageFormat, "photo could not be read", err)
	}

	started := time.Now()
	match, err := s.matcher.Match(ctx, img.Data, sub.student.FaceEmbedding)
	metrics.BiometricSeconds.Observe(time.Since(started).Seconds())
	if err != nil {
		return Result{}, biometricError(err)
	}
	metrics.FaceDistance.Observe(match.Distance)
	if !match.Matched {
		d := match.Distance
		e := newError(KindFaceMismatch, "face does not match the enrolled student")
		e.Distance = &d
		return Result{}, e
	}

	direction := "checkin"
	if !sub.isCheckIn {
		direction = "checkout"
	}
	ref, err := s.media.SavePhoto(ctx, img.Data, fmt.Sprintf("%s_%s_%s.jpg", sub.key.StudentID, sub.key.CourseID, direction))
	if err != nil {
		return Result{}, s.storeError("save photo", err)
	}

	loc := Location{Lat: sub.req.Lat, Lon: sub.req.Lon}
	var rec Record
	if sub.isCheckIn {
		at := sub.now
		rec, err = s.store.CreateAttendance(ctx, Record{
			StudentID:    sub.key.StudentID,
			CourseID:     sub.key.CourseID,
			Date:         sub.key.Date,
			Status:       StatusPresent,
			CheckInAt:    &at,
			CheckInPhoto: ref,
			CheckInLoc:   &loc,
		})
	} else {
		rec, err = s.store.CheckOutAttendance(ctx, sub.key, sub.now, ref, loc)
	}
	if err != nil {
		log.Printf("attendance: photo %s orphaned after failed write for %s", ref, sub.key)
		if errors.Is(err, ErrConflict) {
			return Result{}, s.classifyConflict(ctx, sub)
		}
		return Result{}, s.storeError("write attendance", err)
	}
	rec.CourseName = sub.course.Name

	action, verb := ActionCheckIn, "checked in to"
	if !sub.isCheckIn {
		action, verb = ActionCheckOut, "checked out of"
	}
	return Result{
		Action:       action,
		Course:       sub.course,
		Record:       rec,
		Message:      fmt.Sprintf("%s %s %s", sub.student.FullName, verb, sub.course.Name),
		Distance:     dist,
		FaceDistance: match.Distance,
	}, nil
}

// checkOrder enforces check-in before check-out and at most one of each.
func checkOrder(existing *Record, isCheckIn bool) error {
	if existing != nil && existing.Status.IsLeave() {
		return newError(KindDuplicateAttendance, fmt.Sprintf("leave (%s) already recorded for this course today", existing.Status))
	}
	if isCheckIn {
		if existing != nil && existing.CheckInAt != nil {
			return newError(KindAlreadyCheckedIn, "already checked in for this course today")
		}
		return nil
	}
	if existing == nil || existing.CheckInAt == nil {
		return newError(KindCheckInMissing, "check in before checking out")
	}
	if existing.CheckOutAt != nil {
		return newError(KindAlreadyCheckedOut, "already checked out for this course today")
	}
	return nil
}

// classifyConflict explains why an atomic write lost against a concurrent one.
func (s *Service) classifyConflict(ctx context.Context, sub *submission) error {
	existing, err := s.store.FindAttendance(ctx, sub.key)
	if err != nil {
		return s.storeError("reload attendance", err)
	}
	if err := checkOrder(existing, sub.isCheckIn); err != nil {
		return err
	}
	// the row changed twice under us; report it as a plain duplicate
	return newError(KindDuplicateAttendance, "attendance already recorded")
}

// storeError maps a collaborator failure to StorageFailure, or to
// ProcessingTimeout when the request deadline ran out.
func (s *Service) storeError(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return wrapError(KindProcessingTimeout, "request timed out", fmt.Errorf("%s: %w", op, err))
	}
	return wrapError(KindStorageFailure, "storage unavailable", fmt.Errorf("%s: %w", op, err))
}

func biometricError(err error) *Error {
	switch {
	case errors.Is(err, biometric.ErrCorruptVector):
		return wrapError(KindCorruptBiometric, "enrolled face data is unreadable; contact the administrator", err)
	case errors.Is(err, biometric.ErrLengthMismatch):
		return wrapError(KindBiometricLength, "enrolled face data is incompatible; re-enrollment required", err)
	case errors.Is(err, biometric.ErrNoFaceDetected), errors.Is(err, biometric.ErrMultipleFaces):
		return wrapError(KindNoFaceDetected, "exactly one face must be visible in the photo", err)
	case errors.Is(err, biometric.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return wrapError(KindProcessingTimeout, "face verification timed out", err)
	}
	return wrapError(KindStorageFailure, "face verification unavailable", err)
}

// report logs failures that need operator attention and returns err unchanged.
func (s *Service) report(sub *submission, err error) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	ctxInfo := "student=?"
	if sub != nil {
		ctxInfo = fmt.Sprintf("student=%s course=%s date=%s", sub.req.StudentID, sub.key.CourseID, sub.key.Date)
	}
	switch {
	case errors.Is(e, context.Canceled):
		log.Printf("attendance: request cancelled by client %s", ctxInfo)
	case e.Kind.ServerSide():
		log.Printf("attendance: %s %s: %v", e.Kind, ctxInfo, e.Err)
	case e.Kind == KindCorruptBiometric || e.Kind == KindBiometricLength:
		log.Printf("attendance: enrollment data defect (%s) %s: %v", e.Kind, ctxInfo, e.Err)
	case e.Kind == KindCampusNotConfigured:
		log.Printf("attendance: campus not configured %s", ctxInfo)
	}
	return err
}

// Today lists the student's records for the current school day.
func (s *Service) Today(ctx context.Context, studentID string) ([]Record, error) {
	date := s.clock.Now().Format(DateLayout)
	recs, err := s.store.ListAttendanceForDate(ctx, studentID, date)
	if err != nil {
		return nil, s.report(&submission{req: Request{StudentID: studentID}, key: Key{Date: date}}, s.storeError("list attendance", err))
	}
	return recs, nil
}
