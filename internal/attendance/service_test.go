package attendance

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"presensi/internal/biometric"
	"presensi/internal/queue"
	"presensi/internal/schedule"
	"presensi/internal/store"
)

const (
	campusLat = -6.2000
	campusLon = 106.8166
)

var jakarta = time.FixedZone("WIB", 7*60*60)

// 2026-10-19 is a Monday.
func at(day int, hhmm string) time.Time {
	tod := schedule.MustTod(hhmm)
	return time.Date(2026, 10, day, 0, 0, int(tod), 0, jakarta)
}

type stubExtractor struct {
	vec   biometric.Vector
	err   error
	block bool
}

func (s stubExtractor) Extract(ctx context.Context, _ []byte) (biometric.Vector, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.vec, s.err
}

var sameFace = stubExtractor{vec: biometric.Vector{0.1, 0.2, 0.3}}

type memMedia struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (m *memMedia) SavePhoto(_ context.Context, _ []byte, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.names = append(m.names, name)
	return "mem://" + name, nil
}

func (m *memMedia) saved() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.names)
}

type fixture struct {
	db    *store.DB
	repo  *Repository
	media *memMedia
	queue *queue.InMemory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.NewDB(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	seed := []string{
		`INSERT INTO campuses (id, name, latitude, longitude, radius_meters) VALUES ('kampus-1', 'Kampus Pusat', -6.2000, 106.8166, 100)`,
		`INSERT INTO students (id, campus_id, full_name, face_embedding) VALUES ('s-budi', 'kampus-1', 'Budi', '[0.1, 0.2, 0.3]')`,
		`INSERT INTO students (id, campus_id, full_name, face_embedding) VALUES ('s-sari', 'kampus-1', 'Sari', '{"2": 0.3, "0": 0.1, "1": 0.2}')`,
		`INSERT INTO students (id, campus_id, full_name, face_embedding) VALUES ('s-rudi', 'kampus-1', 'Rudi', 'not a vector')`,
		`INSERT INTO students (id, campus_id, full_name, face_embedding) VALUES ('s-tono', NULL, 'Tono', '[0.1, 0.2, 0.3]')`,
		`INSERT INTO students (id, campus_id, full_name, face_embedding) VALUES ('s-dewi', 'kampus-1', 'Dewi', '[0.1, 0.2]')`,
		`INSERT INTO courses (id, name, weekday, opens_at, check_in_until, closes_at) VALUES ('c-algo', 'Algoritma', 1, '08:00:00', '08:30:00', '10:00:00')`,
		`INSERT INTO courses (id, name, weekday, opens_at, check_in_until, closes_at) VALUES ('c-stat', 'Statistika', 1, '08:00:00', '08:20:00', '09:30:00')`,
		`INSERT INTO course_students (course_id, student_id) VALUES ('c-algo', 's-budi')`,
		`INSERT INTO course_students (course_id, student_id) VALUES ('c-algo', 's-sari')`,
		`INSERT INTO course_students (course_id, student_id) VALUES ('c-stat', 's-sari')`,
		`INSERT INTO course_students (course_id, student_id) VALUES ('c-algo', 's-rudi')`,
		`INSERT INTO course_students (course_id, student_id) VALUES ('c-algo', 's-tono')`,
		`INSERT INTO course_students (course_id, student_id) VALUES ('c-algo', 's-dewi')`,
	}
	for _, q := range seed {
		if _, err := db.Client.ExecContext(ctx, q); err != nil {
			t.Fatalf("seed %q: %v", q, err)
		}
	}
	return &fixture{
		db:    db,
		repo:  NewRepository(db.Client),
		media: &memMedia{},
		queue: queue.NewInMemory(100),
	}
}

func (f *fixture) service(now time.Time, ext biometric.Extractor, guard Guard) *Service {
	return NewService(Deps{
		Store:    f.repo,
		Resolver: schedule.NewResolver(f.repo),
		Matcher:  biometric.NewMatcher(ext, biometric.Options{Timeout: time.Second}),
		Media:    f.media,
		Clock:    schedule.FixedClock(now),
		Guard:    guard,
		Queue:    f.queue,
	}, Options{})
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	var n int
	if err := f.db.Client.QueryRow(`SELECT COUNT(*) FROM attendance_records`).Scan(&n); err != nil {
		t.Fatalf("count records: %v", err)
	}
	return n
}

func testImage(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func presence(t *testing.T, student string) Request {
	return Request{StudentID: student, Lat: campusLat, Lon: campusLon, Image: testImage(t)}
}

func wantKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got success", kind)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error with kind %s, got %v", kind, err)
	}
	if e.Kind != kind {
		t.Fatalf("kind = %s, want %s (%v)", e.Kind, kind, err)
	}
	return e
}

func TestCheckInThenCheckOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.service(at(19, "08:10"), sameFace, nil).Submit(ctx, presence(t, "s-budi"))
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if res.Action != ActionCheckIn || res.Course.Name != "Algoritma" {
		t.Errorf("check-in result = %+v", res)
	}
	if res.Record.Status != StatusPresent || res.Record.CheckInAt == nil || res.Record.CheckInLoc == nil {
		t.Errorf("check-in record = %+v", res.Record)
	}
	if res.Record.Date != "2026-10-19" {
		t.Errorf("date = %s", res.Record.Date)
	}

	res, err = f.service(at(19, "09:00"), sameFace, nil).Submit(ctx, presence(t, "s-budi"))
	if err != nil {
		t.Fatalf("check-out: %v", err)
	}
	if res.Action != ActionCheckOut {
		t.Errorf("action = %s, want %s", res.Action, ActionCheckOut)
	}
	rec := res.Record
	if rec.CheckOutAt == nil || rec.CheckOutPhoto == "" || rec.CheckOutLoc == nil || rec.CheckInAt == nil {
		t.Errorf("check-out record = %+v", rec)
	}
	if f.count(t) != 1 {
		t.Errorf("records = %d, want 1", f.count(t))
	}
	if f.media.saved() != 2 {
		t.Errorf("photos saved = %d, want 2", f.media.saved())
	}

	_, err = f.service(at(19, "09:30"), sameFace, nil).Submit(ctx, presence(t, "s-budi"))
	wantKind(t, err, KindAlreadyCheckedOut)
}

func TestCheckInAtCutoffIsCheckIn(t *testing.T) {
	f := newFixture(t)
	res, err := f.service(at(19, "08:30"), sameFace, nil).Submit(context.Background(), presence(t, "s-budi"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Action != ActionCheckIn {
		t.Errorf("action at cutoff = %s, want check_in", res.Action)
	}
}

func TestSecondCheckInFails(t *testing.T) {
	f := newFixture(t)
	svc := f.service(at(19, "08:10"), sameFace, nil)
	if _, err := svc.Submit(context.Background(), presence(t, "s-budi")); err != nil {
		t.Fatalf("first check-in: %v", err)
	}
	_, err := svc.Submit(context.Background(), presence(t, "s-budi"))
	wantKind(t, err, KindAlreadyCheckedIn)
	if f.media.saved() != 1 {
		t.Errorf("rejected check-in should not store a photo, saved = %d", f.media.saved())
	}
}

func TestCheckOutWithoutCheckIn(t *testing.T) {
	f := newFixture(t)
	_, err := f.service(at(19, "09:00"), sameFace, nil).Submit(context.Background(), presence(t, "s-budi"))
	wantKind(t, err, KindCheckInMissing)
	if f.count(t) != 0 {
		t.Error("failed check-out must not create a record")
	}
}

func TestLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.service(at(19, "08:10"), stubExtractor{err: errors.New("must not be called")}, nil)

	req := Request{StudentID: "s-budi", CourseID: "c-algo", Status: StatusExcused, Image: "placeholder"}
	res, err := svc.Submit(ctx, req)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if res.Action != ActionLeave || res.Record.Status != StatusExcused {
		t.Errorf("leave result = %+v", res)
	}
	if res.Record.CheckInAt != nil || res.Record.CheckInLoc != nil || res.Record.CheckInPhoto != "" {
		t.Errorf("leave record should carry no presence fields: %+v", res.Record)
	}
	if f.media.saved() != 0 {
		t.Error("leave must not store a photo")
	}

	_, err = svc.Submit(ctx, req)
	wantKind(t, err, KindDuplicateAttendance)

	_, err = svc.Submit(ctx, Request{StudentID: "s-budi", Status: StatusSick})
	wantKind(t, err, KindDuplicateAttendance)

	_, err = f.service(at(19, "08:10"), sameFace, nil).Submit(ctx, presence(t, "s-budi"))
	wantKind(t, err, KindDuplicateAttendance)

	_, err = f.service(at(19, "09:00"), sameFace, nil).Submit(ctx, presence(t, "s-budi"))
	wantKind(t, err, KindDuplicateAttendance)
}

func TestLeaveAfterCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.service(at(19, "08:10"), sameFace, nil)
	if _, err := svc.Submit(ctx, presence(t, "s-budi")); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	_, err := svc.Submit(ctx, Request{StudentID: "s-budi", Status: StatusSick})
	wantKind(t, err, KindDuplicateAttendance)
}

func TestAmbiguousCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.service(at(19, "08:10"), sameFace, nil)

	_, err := svc.Submit(ctx, presence(t, "s-sari"))
	e := wantKind(t, err, KindAmbiguousCourse)
	if len(e.Candidates) != 2 {
		t.Fatalf("candidates = %v, want 2", e.Candidates)
	}

	req := presence(t, "s-sari")
	req.CourseID = e.Candidates[1].ID
	res, err := svc.Submit(ctx, req)
	if err != nil {
		t.Fatalf("resubmit with course: %v", err)
	}
	if res.Course.ID != req.CourseID || res.Record.CourseID != req.CourseID {
		t.Errorf("resolved course = %s, want %s", res.Course.ID, req.CourseID)
	}

	req.CourseID = "c-unknown"
	_, err = svc.Submit(ctx, req)
	wantKind(t, err, KindNoCourseOpen)
}

func TestSubmitFailures(t *testing.T) {
	far := stubExtractor{vec: biometric.Vector{0.9, 0.9, 0.9}}
	tests := []struct {
		name string
		now  time.Time
		ext  biometric.Extractor
		req  func(t *testing.T) Request
		want Kind
	}{
		{"unknown student", at(19, "08:10"), sameFace, func(t *testing.T) Request { return presence(t, "s-ghost") }, KindStudentNotFound},
		{"empty student", at(19, "08:10"), sameFace, func(t *testing.T) Request { return presence(t, " ") }, KindInvalidRequest},
		{"unknown status", at(19, "08:10"), sameFace, func(t *testing.T) Request {
			r := presence(t, "s-budi")
			r.Status = "alpha"
			return r
		}, KindInvalidRequest},
		{"no campus", at(19, "08:10"), sameFace, func(t *testing.T) Request { return presence(t, "s-tono") }, KindCampusNotConfigured},
		{"no course today", at(20, "08:10"), sameFace, func(t *testing.T) Request { return presence(t, "s-budi") }, KindNoCourseToday},
		{"before window", at(19, "07:59"), sameFace, func(t *testing.T) Request { return presence(t, "s-budi") }, KindNoCourseOpen},
		{"after window", at(19, "10:01"), sameFace, func(t *testing.T) Request { return presence(t, "s-budi") }, KindNoCourseOpen},
		{"invalid coordinates", at(19, "08:10"), sameFace, func(t *testing.T) Request {
			r := presence(t, "s-budi")
			r.Lat = 123
			return r
		}, KindInvalidRequest},
		{"out of range", at(19, "08:10"), sameFace, func(t *testing.T) Request {
			r := presence(t, "s-budi")
			r.Lat = -6.2100
			return r
		}, KindOutOfRange},
		{"bad image", at(19, "08:10"), sameFace, func(t *testing.T) Request {
			r := presence(t, "s-budi")
			r.Image = base64.StdEncoding.EncodeToString([]byte("not an image"))
			return r
		}, KindInvalidImageFormat},
		{"no face", at(19, "08:10"), stubExtractor{err: biometric.ErrNoFaceDetected}, func(t *testing.T) Request { return presence(t, "s-budi") }, KindNoFaceDetected},
		{"two faces", at(19, "08:10"), stubExtractor{err: biometric.ErrMultipleFaces}, func(t *testing.T) Request { return presence(t, "s-budi") }, KindNoFaceDetected},
		{"different face", at(19, "08:10"), far, func(t *testing.T) Request { return presence(t, "s-budi") }, KindFaceMismatch},
		{"corrupt enrollment", at(19, "08:10"), sameFace, func(t *testing.T) Request { return presence(t, "s-rudi") }, KindCorruptBiometric},
		{"length mismatch", at(19, "08:10"), sameFace, func(t *testing.T) Request { return presence(t, "s-dewi") }, KindBiometricLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.service(tt.now, tt.ext, nil).Submit(context.Background(), tt.req(t))
			e := wantKind(t, err, tt.want)
			if (tt.want == KindOutOfRange || tt.want == KindFaceMismatch) && e.Distance == nil {
				t.Errorf("%s should carry a distance", tt.want)
			}
			if f.count(t) != 0 {
				t.Errorf("failed submission left %d records", f.count(t))
			}
			if f.media.saved() != 0 {
				t.Errorf("failed submission stored %d photos", f.media.saved())
			}
		})
	}
}

func TestOutOfRangeDistance(t *testing.T) {
	f := newFixture(t)
	req := presence(t, "s-budi")
	req.Lat = -6.2100
	_, err := f.service(at(19, "08:10"), sameFace, nil).Submit(context.Background(), req)
	e := wantKind(t, err, KindOutOfRange)
	if *e.Distance < 1100 || *e.Distance > 1125 {
		t.Errorf("distance = %.1f, want about 1112 m", *e.Distance)
	}
}

func TestGeofenceTolerance(t *testing.T) {
	f := newFixture(t)
	svc := NewService(Deps{
		Store:    f.repo,
		Resolver: schedule.NewResolver(f.repo),
		Matcher:  biometric.NewMatcher(sameFace, biometric.Options{}),
		Media:    f.media,
		Clock:    schedule.FixedClock(at(19, "08:10")),
	}, Options{GeofenceTolerance: 50})

	// about 122 m north of the campus center, outside 100 m but inside 150 m
	req := presence(t, "s-budi")
	req.Lat = campusLat + 0.0011
	res, err := svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit with tolerance: %v", err)
	}
	if res.Distance <= 100 {
		t.Errorf("distance = %.1f, expected beyond the bare radius", res.Distance)
	}
}

func TestBiometricTimeout(t *testing.T) {
	f := newFixture(t)
	svc := NewService(Deps{
		Store:    f.repo,
		Resolver: schedule.NewResolver(f.repo),
		Matcher:  biometric.NewMatcher(stubExtractor{block: true}, biometric.Options{Timeout: 20 * time.Millisecond}),
		Media:    f.media,
		Clock:    schedule.FixedClock(at(19, "08:10")),
	}, Options{})

	_, err := svc.Submit(context.Background(), presence(t, "s-budi"))
	wantKind(t, err, KindProcessingTimeout)
	if !KindProcessingTimeout.ServerSide() {
		t.Error("ProcessingTimeout should be server-side")
	}
	if f.count(t) != 0 {
		t.Error("timed out submission must not leave a record")
	}
}

func TestClientCancelDuringMatch(t *testing.T) {
	f := newFixture(t)
	svc := f.service(at(19, "08:10"), stubExtractor{block: true}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := svc.Submit(ctx, presence(t, "s-budi"))
	e := wantKind(t, err, KindProcessingTimeout)
	if !errors.Is(e, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled in the chain", e)
	}
	if f.count(t) != 0 {
		t.Error("cancelled submission must not leave a record")
	}
}

func TestMediaFailureIsStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.media.err = errors.New("disk full")
	_, err := f.service(at(19, "08:10"), sameFace, nil).Submit(context.Background(), presence(t, "s-budi"))
	wantKind(t, err, KindStorageFailure)
	if f.count(t) != 0 {
		t.Error("failed photo upload must not leave a record")
	}
}

func TestConcurrentCheckInsCreateOneRecord(t *testing.T) {
	for _, withGuard := range []bool{false, true} {
		name := "store only"
		if withGuard {
			name = "with guard"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			var guard Guard
			if withGuard {
				guard = NewLocalGuard()
			}
			svc := f.service(at(19, "08:10"), sameFace, guard)
			img := testImage(t)

			const n = 8
			var wg sync.WaitGroup
			errs := make([]error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = svc.Submit(context.Background(), Request{StudentID: "s-budi", Lat: campusLat, Lon: campusLon, Image: img})
				}(i)
			}
			wg.Wait()

			ok := 0
			for _, err := range errs {
				switch KindOf(err) {
				case "":
					if err != nil {
						t.Errorf("unexpected error: %v", err)
						continue
					}
					ok++
				case KindAlreadyCheckedIn, KindSubmissionInProgress:
				default:
					t.Errorf("unexpected failure: %v", err)
				}
			}
			if ok != 1 {
				t.Errorf("successful check-ins = %d, want 1", ok)
			}
			if f.count(t) != 1 {
				t.Errorf("records = %d, want 1", f.count(t))
			}
		})
	}
}

func TestGuardBusy(t *testing.T) {
	f := newFixture(t)
	guard := NewLocalGuard()
	key := Key{StudentID: "s-budi", CourseID: "c-algo", Date: "2026-10-19"}
	release, ok, _ := guard.Acquire(context.Background(), key.String(), time.Minute)
	if !ok {
		t.Fatal("first Acquire should succeed")
	}

	svc := f.service(at(19, "08:10"), sameFace, guard)
	_, err := svc.Submit(context.Background(), presence(t, "s-budi"))
	wantKind(t, err, KindSubmissionInProgress)

	release()
	if _, err := svc.Submit(context.Background(), presence(t, "s-budi")); err != nil {
		t.Fatalf("Submit after release: %v", err)
	}
}

func TestEventPublished(t *testing.T) {
	f := newFixture(t)
	res, err := f.service(at(19, "08:10"), sameFace, nil).Submit(context.Background(), presence(t, "s-budi"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := f.queue.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Type != EventRecorded {
			t.Fatalf("type = %s", msg.Type)
		}
		evt, err := DecodeEvent(msg)
		if err != nil {
			t.Fatalf("DecodeEvent: %v", err)
		}
		if evt.RecordID != res.Record.ID || evt.Action != ActionCheckIn || evt.CourseID != "c-algo" {
			t.Errorf("event = %+v", evt)
		}
	case <-ctx.Done():
		t.Fatal("no event published")
	}
}

func TestFullQueueDoesNotHoldSubmissions(t *testing.T) {
	f := newFixture(t)
	svc := NewService(Deps{
		Store:    f.repo,
		Resolver: schedule.NewResolver(f.repo),
		Matcher:  biometric.NewMatcher(sameFace, biometric.Options{Timeout: time.Second}),
		Media:    f.media,
		Clock:    schedule.FixedClock(at(19, "08:10")),
		Queue:    queue.NewInMemory(1),
	}, Options{PublishTimeout: 20 * time.Millisecond})

	reqs := []Request{presence(t, "s-budi"), presence(t, "s-sari")}
	reqs[1].CourseID = "c-algo"
	for _, req := range reqs {
		done := make(chan error, 1)
		go func() {
			_, err := svc.Submit(context.Background(), req)
			done <- err
		}()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Submit(%s): %v", req.StudentID, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Submit(%s) blocked on a full queue", req.StudentID)
		}
	}
	if n := f.count(t); n != 2 {
		t.Errorf("records = %d, want 2", n)
	}
}

func TestToday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.service(at(19, "08:10"), sameFace, nil)

	recs, err := svc.Today(ctx, "s-sari")
	if err != nil || len(recs) != 0 {
		t.Fatalf("Today() = %v, %v; want empty", recs, err)
	}
	if _, err := svc.Submit(ctx, Request{StudentID: "s-sari", CourseID: "c-stat", Status: StatusSick}); err != nil {
		t.Fatalf("leave: %v", err)
	}
	req := presence(t, "s-sari")
	req.CourseID = "c-algo"
	if _, err := svc.Submit(ctx, req); err != nil {
		t.Fatalf("check-in: %v", err)
	}

	recs, err = svc.Today(ctx, "s-sari")
	if err != nil {
		t.Fatalf("Today(): %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Today() returned %d records, want 2", len(recs))
	}
	for _, r := range recs {
		if r.CourseName == "" {
			t.Errorf("record %s missing course name", r.ID)
		}
	}
}
