package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"presensi/internal/geo"
	"presensi/internal/schedule"
)

// ErrConflict is returned when an atomic write finds the key in a state that
// does not allow it: an existing row on insert, or a row not awaiting check-out
// on update.
var ErrConflict = errors.New("attendance record conflict")

// Repository persists attendance data with database/sql. Queries use $n
// placeholders, which both pgx and sqlite3 accept. sqlite3 binds $n by order
// of first appearance, so every query must number them in the order they are
// written.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindStudent returns nil, nil when the student does not exist.
func (r *Repository) FindStudent(ctx context.Context, id string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(campus_id, ''), full_name, face_embedding
		FROM students WHERE id = $1
	`, id)
	var s Student
	if err := row.Scan(&s.ID, &s.CampusID, &s.FullName, &s.FaceEmbedding); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// FindCampus returns nil, nil when the campus does not exist.
func (r *Repository) FindCampus(ctx context.Context, id string) (*Campus, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, latitude, longitude, radius_meters
		FROM campuses WHERE id = $1
	`, id)
	var c Campus
	var lat, lon float64
	if err := row.Scan(&c.ID, &c.Name, &lat, &lon, &c.RadiusMeters); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Center = geo.Point(lat, lon)
	return &c, nil
}

// CoursesForStudentOnWeekday implements schedule.CourseSource.
func (r *Repository) CoursesForStudentOnWeekday(ctx context.Context, studentID string, day time.Weekday) ([]schedule.Course, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.weekday, c.opens_at, c.check_in_until, c.closes_at
		FROM courses c
		JOIN course_students cs ON cs.course_id = c.id
		WHERE cs.student_id = $1 AND c.weekday = $2
		ORDER BY c.opens_at, c.id
	`, studentID, int(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courses []schedule.Course
	for rows.Next() {
		var c schedule.Course
		var wd int
		if err := rows.Scan(&c.ID, &c.Name, &wd, &c.OpensAt, &c.CheckInUntil, &c.ClosesAt); err != nil {
			return nil, err
		}
		c.Weekday = time.Weekday(wd)
		if err := c.Validate(); err != nil {
			log.Printf("attendance: skipping misconfigured course: %v", err)
			continue
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

const recordColumns = `
	a.id, a.student_id, a.course_id, COALESCE(c.name, ''), a.attendance_date, a.status,
	a.check_in_at, a.check_in_photo, a.check_in_lat, a.check_in_lon,
	a.check_out_at, a.check_out_photo, a.check_out_lat, a.check_out_lon,
	a.created_at, a.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec               Record
		date              time.Time
		status            string
		inAt, outAt       sql.NullTime
		inPhoto, outPhoto sql.NullString
		inLat, inLon      sql.NullFloat64
		outLat, outLon    sql.NullFloat64
	)
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.CourseID, &rec.CourseName, &date, &status,
		&inAt, &inPhoto, &inLat, &inLon,
		&outAt, &outPhoto, &outLat, &outLon,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Date = date.Format(DateLayout)
	rec.Status = Status(status)
	if inAt.Valid {
		t := inAt.Time
		rec.CheckInAt = &t
	}
	if outAt.Valid {
		t := outAt.Time
		rec.CheckOutAt = &t
	}
	rec.CheckInPhoto = inPhoto.String
	rec.CheckOutPhoto = outPhoto.String
	if inLat.Valid && inLon.Valid {
		rec.CheckInLoc = &Location{Lat: inLat.Float64, Lon: inLon.Float64}
	}
	if outLat.Valid && outLon.Valid {
		rec.CheckOutLoc = &Location{Lat: outLat.Float64, Lon: outLon.Float64}
	}
	return rec, nil
}

// FindAttendance returns nil, nil when no record exists for key.
func (r *Repository) FindAttendance(ctx context.Context, key Key) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records a
		LEFT JOIN courses c ON c.id = a.course_id
		WHERE a.student_id = $1 AND a.course_id = $2 AND a.attendance_date = $3
	`, key.StudentID, key.CourseID, key.Date)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// CreateAttendance inserts rec unless a record already exists for its key, in
// which case ErrConflict is returned. The insert is a single statement, so two
// concurrent creates for one key cannot both succeed.
func (r *Repository) CreateAttendance(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now

	var inLat, inLon any
	if rec.CheckInLoc != nil {
		inLat, inLon = rec.CheckInLoc.Lat, rec.CheckInLoc.Lon
	}
	var inAt any
	if rec.CheckInAt != nil {
		inAt = rec.CheckInAt.UTC()
	}

	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, student_id, course_id, attendance_date, status,
			 check_in_at, check_in_photo, check_in_lat, check_in_lon, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (student_id, course_id, attendance_date) DO NOTHING
		RETURNING id
	`, rec.ID, rec.StudentID, rec.CourseID, rec.Date, string(rec.Status),
		inAt, nullString(rec.CheckInPhoto), inLat, inLon, now, now).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return Record{}, ErrConflict
		}
		return Record{}, err
	}
	return rec, nil
}

// CheckOutAttendance fills the check-out fields of the present record for key.
// The update only applies while the row has a check-in and no check-out;
// otherwise ErrConflict is returned and nothing changes.
func (r *Repository) CheckOutAttendance(ctx context.Context, key Key, at time.Time, photoRef string, loc Location) (Record, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET check_out_at = $1, check_out_photo = $2, check_out_lat = $3, check_out_lon = $4, updated_at = $5
		WHERE student_id = $6 AND course_id = $7 AND attendance_date = $8
		  AND status = 'hadir' AND check_in_at IS NOT NULL AND check_out_at IS NULL
	`, at.UTC(), nullString(photoRef), loc.Lat, loc.Lon, time.Now().UTC(), key.StudentID, key.CourseID, key.Date)
	if err != nil {
		return Record{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, err
	}
	if n == 0 {
		return Record{}, ErrConflict
	}

	rec, err := r.FindAttendance(ctx, key)
	if err != nil {
		return Record{}, err
	}
	if rec == nil {
		return Record{}, fmt.Errorf("record %v vanished after check-out", key)
	}
	return *rec, nil
}

// ListAttendanceForDate returns a student's records for one date.
func (r *Repository) ListAttendanceForDate(ctx context.Context, studentID, date string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records a
		LEFT JOIN courses c ON c.id = a.course_id
		WHERE a.student_id = $1 AND a.attendance_date = $2
		ORDER BY a.created_at
	`, studentID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation recognises unique-key errors from either driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE 23505 = unique_violation
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
