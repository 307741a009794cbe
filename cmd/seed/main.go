// Seeder for a local demo: one campus, one student enrolled in a course that
// is open around the current time today.
//
// Only runs with APP_ENV=dev and --confirm:
//
//	APP_ENV=dev DATABASE_DRIVER=sqlite3 DATABASE_URL=presensi.db go run ./cmd/seed --confirm
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"presensi/internal/config"
	"presensi/internal/schedule"
	"presensi/internal/store"
)

func main() {
	lat := flag.Float64("lat", -6.2000, "campus latitude")
	lon := flag.Float64("lon", 106.8166, "campus longitude")
	radius := flag.Float64("radius", 150, "campus radius in meters")
	student := flag.String("student", "s-demo", "student id")
	confirm := flag.Bool("confirm", false, "Confirm seeding (required)")
	flag.Parse()

	cfg := config.Load()
	if cfg.Env != "dev" && cfg.Env != "development" {
		log.Fatalf("ERROR: seeder only runs with APP_ENV=dev")
	}
	if !*confirm {
		log.Fatalf("ERROR: --confirm flag is required to run seeder")
	}

	db, err := store.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	now := time.Now().In(schedule.LoadLocation(cfg.Timezone))
	at := schedule.TodOf(now)
	opens, cutoff, closes := clamp(at-3600), clamp(at+1800), clamp(at+3*3600)

	stmts := []struct {
		q    string
		args []any
	}{
		{`INSERT INTO campuses (id, name, latitude, longitude, radius_meters) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
			[]any{"kampus-demo", "Kampus Demo", *lat, *lon, *radius}},
		{`INSERT INTO students (id, campus_id, full_name, face_embedding) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
			// matches the face client's FACE_SKIP embedding
			[]any{*student, "kampus-demo", "Demo Student", "[0.1, 0.2, 0.3]"}},
		{`INSERT INTO courses (id, name, weekday, opens_at, check_in_until, closes_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
			[]any{"c-demo-" + now.Weekday().String(), "Demo " + now.Weekday().String(), int(now.Weekday()), opens, cutoff, closes}},
		{`INSERT INTO course_students (course_id, student_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			[]any{"c-demo-" + now.Weekday().String(), *student}},
	}
	for _, s := range stmts {
		if _, err := db.Client.ExecContext(ctx, s.q, s.args...); err != nil {
			log.Fatalf("seed: %v", err)
		}
	}

	log.Printf("seeded %s at campus (%.5f, %.5f) r=%.0fm; course window %s / %s / %s",
		*student, *lat, *lon, *radius, opens, cutoff, closes)
	log.Printf("get a token with: go run ./cmd/token -student %s", *student)
}

func clamp(t schedule.Tod) schedule.Tod {
	const endOfDay = schedule.Tod(24*3600 - 1)
	switch {
	case t < 0:
		return 0
	case t > endOfDay:
		return endOfDay
	}
	return t
}
