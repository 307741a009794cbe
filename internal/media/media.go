// Package media stores attendance photos and returns a reference to them.
package media

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Store saves a photo and returns a durable reference (URL or path).
type Store interface {
	SavePhoto(ctx context.Context, data []byte, name string) (string, error)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.\-_]+`)

// UniqueName builds "<yyyymmdd>-<uuid>-<name>" with unsafe characters replaced.
func UniqueName(name string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", now.Format("20060102"), uuid.NewString(), unsafeChars.ReplaceAllString(name, "_"))
}
