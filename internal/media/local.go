package media

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"
)

// Local writes photos under a directory and returns a URL path below PublicPrefix.
type Local struct {
	Dir          string
	PublicPrefix string
	now          func() time.Time
}

// NewLocal creates dir if needed.
func NewLocal(dir, publicPrefix string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{Dir: dir, PublicPrefix: publicPrefix, now: time.Now}, nil
}

func (l *Local) SavePhoto(ctx context.Context, data []byte, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	file := UniqueName(name, l.now())
	dst := filepath.Join(l.Dir, file)

	// write then rename so readers never see a partial file
	tmp := dst + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write photo: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write photo: %w", err)
	}
	return path.Join(l.PublicPrefix, file), nil
}
