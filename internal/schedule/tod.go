package schedule

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Tod is a time of day, stored as seconds since midnight.
type Tod int

// NewTod builds a Tod from hour, minute and second.
func NewTod(h, m, s int) Tod {
	return Tod(h*3600 + m*60 + s)
}

// TodOf takes the wall-clock part of t in its own location.
func TodOf(t time.Time) Tod {
	return NewTod(t.Hour(), t.Minute(), t.Second())
}

// ParseTod parses "HH:MM" or "HH:MM:SS".
func ParseTod(s string) (Tod, error) {
	s = strings.TrimSpace(s)
	if len(s) == 5 {
		s += ":00"
	}
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return 0, fmt.Errorf("tod: %w", err)
	}
	return TodOf(t), nil
}

// MustTod is ParseTod for literals.
func MustTod(s string) Tod {
	t, err := ParseTod(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Tod) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(t)/3600, int(t)%3600/60, int(t)%60)
}

// Scan accepts time.Time, or "HH:MM[:SS]" as string or bytes.
func (t *Tod) Scan(v any) error {
	switch x := v.(type) {
	case time.Time:
		*t = TodOf(x)
		return nil
	case []byte:
		return t.parse(string(x))
	case string:
		return t.parse(x)
	case nil:
		*t = 0
		return nil
	default:
		return fmt.Errorf("tod: unsupported Scan type %T", v)
	}
}

func (t *Tod) parse(s string) error {
	// Postgres TIME can come back with fractional seconds
	if i := strings.IndexByte(s, '.'); i > 0 {
		s = s[:i]
	}
	parsed, err := ParseTod(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value sends "HH:MM:SS" so a Postgres TIME column accepts it.
func (t Tod) Value() (driver.Value, error) {
	return t.String(), nil
}

func (t Tod) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Tod) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return t.parse(s)
}
