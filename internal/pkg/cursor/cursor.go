// Package cursor encodes the keyset position used for backward message
// pagination. A cursor names the oldest (createdAt, id) pair a client has
// already seen; the next page holds strictly older messages.
package cursor

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const version = "v1"

// ErrInvalidCursor is returned for cursors that were not produced by Encode
var ErrInvalidCursor = errors.New("invalid cursor")

// Position is the decoded form of a cursor
type Position struct {
	CreatedAt time.Time
	ID        int64
}

// Before reports whether (createdAt, id) sorts strictly before the position,
// i.e. belongs to an older page.
func (p Position) Before(createdAt time.Time, id int64) bool {
	if createdAt.Equal(p.CreatedAt) {
		return id < p.ID
	}
	return createdAt.Before(p.CreatedAt)
}

// Encode produces the opaque cursor string for a position. Timestamps are
// kept at microsecond precision, which is what PostgreSQL stores.
func Encode(p Position) string {
	raw := fmt.Sprintf("%s:%d:%d", version, p.CreatedAt.UnixMicro(), p.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor. An empty string decodes to nil, meaning
// "start from the newest message".
func Decode(s string) (*Position, error) {
	if s == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 || parts[0] != version {
		return nil, ErrInvalidCursor
	}

	micros, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return nil, ErrInvalidCursor
	}

	return &Position{CreatedAt: time.UnixMicro(micros).UTC(), ID: id}, nil
}
