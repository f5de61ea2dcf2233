package models

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/oklog/ulid/v2"
)

// idEntropy is shared across the process; ulid.Monotonic is not safe for
// concurrent use on its own, so reads are serialised with a mutex.
var idEntropy = &lockedMonotonicReader{r: ulid.Monotonic(rand.Reader, 0)}

type lockedMonotonicReader struct {
	mu sync.Mutex
	r  io.Reader
}

func (l *lockedMonotonicReader) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Read(p)
}

// ID is a lexicographically sortable identifier used for every entity this
// service owns (delivery records, credentials, templates, chat rows).
// Tenant identifiers are caller-supplied opaque strings and are never an ID.
type ID struct {
	ulid.ULID
}

// NewID mints a new ID using the current time and the shared monotonic
// entropy source.
func NewID() ID {
	return ID{ulid.MustNew(ulid.Now(), idEntropy)}
}

// ParseID parses a canonical ULID string into an ID.
func ParseID(s string) (ID, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return ID{}, fmt.Errorf("models: parse id %q: %w", s, err)
	}
	return ID{u}, nil
}

// IsZero reports whether the ID is the zero value.
func (id ID) IsZero() bool {
	return id.ULID == (ulid.ULID{})
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*id = ID{}
		return nil
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Scan implements sql.Scanner so an ID can be read directly out of pgx rows.
func (id *ID) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*id = ID{}
		return nil
	case string:
		if v == "" {
			*id = ID{}
			return nil
		}
		parsed, err := ParseID(v)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case []byte:
		return id.Scan(string(v))
	default:
		return fmt.Errorf("models: cannot scan %T into ID", src)
	}
}

// Value implements driver.Valuer.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return id.String(), nil
}
