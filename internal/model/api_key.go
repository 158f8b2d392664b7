package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Permission string

const (
	PermRead      Permission = "read"
	PermWrite     Permission = "write"
	PermReadWrite Permission = "read_write"
)

func (p Permission) Valid() bool {
	return p == PermRead || p == PermWrite || p == PermReadWrite
}

func (p Permission) CanRead() bool  { return p == PermRead || p == PermReadWrite }
func (p Permission) CanWrite() bool { return p == PermWrite || p == PermReadWrite }

// ParsePermission normalizes input; empty => read.
func ParsePermission(s string) (Permission, bool) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PermRead, true
	}
	return p, p.Valid()
}

// Endpoints maps endpoint ids (e.g. "licenses.activate") to whether the key
// may call them. Stored as a JSON column.
type Endpoints map[string]bool

// Allows reports whether id is enabled. An empty set allows everything.
func (e Endpoints) Allows(id string) bool {
	if len(e) == 0 {
		return true
	}
	return e[id]
}

func (e Endpoints) Value() (driver.Value, error) {
	if e == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]bool(e))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (e *Endpoints) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*e = Endpoints{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("endpoints: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*e = Endpoints{}
		return nil
	}
	m := map[string]bool{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("endpoints: %w", err)
	}
	*e = m
	return nil
}

// APIKey authenticates REST consumers. ConsumerKey is stored hashed;
// TruncatedKey keeps the last 7 characters for display.
type APIKey struct {
	ID             int64      `db:"id"`
	UserID         int64      `db:"user_id"`
	Description    string     `db:"description"`
	Permissions    Permission `db:"permissions"`
	ConsumerKey    string     `db:"consumer_key"`
	ConsumerSecret string     `db:"consumer_secret"`
	TruncatedKey   string     `db:"truncated_key"`
	Endpoints      Endpoints  `db:"endpoints"`
	LastAccess     *time.Time `db:"last_access"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      *time.Time `db:"updated_at"`
}
