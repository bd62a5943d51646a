package model

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// KeyStatus is the lifecycle state of an analysis key.
type KeyStatus string

const (
	KeyActive   KeyStatus = "active"
	KeyUsed     KeyStatus = "used"
	KeyInactive KeyStatus = "inactive"
)

// ParseKeyStatus converts user input into a KeyStatus.
func ParseKeyStatus(s string) (KeyStatus, bool) {
	st := KeyStatus(s)
	return st, st.Valid()
}

func (s KeyStatus) Valid() bool {
	switch s {
	case KeyActive, KeyUsed, KeyInactive:
		return true
	}
	return false
}

// CanTransitionTo reports whether a key in status s may move to next.
//
// STATUS ORDER:
//
//	active → used → inactive
//	active ──────→ inactive
//
// Staying in the same status is allowed (a no-op). Nothing ever moves
// back to active, and inactive is terminal.
func (s KeyStatus) CanTransitionTo(next KeyStatus) bool {
	switch next {
	case KeyActive:
		return s == KeyActive
	case KeyUsed:
		return s == KeyActive || s == KeyUsed
	case KeyInactive:
		return s.Valid()
	}
	return false
}

// Metadata is a free-form JSON object attached to an analysis key.
// It is stored as TEXT and round-trips through driver.Valuer / sql.Scanner.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("model: encoding metadata: %w", err)
	}
	return string(b), nil
}

func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("model: cannot scan %T into Metadata", src)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("model: decoding metadata: %w", err)
	}
	*m = out
	return nil
}

// AnalysisKey is the local mirror of a key issued by the remote server.
//
// Key is globally unique. At most one key per (UserID, SessionID) pair is
// active at any time; that is enforced by a partial unique index.
type AnalysisKey struct {
	ID          int64      `json:"id"`
	RemoteKeyID *int64     `json:"keyId,omitempty"`
	Key         string     `json:"key"`
	SessionID   int64      `json:"sessionId"`
	UserID      int64      `json:"userId"`
	AnalysisID  *int64     `json:"analysisId,omitempty"`
	Status      KeyStatus  `json:"status"`
	Metadata    Metadata   `json:"metadata,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the key has an expiry that lies before now.
func (k *AnalysisKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}
