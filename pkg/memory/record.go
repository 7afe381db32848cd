package memory

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a memory record.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindKnowledge    Kind = "knowledge"
	KindExperience   Kind = "experience"
	KindSkill        Kind = "skill"
	KindPreference   Kind = "preference"
)

// Kinds lists every supported kind in declaration order.
var Kinds = []Kind{
	KindConversation,
	KindKnowledge,
	KindExperience,
	KindSkill,
	KindPreference,
}

// ParseKind parses a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown memory kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindConversation, KindKnowledge, KindExperience, KindSkill, KindPreference:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Scan implements sql.Scanner so kinds can be read straight from a text column.
func (k *Kind) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into memory.Kind", src)
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Value implements driver.Valuer.
func (k Kind) Value() (driver.Value, error) {
	return string(k), nil
}

// Record is a single persisted memory.
type Record struct {
	ID           uuid.UUID      `json:"id"`
	Kind         Kind           `json:"kind"`
	Content      string         `json:"content"`
	Embedding    []float32      `json:"embedding"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessed time.Time      `json:"last_accessed"`
}

// Clone returns a copy of r that shares no slices or maps with it.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Embedding = append([]float32(nil), r.Embedding...)
	if r.Metadata != nil {
		c.Metadata = cloneMap(r.Metadata)
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = cloneMap(vv)
		case []any:
			out[k] = cloneSlice(vv)
		default:
			out[k] = v
		}
	}
	return out
}

func cloneSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		switch vv := v.(type) {
		case map[string]any:
			out[i] = cloneMap(vv)
		case []any:
			out[i] = cloneSlice(vv)
		default:
			out[i] = v
		}
	}
	return out
}

// Page is one window of a paginated listing.
type Page struct {
	Records []*Record `json:"records"`
	Total   int       `json:"total"`
}

// Now returns the current time normalized the way records persist it: UTC,
// truncated to microseconds.
func Now() time.Time {
	return NormalizeTime(time.Now())
}

// CreationTime is the created_at a stored record gets: t normalized, or now
// when t is zero.
func CreationTime(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return NormalizeTime(t)
}

// NormalizeTime converts t to UTC microsecond precision.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// EncodeMetadata serializes metadata for storage. Nil and empty maps encode
// as "{}".
func EncodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", invalidMetadata("metadata is not serializable: %v", err)
	}
	return string(data), nil
}
