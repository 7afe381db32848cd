package memory

import (
	"encoding/json"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxContentLength is the maximum content length in characters after
	// sanitization. Longer content is capped.
	MaxContentLength = 32768

	// MaxMetadataBytes is the maximum size of the serialized metadata object.
	MaxMetadataBytes = 16384

	// MaxMetadataFields is the maximum number of top-level metadata fields.
	MaxMetadataFields = 50

	// MaxMetadataKeyLength is the maximum metadata key length in characters.
	MaxMetadataKeyLength = 64

	// MaxMetadataStringLength is the maximum length in characters of any
	// string value nested anywhere inside the metadata.
	MaxMetadataStringLength = 1024

	// DefaultDimension is the embedding dimension used when none is configured.
	DefaultDimension = 1536
)

// Validator checks records against the store's invariants before any
// backend I/O takes place.
type Validator struct {
	Dimension int
}

// NewValidator returns a validator for embeddings of the given dimension.
// A non-positive dimension selects DefaultDimension.
func NewValidator(dimension int) Validator {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return Validator{Dimension: dimension}
}

// Record validates a record for insertion and returns its sanitized content.
func (v Validator) Record(rec *Record) (string, error) {
	if rec == nil {
		return "", invalidContent("record is nil")
	}
	if !rec.Kind.Valid() {
		return "", invalidContent("unknown kind %q", rec.Kind)
	}
	if err := v.Embedding(rec.Embedding); err != nil {
		return "", err
	}
	if err := ValidateMetadata(rec.Metadata); err != nil {
		return "", err
	}
	return SanitizeContent(rec.Content)
}

// Embedding checks the vector length against the configured dimension and
// rejects non-finite components.
func (v Validator) Embedding(embedding []float32) error {
	if len(embedding) != v.Dimension {
		return vectorShape("expected %d dimensions, got %d", v.Dimension, len(embedding))
	}
	for i, f := range embedding {
		f64 := float64(f)
		if math.IsNaN(f64) || math.IsInf(f64, 0) {
			return vectorShape("component %d is not finite", i)
		}
	}
	return nil
}

// SanitizeContent strips control characters other than newline and tab and
// caps the result at MaxContentLength characters. Content that is not valid
// UTF-8 or that is empty after sanitization is rejected.
func SanitizeContent(content string) (string, error) {
	if !utf8.ValidString(content) {
		return "", invalidContent("content is not valid UTF-8")
	}

	var b strings.Builder
	b.Grow(len(content))
	n := 0
	for _, r := range content {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		if n == MaxContentLength {
			break
		}
		b.WriteRune(r)
		n++
	}

	if n == 0 {
		return "", invalidContent("content is empty")
	}

	return b.String(), nil
}

// ValidateMetadata enforces the size and shape limits on record metadata.
// A nil map is valid.
func ValidateMetadata(metadata map[string]any) error {
	if len(metadata) > MaxMetadataFields {
		return invalidMetadata("%d top-level fields exceeds limit of %d", len(metadata), MaxMetadataFields)
	}

	for key, value := range metadata {
		if utf8.RuneCountInString(key) > MaxMetadataKeyLength {
			return invalidMetadata("key %q exceeds %d characters", truncateKey(key), MaxMetadataKeyLength)
		}
		if err := checkMetadataValue(key, value); err != nil {
			return err
		}
	}

	data, err := json.Marshal(metadata)
	if err != nil {
		return invalidMetadata("metadata is not serializable: %v", err)
	}
	if len(data) > MaxMetadataBytes {
		return invalidMetadata("serialized size %d exceeds limit of %d bytes", len(data), MaxMetadataBytes)
	}

	return nil
}

func checkMetadataValue(key string, value any) error {
	switch v := value.(type) {
	case string:
		if utf8.RuneCountInString(v) > MaxMetadataStringLength {
			return invalidMetadata("value of %q exceeds %d characters", truncateKey(key), MaxMetadataStringLength)
		}
	case map[string]any:
		for k, nested := range v {
			if err := checkMetadataValue(key+"."+k, nested); err != nil {
				return err
			}
		}
	case []any:
		for _, nested := range v {
			if err := checkMetadataValue(key, nested); err != nil {
				return err
			}
		}
	case []string:
		for _, nested := range v {
			if err := checkMetadataValue(key, nested); err != nil {
				return err
			}
		}
	}
	return nil
}

func truncateKey(key string) string {
	const maxShown = 32
	if utf8.RuneCountInString(key) <= maxShown {
		return key
	}
	return string([]rune(key)[:maxShown]) + "..."
}
