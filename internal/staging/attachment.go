package staging

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Attachment is an inbound binary payload owned by the request that carried it.
type Attachment struct {
	FileName    string
	ContentType string
	Data        []byte
}

// IsAudio reports whether the declared content type is audio/*. The payload
// itself is never inspected.
func (a Attachment) IsAudio() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.ContentType)), "audio/")
}

// StagedResource is a temporary, externally fetchable handle to an
// attachment's bytes. It must be released by the caller that staged it.
type StagedResource struct {
	Key       string
	URL       string
	ExpiresAt time.Time
	released  bool
}

// Released reports whether Release already ran for r.
func (r *StagedResource) Released() bool {
	return r == nil || r.released
}

// Error reports an attachment that could not be staged, persisted or removed.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("staging: %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("staging: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNotConfigured is returned when no bucket is configured.
var ErrNotConfigured = errors.New("staging: store not configured")

// sanitizeFileName keeps object keys URL-safe while preserving the extension.
func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" || cleaned == "_" {
		return "attachment"
	}
	return cleaned
}
