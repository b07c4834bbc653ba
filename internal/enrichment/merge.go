package enrichment

import (
	"strings"

	"github.com/wolfman30/conversation-relay/internal/staging"
)

const separator = "\n\n"

// Merge appends the transcription block to the original content. Blank
// segments are dropped so the result never starts or ends with a separator.
func Merge(original, transcription string) string {
	return joinNonBlank([]string{original, transcription})
}

// JoinTranscriptions joins the non-blank transcripts in order.
func JoinTranscriptions(texts []string) string {
	return joinNonBlank(texts)
}

// HasAudio reports whether any attachment declares an audio content type.
func HasAudio(attachments []staging.Attachment) bool {
	for _, att := range attachments {
		if att.IsAudio() {
			return true
		}
	}
	return false
}

func joinNonBlank(parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, separator)
}
