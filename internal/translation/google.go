package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	translate "google.golang.org/api/translate/v2"

	"github.com/wolfman30/conversation-relay/pkg/logging"
)

// ErrNotConfigured is returned when no API key was supplied.
var ErrNotConfigured = errors.New("translation: api key not configured")

// Config controls the Google Translate client.
type Config struct {
	APIKey string
	// Endpoint overrides the service base URL (tests, proxies).
	Endpoint string
	// ClientOptions are appended after the key/endpoint options.
	ClientOptions []option.ClientOption
	Logger        *logging.Logger
}

// GoogleTranslator translates message content via the Translate v2 API.
type GoogleTranslator struct {
	svc    *translate.Service
	logger *logging.Logger
}

// NewGoogleTranslator creates a translator. An empty API key yields a
// translator whose calls fail with ErrNotConfigured.
func NewGoogleTranslator(ctx context.Context, cfg Config) (*GoogleTranslator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" && len(cfg.ClientOptions) == 0 {
		return &GoogleTranslator{logger: logger}, nil
	}

	opts := make([]option.ClientOption, 0, len(cfg.ClientOptions)+2)
	if key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	opts = append(opts, cfg.ClientOptions...)

	svc, err := translate.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("translation: create service: %w", err)
	}
	return &GoogleTranslator{svc: svc, logger: logger}, nil
}

// Translate returns text rendered in the target language.
func (t *GoogleTranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	if t == nil || t.svc == nil {
		return "", ErrNotConfigured
	}
	targetLanguage = strings.TrimSpace(targetLanguage)
	if targetLanguage == "" {
		return "", errors.New("translation: target language required")
	}

	resp, err := t.svc.Translations.List([]string{text}, targetLanguage).Format("text").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("translation: translate to %s: %w", targetLanguage, err)
	}
	if resp == nil || len(resp.Translations) == 0 {
		return "", fmt.Errorf("translation: empty response for %s", targetLanguage)
	}
	out := resp.Translations[0]
	t.logger.Debug("translated message content", "target", targetLanguage, "source", out.DetectedSourceLanguage)
	return out.TranslatedText, nil
}
