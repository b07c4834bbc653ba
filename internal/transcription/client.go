package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	observemetrics "github.com/wolfman30/conversation-relay/internal/observability/metrics"
	"github.com/wolfman30/conversation-relay/pkg/logging"
)

var tracer = otel.Tracer("relay.internal.transcription")

const (
	defaultBaseURL = "https://api.openai.com/v1"
	// Model is the fixed speech-to-text model identifier.
	Model = "whisper-1"

	maxErrorBody = 4 << 10
	// matches the upstream API's upload ceiling
	defaultMaxAudioBytes = 25 << 20
)

// Outcome labels why a transcription did or did not produce text.
type Outcome string

const (
	OutcomeOK                Outcome = "ok"
	OutcomeMissingCredential Outcome = "missing_credential"
	OutcomeDownloadFailed    Outcome = "download_failed"
	OutcomeAPIFailed         Outcome = "api_failed"
	OutcomeEmpty             Outcome = "empty"
)

// Result is the outcome of a single transcription. Text is empty unless
// Outcome is OutcomeOK.
type Result struct {
	Text    string
	Outcome Outcome
}

// OK reports whether the result carries text.
func (r Result) OK() bool {
	return r.Outcome == OutcomeOK && r.Text != ""
}

// Config controls how the transcription client behaves.
type Config struct {
	APIKey      string
	BaseURL     string
	FrontendURL string
	Timeout     time.Duration
	TempDir     string
	// MaxAudioBytes caps the downloaded file; larger audio is not sent.
	MaxAudioBytes int64
	HTTPClient    *http.Client
	Logger        *logging.Logger
	Metrics       *observemetrics.EnrichmentMetrics
}

// Client calls an OpenAI-compatible /audio/transcriptions endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	frontendURL string
	tempDir     string
	maxBytes    int64
	httpClient  *http.Client
	logger      *logging.Logger
	metrics     *observemetrics.EnrichmentMetrics
}

// New creates a Client. A missing API key is valid: every call then
// returns OutcomeMissingCredential without touching the network.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	maxBytes := cfg.MaxAudioBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxAudioBytes
	}
	return &Client{
		apiKey:      strings.TrimSpace(cfg.APIKey),
		baseURL:     baseURL,
		frontendURL: strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/"),
		tempDir:     cfg.TempDir,
		maxBytes:    maxBytes,
		httpClient:  httpClient,
		logger:      logger,
		metrics:     cfg.Metrics,
	}
}

// Transcribe downloads the audio at audioURL and returns its transcript.
// It never returns an error; failures are reported through Result.Outcome.
func (c *Client) Transcribe(ctx context.Context, audioURL string) Result {
	ctx, span := tracer.Start(ctx, "transcription.transcribe")
	defer span.End()

	res := c.transcribe(ctx, audioURL)
	span.SetAttributes(attribute.String("relay.transcription.outcome", string(res.Outcome)))
	if res.Outcome != OutcomeOK && res.Outcome != OutcomeEmpty {
		span.SetStatus(codes.Error, string(res.Outcome))
	}
	c.metrics.ObserveTranscription(string(res.Outcome))
	return res
}

func (c *Client) transcribe(ctx context.Context, audioURL string) Result {
	if c.apiKey == "" {
		c.logger.Error("transcription skipped: api key not configured")
		return Result{Outcome: OutcomeMissingCredential}
	}

	resolved := c.resolveURL(audioURL)
	file, err := c.download(ctx, resolved)
	if err != nil {
		c.logger.Error("transcription download failed", "error", err, "url", redactQuery(resolved))
		return Result{Outcome: OutcomeDownloadFailed}
	}
	defer func() {
		file.Close()
		os.Remove(file.Name())
	}()

	text, err := c.upload(ctx, file, fileNameFor(resolved))
	if err != nil {
		c.logger.Error("transcription request failed", "error", err)
		return Result{Outcome: OutcomeAPIFailed}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.logger.Info("transcription returned no text", "url", redactQuery(resolved))
		return Result{Outcome: OutcomeEmpty}
	}
	return Result{Text: text, Outcome: OutcomeOK}
}

// resolveURL prefixes relative paths with the frontend origin.
func (c *Client) resolveURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http") || c.frontendURL == "" {
		return raw
	}
	return c.frontendURL + "/" + strings.TrimLeft(raw, "/")
}

// download copies the remote resource into a temp file positioned at offset 0.
// The caller owns the returned file; on error nothing is left behind.
// Bodies over maxBytes are rejected before or while copying.
func (c *Client) download(ctx context.Context, rawURL string) (*os.File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("transcription: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("transcription: download status %d", resp.StatusCode)
	}
	if resp.ContentLength > c.maxBytes {
		return nil, fmt.Errorf("transcription: audio is %d bytes, limit %d", resp.ContentLength, c.maxBytes)
	}

	file, err := os.CreateTemp(c.tempDir, "relay-audio-*")
	if err != nil {
		return nil, fmt.Errorf("transcription: create temp file: %w", err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(file.Name())
	}
	n, err := io.Copy(file, io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("transcription: write temp file: %w", err)
	}
	if n > c.maxBytes {
		cleanup()
		return nil, fmt.Errorf("transcription: audio exceeds %d bytes", c.maxBytes)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, fmt.Errorf("transcription: rewind temp file: %w", err)
	}
	return file, nil
}

// upload streams the multipart form to the API without buffering the audio.
func (c *Client) upload(ctx context.Context, audio io.Reader, fileName string) (string, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(writeForm(writer, audio, fileName))
	}()
	defer func() {
		// unblocks the writer if the request ended before reading the body
		pr.Close()
		<-done
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", pr)
	if err != nil {
		return "", fmt.Errorf("transcription: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("transcription: api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("transcription: decode response: %w", err)
	}
	return payload.Text, nil
}

func writeForm(writer *multipart.Writer, audio io.Reader, fileName string) error {
	if err := writer.WriteField("model", Model); err != nil {
		return fmt.Errorf("transcription: write field: %w", err)
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return fmt.Errorf("transcription: create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return fmt.Errorf("transcription: copy audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("transcription: close multipart writer: %w", err)
	}
	return nil
}

func fileNameFor(rawURL string) string {
	name := rawURL
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	name = path.Base(name)
	if name == "" || name == "." || name == "/" {
		return "audio"
	}
	return name
}

// redactQuery drops presigned query parameters before logging.
func redactQuery(rawURL string) string {
	if i := strings.Index(rawURL, "?"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
