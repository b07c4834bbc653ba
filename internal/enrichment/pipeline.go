package enrichment

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/conversation-relay/internal/staging"
	"github.com/wolfman30/conversation-relay/internal/transcription"
	"github.com/wolfman30/conversation-relay/pkg/logging"
)

// Stager makes attachment bytes fetchable for the duration of a transcription.
type Stager interface {
	Stage(ctx context.Context, att staging.Attachment) (*staging.StagedResource, error)
	Release(ctx context.Context, res *staging.StagedResource) error
}

// Transcriber turns a fetchable audio URL into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) transcription.Result
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithConcurrency processes up to n attachments at once. Output order always
// follows attachment order.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// Pipeline stages and transcribes audio attachments, then folds the text
// into the message content.
type Pipeline struct {
	stager      Stager
	transcriber Transcriber
	logger      *logging.Logger
	concurrency int
}

// NewPipeline builds a pipeline. It panics when a collaborator is missing.
func NewPipeline(stager Stager, transcriber Transcriber, logger *logging.Logger, opts ...Option) *Pipeline {
	if stager == nil {
		panic("enrichment: stager cannot be nil")
	}
	if transcriber == nil {
		panic("enrichment: transcriber cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Pipeline{
		stager:      stager,
		transcriber: transcriber,
		logger:      logger,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enrich returns original merged with the transcripts of every audio
// attachment. Per-attachment failures only drop that attachment's text.
func (p *Pipeline) Enrich(ctx context.Context, original string, attachments []staging.Attachment) string {
	audio := make([]staging.Attachment, 0, len(attachments))
	for _, att := range attachments {
		if att.IsAudio() {
			audio = append(audio, att)
		}
	}
	if len(audio) == 0 {
		return Merge(original, "")
	}

	texts := make([]string, len(audio))
	if p.concurrency <= 1 || len(audio) == 1 {
		for i, att := range audio {
			texts[i] = p.process(ctx, i, att)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(p.concurrency)
		for i, att := range audio {
			g.Go(func() error {
				texts[i] = p.process(ctx, i, att)
				return nil
			})
		}
		_ = g.Wait()
	}

	return Merge(original, JoinTranscriptions(texts))
}

// process runs stage, transcribe and release for one attachment.
func (p *Pipeline) process(ctx context.Context, index int, att staging.Attachment) string {
	logger := p.logger.With("attachment_index", index, "content_type", att.ContentType)

	res, err := p.stager.Stage(ctx, att)
	defer func() {
		// released even when the request context is already done
		if relErr := p.stager.Release(context.WithoutCancel(ctx), res); relErr != nil {
			logger.Warn("failed to release staged attachment", "error", relErr)
		}
	}()
	if err != nil {
		logger.Warn("attachment staging failed, skipping transcription", "error", err)
		return ""
	}

	result := p.transcriber.Transcribe(ctx, res.URL)
	if !result.OK() {
		logger.Info("no transcription for attachment", "outcome", string(result.Outcome))
		return ""
	}
	return result.Text
}
