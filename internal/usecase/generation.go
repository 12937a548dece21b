package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"photo-restyler/internal/domain"
	"photo-restyler/internal/domain/ports/adapter"
	"photo-restyler/internal/infra/logging"
	"photo-restyler/internal/infra/metrics"
)

const refusalSnippetLen = 200

// Compile-time check
var _ GenerationClient = (*generationClient)(nil)

type GenerationClient interface {
	Generate(ctx context.Context, p GenerateParams) GenerateResult
}

type GenerateParams struct {
	Prompt   string
	Image    []byte
	MIMEType string
	Model    string
	Seed     *int32
}

// GenerateResult is the outcome of one logical call; Err is nil on success.
// SeedWasRejected is set whenever the first attempt's seed was refused, even
// if the retry also failed.
type GenerateResult struct {
	Image           []byte
	MIMEType        string
	Err             error
	SeedWasRejected bool
	// SeedUsed is the seed the successful request carried, nil if none.
	SeedUsed *int32
}

func (r GenerateResult) Success() bool { return r.Err == nil }

type generationClient struct {
	api        adapter.ImageAPI
	classifier SeedRejectionClassifier
	log        *zerolog.Logger
}

// NewGenerationClient wires the client. A nil api makes every call fail with
// domain.ErrNotConfigured; a nil classifier uses the default markers.
func NewGenerationClient(api adapter.ImageAPI, classifier SeedRejectionClassifier, logger *zerolog.Logger) *generationClient {
	if classifier == nil {
		classifier = NewMarkerClassifier()
	}
	return &generationClient{api: api, classifier: classifier, log: logging.Component(logger, "GenerationClient")}
}

func (c *generationClient) Generate(ctx context.Context, p GenerateParams) GenerateResult {
	if c.api == nil {
		metrics.ObserveGenerate(p.Model, "not_configured", 0)
		return GenerateResult{Err: domain.ErrNotConfigured}
	}

	req := adapter.GenerateRequest{
		Model:              p.Model,
		Prompt:             p.Prompt,
		Image:              p.Image,
		MIMEType:           p.MIMEType,
		Seed:               p.Seed,
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	start := time.Now()
	resp, err := c.api.Generate(ctx, req)
	res := GenerateResult{SeedUsed: req.Seed}
	if err != nil && req.Seed != nil && ctx.Err() == nil && c.classifier.IsSeedRejection(err) {
		logging.With(ctx, c.log).Warn().Err(err).Str("model", p.Model).Msg("seed rejected; retrying without seed")
		metrics.IncSeedRejection(p.Model)
		retry := req
		retry.Seed = nil
		res.SeedWasRejected = true
		res.SeedUsed = nil
		resp, err = c.api.Generate(ctx, retry)
	}
	if err != nil {
		res.Err = err
		metrics.ObserveGenerate(p.Model, outcomeOf(err), time.Since(start))
		return res
	}

	img, mime, err := extractImage(resp)
	res.Image, res.MIMEType, res.Err = img, mime, err
	metrics.ObserveGenerate(p.Model, outcomeOf(err), time.Since(start))
	if err != nil {
		res.SeedUsed = nil
	}
	return res
}

// extractImage returns the first inline image. A text-only reply is a refusal.
func extractImage(resp *adapter.GenerateResponse) ([]byte, string, error) {
	if resp == nil {
		return nil, "", domain.ErrNoImageInResponse
	}
	var text []string
	for _, part := range resp.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return part.InlineData.Data, mime, nil
		}
		if t := strings.TrimSpace(part.Text); t != "" {
			text = append(text, t)
		}
	}
	if len(text) > 0 {
		return nil, "", &domain.ModelRefusedError{Snippet: truncate(strings.Join(text, " "), refusalSnippetLen)}
	}
	if resp.BlockReason != "" {
		return nil, "", fmt.Errorf("%w (blocked: %s)", domain.ErrNoImageInResponse, resp.BlockReason)
	}
	return nil, "", domain.ErrNoImageInResponse
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, domain.ErrModelRefused):
		return "refused"
	case errors.Is(err, domain.ErrNoImageInResponse):
		return "no_image"
	default:
		return "transport"
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
