package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/iamwavecut/ngguard/internal/badwords"
	"github.com/iamwavecut/ngguard/internal/config"
	"github.com/iamwavecut/ngguard/internal/observability"
	"github.com/iamwavecut/ngguard/internal/utils/text"
)

const (
	PassKeyword    = "keyword"
	PassScript     = "script"
	PassStructural = "structural"
)

var (
	ErrInvalidText   = errors.New("text must be non-empty")
	ErrScoringFailed = errors.New("scoring failed")
)

type matcherSource interface {
	Matcher(ctx context.Context, scope *int64) (*badwords.Matcher, error)
}

type settingsSource interface {
	Current() config.Scoring
}

type Result struct {
	Score      float64
	Threshold  float64
	Keywords   int
	Scripts    []string
	Structural int
}

func (r Result) IsSpam() bool {
	return r.Score >= r.Threshold
}

// Passes lists the passes that contributed to the score.
func (r Result) Passes() []string {
	var passes []string
	if r.Keywords > 0 {
		passes = append(passes, PassKeyword)
	}
	if len(r.Scripts) > 0 {
		passes = append(passes, PassScript)
	}
	if r.Structural > 0 {
		passes = append(passes, PassStructural)
	}
	return passes
}

type Engine struct {
	terms    matcherSource
	settings settingsSource
}

func NewEngine(terms matcherSource, settings settingsSource) *Engine {
	return &Engine{terms: terms, settings: settings}
}

func getLogEntry() *log.Entry {
	return log.WithField("object", "ScoringEngine")
}

// Score computes the spam score of text against the effective terms of scope.
func (e *Engine) Score(ctx context.Context, content string, scope *int64) (result Result, err error) {
	if strings.TrimSpace(content) == "" {
		return Result{}, ErrInvalidText
	}

	ctx, span := observability.Tracer().Start(ctx, "scoring.Score")
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrScoringFailed, r)
			result = Result{}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Float64("score", result.Score), attribute.Bool("spam", result.IsSpam()))
			if result.IsSpam() {
				observability.RecordSpamVerdict(result.Passes()...)
			}
		}
		span.End()
		observability.ObserveScoring(time.Since(started))
	}()

	matcher, err := e.terms.Matcher(ctx, scope)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrScoringFailed, err)
	}

	weights := e.settings.Current()
	normalized := badwords.Normalize(content)
	folded := strings.ToLower(content)
	transliterated := badwords.Transliterate(content)

	result.Threshold = weights.Threshold
	result.Keywords = matcher.Count(normalized)
	for _, b := range text.BlocksPresent(content, text.AnomalousBlocks) {
		result.Scripts = append(result.Scripts, b.Name)
	}
	for _, re := range structuralPatterns {
		if re.MatchString(folded) || re.MatchString(transliterated) {
			result.Structural++
		}
	}

	result.Score = float64(result.Keywords)*weights.MatchWeight +
		float64(len(result.Scripts))*weights.ScriptWeight +
		float64(result.Structural)*weights.StructuralWeight
	return result, nil
}

// IsSpam reports whether the score reaches the threshold. Any failure reads
// as not spam.
func (e *Engine) IsSpam(ctx context.Context, content string, scope *int64) bool {
	result, err := e.Score(ctx, content, scope)
	if err != nil {
		if !errors.Is(err, ErrInvalidText) {
			getLogEntry().WithField("error", err.Error()).Error("failed to score message")
		}
		return false
	}
	return result.IsSpam()
}

// Highlight marks the keyword matches of content in angle brackets.
func (e *Engine) Highlight(ctx context.Context, content string, scope *int64) string {
	matcher, err := e.terms.Matcher(ctx, scope)
	if err != nil {
		getLogEntry().WithField("error", err.Error()).Warn("failed to highlight message")
		return content
	}
	return matcher.Highlight(content)
}
