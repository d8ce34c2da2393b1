// Package nl2sql turns free-text questions about the health metrics table
// into a single SQL statement using an external text-generation model.
package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/healthchat/healthchat/internal/observability"
	"github.com/healthchat/healthchat/internal/retry"
	"github.com/healthchat/healthchat/internal/schema"
)

// ErrRateLimited marks upstream throttling. Only errors wrapping it are
// retried.
var ErrRateLimited = errors.New("rate limited")

const (
	invalidRequestSentinel = "ERROR: Invalid Request"
	errorPrefix            = "ERROR:"
)

// Model is the external generation service.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

type OutcomeKind string

const (
	OutcomeSQL            OutcomeKind = "sql"
	OutcomeInvalidRequest OutcomeKind = "invalid_request"
	OutcomeRateLimited    OutcomeKind = "rate_limited"
	OutcomeTransportError OutcomeKind = "transport_error"
)

// Outcome is the result of one translation. SQL is set only for OutcomeSQL
// and Detail only for OutcomeTransportError.
type Outcome struct {
	Kind     OutcomeKind
	SQL      string
	Detail   string
	Attempts int
}

func (o Outcome) OK() bool {
	return o.Kind == OutcomeSQL
}

// Message is the text shown to the user for this outcome.
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeSQL:
		return o.SQL
	case OutcomeInvalidRequest:
		return "That doesn't look like a question about your health data. Try asking about duration, pulse, max pulse or calories."
	case OutcomeRateLimited:
		return "Rate limit hit. Please wait a few seconds."
	default:
		return "Translation failed: " + o.Detail
	}
}

// Sentinel renders the outcome in the "ERROR: ..." string form.
func (o Outcome) Sentinel() string {
	switch o.Kind {
	case OutcomeSQL:
		return o.SQL
	case OutcomeInvalidRequest:
		return invalidRequestSentinel
	case OutcomeRateLimited:
		return "ERROR: Rate limit hit. Please wait a few seconds."
	default:
		return "ERROR: " + o.Detail
	}
}

type Translator struct {
	model  Model
	table  schema.Table
	policy retry.Policy
	logger *slog.Logger
}

type TranslatorOption func(*Translator)

func WithRetryPolicy(policy retry.Policy) TranslatorOption {
	return func(t *Translator) { t.policy = policy }
}

func WithLogger(logger *slog.Logger) TranslatorOption {
	return func(t *Translator) { t.logger = logger }
}

func WithTable(table schema.Table) TranslatorOption {
	return func(t *Translator) { t.table = table }
}

func NewTranslator(model Model, opts ...TranslatorOption) (*Translator, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	t := &Translator{
		model: model,
		table: schema.HealthMetrics,
		policy: retry.Policy{
			MaxAttempts: retry.DefaultMaxAttempts,
			BaseDelay:   retry.DefaultBaseDelay,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Translate never returns partially formed SQL: the outcome is either a
// statement or one of the failure kinds.
func (t *Translator) Translate(ctx context.Context, question string) Outcome {
	question = strings.TrimSpace(question)
	if question == "" {
		return t.finish(Outcome{Kind: OutcomeInvalidRequest})
	}

	prompt := BuildPrompt(t.table, question)
	policy := t.policy
	policy.Retryable = IsRateLimit
	userOnRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		observability.ObserveTranslationRetry()
		if t.logger != nil {
			t.logger.WarnContext(ctx, "translation rate limited; backing off",
				slog.Int("attempt", attempt),
				slog.String("delay", delay.String()),
				slog.Any("error", err),
			)
		}
		if userOnRetry != nil {
			userOnRetry(attempt, delay, err)
		}
	}

	attempts := 0
	generate := retry.Wrap(policy, func(ctx context.Context) (string, error) {
		attempts++
		return t.model.Generate(ctx, prompt)
	})
	text, err := generate(ctx)
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return t.finish(Outcome{Kind: OutcomeRateLimited, Attempts: attempts})
		}
		return t.finish(Outcome{Kind: OutcomeTransportError, Detail: err.Error(), Attempts: attempts})
	}
	return t.finish(classify(text, attempts))
}

func (t *Translator) finish(outcome Outcome) Outcome {
	observability.ObserveTranslation(string(outcome.Kind))
	return outcome
}

func classify(text string, attempts int) Outcome {
	sqlText := stripMarkdownSQL(text)
	switch {
	case sqlText == "":
		return Outcome{Kind: OutcomeTransportError, Detail: "model returned empty SQL", Attempts: attempts}
	case strings.EqualFold(sqlText, invalidRequestSentinel):
		return Outcome{Kind: OutcomeInvalidRequest, Attempts: attempts}
	case strings.HasPrefix(strings.ToUpper(sqlText), errorPrefix):
		detail := strings.TrimSpace(sqlText[len(errorPrefix):])
		if strings.EqualFold(detail, "Invalid Request") {
			return Outcome{Kind: OutcomeInvalidRequest, Attempts: attempts}
		}
		return Outcome{Kind: OutcomeTransportError, Detail: detail, Attempts: attempts}
	}
	return Outcome{Kind: OutcomeSQL, SQL: sqlText, Attempts: attempts}
}

// IsRateLimit reports whether err signals upstream throttling, either by
// wrapping ErrRateLimited or by carrying a known marker in its text.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	return hasRateLimitMarker(err.Error())
}

// statusTooManyRequests matches 429 only where it is a status or error code,
// never inside hosts, ports or request ids.
var statusTooManyRequests = regexp.MustCompile(`(?i)(?:status(?:code)?[\s=:]*|"?code"?\s*[:=]\s*|http\s+)429\b`)

func hasRateLimitMarker(text string) bool {
	if statusTooManyRequests.MatchString(text) {
		return true
	}
	lower := strings.ToLower(text)
	for _, marker := range []string{"resource_exhausted", "rate limit", "ratelimit", "too many requests"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```SQL")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
