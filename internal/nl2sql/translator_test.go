package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/healthchat/healthchat/internal/retry"
	"github.com/healthchat/healthchat/internal/schema"
)

type scriptedModel struct {
	prompts []string
	replies []reply
}

type reply struct {
	text string
	err  error
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) Generate(_ context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	index := len(m.prompts) - 1
	if index >= len(m.replies) {
		index = len(m.replies) - 1
	}
	return m.replies[index].text, m.replies[index].err
}

func instantPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 6,
		BaseDelay:   500 * time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		Jitter:      func() time.Duration { return 0 },
	}
}

func newTestTranslator(t *testing.T, model Model) *Translator {
	t.Helper()
	translator, err := NewTranslator(model, WithRetryPolicy(instantPolicy()))
	if err != nil {
		t.Fatalf("NewTranslator() error = %v", err)
	}
	return translator
}

func TestTranslateReturnsSQL(t *testing.T) {
	model := &scriptedModel{replies: []reply{{text: "\n```sql\nSELECT * FROM health_metrics ORDER BY Calories DESC LIMIT 5\n```\n"}}}
	outcome := newTestTranslator(t, model).Translate(context.Background(), "Show top 5 sessions by calories")

	if !outcome.OK() {
		t.Fatalf("outcome = %#v", outcome)
	}
	if outcome.SQL != "SELECT * FROM health_metrics ORDER BY Calories DESC LIMIT 5" {
		t.Fatalf("SQL = %q", outcome.SQL)
	}
	if !strings.Contains(model.prompts[0], "Show top 5 sessions by calories") {
		t.Fatalf("prompt missing question: %s", model.prompts[0])
	}
}

func TestTranslateInvalidRequestSentinel(t *testing.T) {
	model := &scriptedModel{replies: []reply{{text: "ERROR: Invalid Request"}}}
	outcome := newTestTranslator(t, model).Translate(context.Background(), "What's the weather?")
	if outcome.Kind != OutcomeInvalidRequest {
		t.Fatalf("Kind = %q", outcome.Kind)
	}
	if outcome.Sentinel() != "ERROR: Invalid Request" {
		t.Fatalf("Sentinel() = %q", outcome.Sentinel())
	}
}

func TestTranslateOtherModelErrorTextIsTransportError(t *testing.T) {
	model := &scriptedModel{replies: []reply{{text: "ERROR: column Steps does not exist"}}}
	outcome := newTestTranslator(t, model).Translate(context.Background(), "How many steps?")
	if outcome.Kind != OutcomeTransportError || outcome.Detail != "column Steps does not exist" {
		t.Fatalf("outcome = %#v", outcome)
	}
}

func TestTranslateRetriesRateLimitThenSucceeds(t *testing.T) {
	throttled := reply{err: fmt.Errorf("%w: status=429", ErrRateLimited)}
	model := &scriptedModel{replies: []reply{throttled, throttled, throttled, {text: "SELECT 1"}}}

	outcome := newTestTranslator(t, model).Translate(context.Background(), "count sessions")
	if !outcome.OK() || outcome.SQL != "SELECT 1" {
		t.Fatalf("outcome = %#v", outcome)
	}
	if len(model.prompts) != 4 || outcome.Attempts != 4 {
		t.Fatalf("calls = %d attempts = %d", len(model.prompts), outcome.Attempts)
	}
}

func TestTranslateExhaustedRetriesYieldRateLimited(t *testing.T) {
	model := &scriptedModel{replies: []reply{{err: errors.New("429 RESOURCE_EXHAUSTED")}}}

	outcome := newTestTranslator(t, model).Translate(context.Background(), "count sessions")
	if outcome.Kind != OutcomeRateLimited {
		t.Fatalf("Kind = %q", outcome.Kind)
	}
	if len(model.prompts) != 6 {
		t.Fatalf("calls = %d, want 6", len(model.prompts))
	}
	if outcome.Sentinel() != "ERROR: Rate limit hit. Please wait a few seconds." {
		t.Fatalf("Sentinel() = %q", outcome.Sentinel())
	}
}

func TestTranslateTransportErrorIsNotRetried(t *testing.T) {
	model := &scriptedModel{replies: []reply{{err: errors.New("dial tcp: connection refused")}}}

	outcome := newTestTranslator(t, model).Translate(context.Background(), "count sessions")
	if outcome.Kind != OutcomeTransportError {
		t.Fatalf("Kind = %q", outcome.Kind)
	}
	if len(model.prompts) != 1 {
		t.Fatalf("calls = %d, want 1", len(model.prompts))
	}
	if outcome.Sentinel() != "ERROR: dial tcp: connection refused" {
		t.Fatalf("Sentinel() = %q", outcome.Sentinel())
	}
}

func TestTranslateErrorMentioning429IsNotRetried(t *testing.T) {
	model := &scriptedModel{replies: []reply{{err: errors.New("dial tcp 10.0.0.7:4290: connect: connection refused")}}}

	outcome := newTestTranslator(t, model).Translate(context.Background(), "count sessions")
	if outcome.Kind != OutcomeTransportError {
		t.Fatalf("Kind = %q", outcome.Kind)
	}
	if len(model.prompts) != 1 || outcome.Attempts != 1 {
		t.Fatalf("calls = %d attempts = %d, want 1", len(model.prompts), outcome.Attempts)
	}
}

func TestTranslateEmptyQuestionSkipsModel(t *testing.T) {
	model := &scriptedModel{replies: []reply{{text: "SELECT 1"}}}
	outcome := newTestTranslator(t, model).Translate(context.Background(), "   ")
	if outcome.Kind != OutcomeInvalidRequest || len(model.prompts) != 0 {
		t.Fatalf("outcome = %#v calls = %d", outcome, len(model.prompts))
	}
}

func TestBuildPromptIsDeterministic(t *testing.T) {
	a := BuildPrompt(schema.HealthMetrics, "average pulse")
	b := BuildPrompt(schema.HealthMetrics, "  average pulse ")
	if a != b {
		t.Fatal("BuildPrompt() should be deterministic and trim the question")
	}
	for _, want := range []string{"health_metrics", "Duration, Pulse, Maxpulse, Calories", "ERROR: Invalid Request", "raw SQL"} {
		if !strings.Contains(a, want) {
			t.Fatalf("prompt missing %q:\n%s", want, a)
		}
	}
}

func TestIsRateLimit(t *testing.T) {
	cases := map[error]bool{
		nil:                                    false,
		ErrRateLimited:                         true,
		fmt.Errorf("wrap: %w", ErrRateLimited): true,
		errors.New("Too Many Requests"):        true,
		errors.New("quota RESOURCE_EXHAUSTED"): true,
		errors.New("connection reset"):         false,
		errors.New("openai request failed status=429 body={}"):                   true,
		errors.New(`{"error":{"code": 429,"status":"UNAVAILABLE"}}`):               true,
		errors.New("dial tcp 10.0.0.7:4290: connect: connection refused"):         false,
		errors.New(`openai request failed status=500 body={"request_id":"req-84291"}`): false,
	}
	for err, want := range cases {
		if got := IsRateLimit(err); got != want {
			t.Fatalf("IsRateLimit(%v) = %v, want %v", err, got, want)
		}
	}
}
