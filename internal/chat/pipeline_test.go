package chat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/healthchat/healthchat/internal/cache"
	"github.com/healthchat/healthchat/internal/nl2sql"
	"github.com/healthchat/healthchat/internal/query"
	"github.com/healthchat/healthchat/internal/query/duckdb"
	"github.com/healthchat/healthchat/internal/storage/local"
	"github.com/healthchat/healthchat/internal/store"
)

type stubTranslator struct {
	outcomes map[string]nl2sql.Outcome
	calls    int
}

func (s *stubTranslator) Translate(_ context.Context, question string) nl2sql.Outcome {
	s.calls++
	if outcome, ok := s.outcomes[question]; ok {
		return outcome
	}
	return nl2sql.Outcome{Kind: nl2sql.OutcomeInvalidRequest, Attempts: 1}
}

type stubEngine struct {
	result query.Result
	err    error
	calls  int
}

func (s *stubEngine) Execute(_ context.Context, sqlText string) (query.Result, error) {
	s.calls++
	if s.err != nil {
		return query.Result{}, &query.ExecutionError{SQL: sqlText, Err: s.err}
	}
	return s.result, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestPipeline(t *testing.T, translator Translator, engine query.Engine, clock *fakeClock) *Pipeline {
	t.Helper()
	pipeline, err := NewPipeline(translator, engine, WithClock(clock.Now), WithCooldown(8*time.Second))
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	return pipeline
}

func sqlOutcome(sqlText string) nl2sql.Outcome {
	return nl2sql.Outcome{Kind: nl2sql.OutcomeSQL, SQL: sqlText, Attempts: 1}
}

func TestAskResultCacheHitSkipsTranslatorAndEngine(t *testing.T) {
	translator := &stubTranslator{outcomes: map[string]nl2sql.Outcome{
		"max calories": sqlOutcome("SELECT MAX(Calories) FROM health_metrics"),
	}}
	engine := &stubEngine{result: query.Result{Columns: []string{"max"}, Rows: [][]any{{409.1}}}}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	pipeline := newTestPipeline(t, translator, engine, clock)
	session := NewSession("")

	first := pipeline.Ask(context.Background(), session, "max calories")
	if first.Kind != KindAnswered || first.CacheLevel != "" {
		t.Fatalf("first reply = %+v", first)
	}

	second := pipeline.Ask(context.Background(), session, "max calories")
	if second.Kind != KindAnswered || second.CacheLevel != cache.LevelResult {
		t.Fatalf("second reply = %+v", second)
	}
	if translator.calls != 1 || engine.calls != 1 {
		t.Fatalf("translator calls = %d, engine calls = %d", translator.calls, engine.calls)
	}
	if second.SQL != "SELECT MAX(Calories) FROM health_metrics" {
		t.Fatalf("cached sql = %q", second.SQL)
	}
}

func TestAskSQLCacheHitReExecutes(t *testing.T) {
	translator := &stubTranslator{outcomes: map[string]nl2sql.Outcome{
		"rows": sqlOutcome("SELECT * FROM health_metrics"),
	}}
	engine := &stubEngine{err: errors.New("table health_metrics does not exist")}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	pipeline := newTestPipeline(t, translator, engine, clock)
	session := NewSession("")

	first := pipeline.Ask(context.Background(), session, "rows")
	if first.Kind != KindExecutionFailed {
		t.Fatalf("first reply = %+v", first)
	}
	if first.Message != "SQL error: table health_metrics does not exist" {
		t.Fatalf("message = %q", first.Message)
	}

	engine.err = nil
	engine.result = query.Result{Columns: []string{"Duration"}, Rows: [][]any{{int64(60)}}}
	second := pipeline.Ask(context.Background(), session, "rows")
	if second.Kind != KindAnswered || second.CacheLevel != cache.LevelSQL {
		t.Fatalf("second reply = %+v", second)
	}
	if translator.calls != 1 {
		t.Fatalf("translator calls = %d, want 1", translator.calls)
	}
	if engine.calls != 2 {
		t.Fatalf("engine calls = %d, want 2", engine.calls)
	}
}

func TestAskCacheKeyIsExactText(t *testing.T) {
	translator := &stubTranslator{outcomes: map[string]nl2sql.Outcome{
		"count":  sqlOutcome("SELECT COUNT(*) FROM health_metrics"),
		"count?": sqlOutcome("SELECT COUNT(*) FROM health_metrics"),
	}}
	engine := &stubEngine{result: query.Result{Columns: []string{"n"}, Rows: [][]any{{int64(3)}}}}
	pipeline := newTestPipeline(t, translator, engine, &fakeClock{now: time.Unix(1_700_000_000, 0)})
	session := NewSession("")

	pipeline.Ask(context.Background(), session, "count")
	pipeline.Ask(context.Background(), session, "count?")
	if translator.calls != 2 {
		t.Fatalf("translator calls = %d, want 2", translator.calls)
	}
}

func TestAskCooldownShortCircuitsUntilWindowElapses(t *testing.T) {
	translator := &stubTranslator{outcomes: map[string]nl2sql.Outcome{
		"busy":  {Kind: nl2sql.OutcomeRateLimited, Attempts: 6},
		"later": sqlOutcome("SELECT 1"),
	}}
	engine := &stubEngine{result: query.Result{Columns: []string{"1"}, Rows: [][]any{{int64(1)}}}}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	pipeline := newTestPipeline(t, translator, engine, clock)
	session := NewSession("")

	limited := pipeline.Ask(context.Background(), session, "busy")
	if limited.Kind != KindRateLimited || limited.Attempts != 6 {
		t.Fatalf("limited reply = %+v", limited)
	}

	clock.now = clock.now.Add(3 * time.Second)
	blocked := pipeline.Ask(context.Background(), session, "later")
	if blocked.Kind != KindCoolingDown {
		t.Fatalf("blocked reply = %+v", blocked)
	}
	if blocked.RetryAfter != 5*time.Second {
		t.Fatalf("retry after = %s", blocked.RetryAfter)
	}
	if translator.calls != 1 {
		t.Fatalf("translator calls during cooldown = %d, want 1", translator.calls)
	}

	clock.now = clock.now.Add(5 * time.Second)
	allowed := pipeline.Ask(context.Background(), session, "later")
	if allowed.Kind != KindAnswered {
		t.Fatalf("allowed reply = %+v", allowed)
	}
	if translator.calls != 2 {
		t.Fatalf("translator calls = %d, want 2", translator.calls)
	}
}

func TestAskCooldownDoesNotBlockCachedQuestions(t *testing.T) {
	translator := &stubTranslator{outcomes: map[string]nl2sql.Outcome{
		"cached": sqlOutcome("SELECT 1"),
		"busy":   {Kind: nl2sql.OutcomeRateLimited, Attempts: 6},
	}}
	engine := &stubEngine{result: query.Result{Columns: []string{"1"}, Rows: [][]any{{int64(1)}}}}
	pipeline := newTestPipeline(t, translator, engine, &fakeClock{now: time.Unix(1_700_000_000, 0)})
	session := NewSession("")

	pipeline.Ask(context.Background(), session, "cached")
	pipeline.Ask(context.Background(), session, "busy")
	reply := pipeline.Ask(context.Background(), session, "cached")
	if reply.Kind != KindAnswered || reply.CacheLevel != cache.LevelResult {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestAskTranslationFailures(t *testing.T) {
	translator := &stubTranslator{outcomes: map[string]nl2sql.Outcome{
		"What's the weather?": {Kind: nl2sql.OutcomeInvalidRequest, Attempts: 1},
		"offline":             {Kind: nl2sql.OutcomeTransportError, Detail: "connection refused", Attempts: 1},
	}}
	engine := &stubEngine{}
	pipeline := newTestPipeline(t, translator, engine, &fakeClock{now: time.Unix(1_700_000_000, 0)})
	session := NewSession("")

	invalid := pipeline.Ask(context.Background(), session, "What's the weather?")
	if invalid.Kind != KindInvalidRequest || invalid.Result != nil {
		t.Fatalf("invalid reply = %+v", invalid)
	}
	failed := pipeline.Ask(context.Background(), session, "offline")
	if failed.Kind != KindTranslationFailed || failed.Message != "Translation failed: connection refused" {
		t.Fatalf("failed reply = %+v", failed)
	}
	if engine.calls != 0 {
		t.Fatalf("engine calls = %d, want 0", engine.calls)
	}
	if sqlEntries, resultEntries := session.CacheLen(); sqlEntries != 0 || resultEntries != 0 {
		t.Fatalf("cache len = %d/%d", sqlEntries, resultEntries)
	}
}

func TestAskEmptyQuestion(t *testing.T) {
	translator := &stubTranslator{}
	pipeline := newTestPipeline(t, translator, &stubEngine{}, &fakeClock{now: time.Unix(1_700_000_000, 0)})

	reply := pipeline.Ask(context.Background(), NewSession(""), "   ")
	if reply.Kind != KindEmptyQuestion {
		t.Fatalf("reply = %+v", reply)
	}
	if translator.calls != 0 {
		t.Fatalf("translator calls = %d", translator.calls)
	}
}

func TestAskRecordsHistory(t *testing.T) {
	translator := &stubTranslator{outcomes: map[string]nl2sql.Outcome{
		"all": sqlOutcome("SELECT * FROM health_metrics"),
	}}
	engine := &stubEngine{result: query.Result{Columns: []string{"Duration"}, Rows: [][]any{{int64(60)}, {int64(45)}}}}
	pipeline := newTestPipeline(t, translator, engine, &fakeClock{now: time.Unix(1_700_000_000, 0)})
	session := NewSession("")

	pipeline.Ask(context.Background(), session, "all")
	pipeline.Ask(context.Background(), session, "what's up")

	history := session.History()
	if len(history) != 4 {
		t.Fatalf("history len = %d", len(history))
	}
	if history[0].Role != RoleUser || history[0].Text != "all" {
		t.Fatalf("history[0] = %+v", history[0])
	}
	if history[1].Role != RoleAssistant || history[1].Kind != KindAnswered || history[1].Result == nil {
		t.Fatalf("history[1] = %+v", history[1])
	}
	if history[3].Kind != KindInvalidRequest {
		t.Fatalf("history[3] = %+v", history[3])
	}
}

func TestNewPipelineRequiresCollaborators(t *testing.T) {
	if _, err := NewPipeline(nil, &stubEngine{}); err == nil {
		t.Fatal("expected translator error")
	}
	if _, err := NewPipeline(&stubTranslator{}, nil); err == nil {
		t.Fatal("expected engine error")
	}
}

func TestPipelineSessionsGetOrCreate(t *testing.T) {
	registry := NewSessions()

	first, created := registry.GetOrCreate("")
	if !created || first.ID == "" {
		t.Fatalf("first = %+v created=%v", first, created)
	}
	again, created := registry.GetOrCreate(first.ID)
	if created || again != first {
		t.Fatal("expected existing session to be returned")
	}
	other, created := registry.GetOrCreate("not-a-known-id")
	if !created || other.ID == "not-a-known-id" {
		t.Fatalf("unknown id should start a fresh session, got %q", other.ID)
	}
	if registry.Len() != 2 {
		t.Fatalf("len = %d", registry.Len())
	}
}

func TestPipelineSessionsResetCaches(t *testing.T) {
	translator := &stubTranslator{outcomes: map[string]nl2sql.Outcome{"q": sqlOutcome("SELECT 1")}}
	engine := &stubEngine{result: query.Result{Columns: []string{"1"}, Rows: [][]any{{int64(1)}}}}
	pipeline := newTestPipeline(t, translator, engine, &fakeClock{now: time.Unix(1_700_000_000, 0)})
	registry := NewSessions()
	session, _ := registry.GetOrCreate("")
	pipeline.Ask(context.Background(), session, "q")

	if n := registry.ResetCaches(); n != 1 {
		t.Fatalf("reset sessions = %d", n)
	}
	if sqlEntries, resultEntries := session.CacheLen(); sqlEntries != 0 || resultEntries != 0 {
		t.Fatalf("cache len = %d/%d", sqlEntries, resultEntries)
	}
}

const scenarioCSV = "Duration,Pulse,Maxpulse,Calories\n" +
	"60,110,130,409.1\n" +
	"60,117,145,479.0\n" +
	"60,103,135,340.0\n" +
	"45,109,175,282.4\n" +
	"45,117,148,406.0\n" +
	"60,102,127,300.0\n" +
	"30,104,134,\n"

func seededEngine(t *testing.T) *duckdb.Engine {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "data.csv"), []byte(scenarioCSV), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	guard := &sync.RWMutex{}
	bootstrapper := &store.Bootstrapper{
		StorePath: filepath.Join(dir, "health.duckdb"),
		Source:    "data.csv",
		Objects:   local.New(dir),
		Guard:     guard,
	}
	if _, err := bootstrapper.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	return duckdb.NewEngine(bootstrapper.StorePath, guard)
}

func TestScenarioTopSessionsByCalories(t *testing.T) {
	question := "Show top 5 sessions by calories"
	translator := &stubTranslator{outcomes: map[string]nl2sql.Outcome{
		question: sqlOutcome("SELECT * FROM health_metrics ORDER BY Calories DESC LIMIT 5"),
	}}
	pipeline := newTestPipeline(t, translator, seededEngine(t), &fakeClock{now: time.Now()})

	reply := pipeline.Ask(context.Background(), NewSession(""), question)
	if reply.Kind != KindAnswered {
		t.Fatalf("reply = %+v", reply)
	}
	calories, ok := reply.Result.Column("Calories")
	if !ok {
		t.Fatalf("columns = %v", reply.Result.Columns)
	}
	if len(calories) != 5 {
		t.Fatalf("rows = %d", len(calories))
	}
	for i := 1; i < len(calories); i++ {
		if calories[i-1].(float64) < calories[i].(float64) {
			t.Fatalf("calories not descending: %v", calories)
		}
	}
}

func TestScenarioAveragePulse(t *testing.T) {
	question := "What is the average pulse for 60 min duration?"
	translator := &stubTranslator{outcomes: map[string]nl2sql.Outcome{
		question: sqlOutcome("SELECT AVG(Pulse) AS avg_pulse FROM health_metrics WHERE Duration = 60"),
	}}
	pipeline := newTestPipeline(t, translator, seededEngine(t), &fakeClock{now: time.Now()})

	reply := pipeline.Ask(context.Background(), NewSession(""), question)
	if reply.Kind != KindAnswered {
		t.Fatalf("reply = %+v", reply)
	}
	if len(reply.Result.Columns) != 1 || reply.Result.Columns[0] != "avg_pulse" {
		t.Fatalf("columns = %v", reply.Result.Columns)
	}
	if len(reply.Result.Rows) != 1 {
		t.Fatalf("rows = %d", len(reply.Result.Rows))
	}
	if got := reply.Result.Rows[0][0].(float64); got != 108 {
		t.Fatalf("avg_pulse = %v, want 108", got)
	}
}

func TestScenarioNonDataQuestion(t *testing.T) {
	translator := &stubTranslator{outcomes: map[string]nl2sql.Outcome{
		"What's the weather?": {Kind: nl2sql.OutcomeInvalidRequest, Attempts: 1},
	}}
	engine := &stubEngine{}
	pipeline := newTestPipeline(t, translator, engine, &fakeClock{now: time.Now()})

	reply := pipeline.Ask(context.Background(), NewSession(""), "What's the weather?")
	if reply.Kind != KindInvalidRequest {
		t.Fatalf("reply = %+v", reply)
	}
	if engine.calls != 0 {
		t.Fatalf("engine calls = %d", engine.calls)
	}
}
