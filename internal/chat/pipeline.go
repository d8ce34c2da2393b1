package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/healthchat/healthchat/internal/cache"
	"github.com/healthchat/healthchat/internal/cooldown"
	"github.com/healthchat/healthchat/internal/nl2sql"
	"github.com/healthchat/healthchat/internal/observability"
	"github.com/healthchat/healthchat/internal/query"
)

type Kind string

const (
	KindAnswered          Kind = "answered"
	KindEmptyQuestion     Kind = "empty_question"
	KindInvalidRequest    Kind = "invalid_request"
	KindRateLimited       Kind = "rate_limited"
	KindCoolingDown       Kind = "cooling_down"
	KindTranslationFailed Kind = "translation_failed"
	KindExecutionFailed   Kind = "execution_failed"
)

type Translator interface {
	Translate(ctx context.Context, question string) nl2sql.Outcome
}

// Reply is the outcome of one turn. Result is set only for KindAnswered.
type Reply struct {
	Kind       Kind          `json:"kind"`
	Question   string        `json:"question"`
	Message    string        `json:"message"`
	SQL        string        `json:"sql,omitempty"`
	Result     *query.Result `json:"result,omitempty"`
	CacheLevel cache.Level   `json:"cache,omitempty"`
	RetryAfter time.Duration `json:"-"`
	Attempts   int           `json:"attempts,omitempty"`
}

func (r Reply) Answered() bool {
	return r.Kind == KindAnswered
}

type Pipeline struct {
	translator Translator
	engine     query.Engine
	cooldown   time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Pipeline)

func WithCooldown(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.cooldown = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPipeline(translator Translator, engine query.Engine, opts ...Option) (*Pipeline, error) {
	if translator == nil {
		return nil, fmt.Errorf("translator is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	p := &Pipeline{
		translator: translator,
		engine:     engine,
		cooldown:   cooldown.DefaultDuration,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ask runs one turn on session and records both sides of it in the
// session's history.
func (p *Pipeline) Ask(ctx context.Context, session *Session, question string) Reply {
	session.mu.Lock()
	defer session.mu.Unlock()

	session.append(Message{Role: RoleUser, Text: question, At: p.now().UTC()})
	reply := p.resolve(ctx, session, question)
	session.append(Message{
		Role:   RoleAssistant,
		Text:   reply.Message,
		Kind:   reply.Kind,
		SQL:    reply.SQL,
		Result: reply.Result,
		At:     p.now().UTC(),
	})

	observability.WithTrace(ctx, p.logger).InfoContext(ctx, "chat turn",
		slog.String("session_id", session.ID),
		slog.String("kind", string(reply.Kind)),
		slog.String("cache", string(reply.CacheLevel)),
		slog.Int("attempts", reply.Attempts),
	)
	return reply
}

func (p *Pipeline) resolve(ctx context.Context, session *Session, question string) Reply {
	reply := Reply{Question: question}
	if strings.TrimSpace(question) == "" {
		reply.Kind = KindEmptyQuestion
		reply.Message = "Please type a question about your health data."
		return reply
	}

	if result, ok := session.cache.LookupResult(question); ok {
		observability.ObserveCacheHit(string(cache.LevelResult))
		reply.SQL, _ = session.cache.LookupSQL(question)
		reply.CacheLevel = cache.LevelResult
		return answered(reply, result)
	}

	if sqlText, ok := session.cache.LookupSQL(question); ok {
		observability.ObserveCacheHit(string(cache.LevelSQL))
		reply.SQL = sqlText
		reply.CacheLevel = cache.LevelSQL
		return p.execute(ctx, session, reply)
	}

	now := p.now()
	if !session.gate.IsCooledDown(now) {
		observability.IncrementCooldownRejection()
		remaining := session.gate.Remaining(now)
		reply.Kind = KindCoolingDown
		reply.RetryAfter = remaining
		reply.Message = fmt.Sprintf("Rate limit cooldown active. Please wait %d seconds before asking a new question.",
			int(math.Ceil(remaining.Seconds())))
		return reply
	}

	outcome := p.translator.Translate(ctx, question)
	reply.Attempts = outcome.Attempts
	switch outcome.Kind {
	case nl2sql.OutcomeSQL:
		session.cache.StoreSQL(question, outcome.SQL)
		reply.SQL = outcome.SQL
		return p.execute(ctx, session, reply)
	case nl2sql.OutcomeInvalidRequest:
		reply.Kind = KindInvalidRequest
	case nl2sql.OutcomeRateLimited:
		session.gate.Trigger(p.now(), p.cooldown)
		reply.Kind = KindRateLimited
		reply.RetryAfter = p.cooldown
	default:
		reply.Kind = KindTranslationFailed
	}
	reply.Message = outcome.Message()
	return reply
}

func (p *Pipeline) execute(ctx context.Context, session *Session, reply Reply) Reply {
	start := time.Now()
	result, err := p.engine.Execute(ctx, reply.SQL)
	observability.ObserveQueryExecution(err, time.Since(start))
	if err != nil {
		reply.Kind = KindExecutionFailed
		var execErr *query.ExecutionError
		if errors.As(err, &execErr) {
			reply.Message = execErr.Error()
		} else {
			reply.Message = "SQL error: " + err.Error()
		}
		observability.WithTrace(ctx, p.logger).WarnContext(ctx, "query failed",
			slog.String("session_id", session.ID),
			slog.String("sql", reply.SQL),
			slog.Any("error", err),
		)
		return reply
	}
	session.cache.StoreResult(reply.Question, result)
	return answered(reply, result)
}

func answered(reply Reply, result query.Result) Reply {
	reply.Kind = KindAnswered
	reply.Result = &result
	switch n := len(result.Rows); n {
	case 0:
		reply.Message = "The query returned no rows."
	case 1:
		reply.Message = "1 row"
	default:
		reply.Message = fmt.Sprintf("%d rows", n)
	}
	return reply
}
