// Package cache memoizes generated SQL and executed results per question.
// Keys are exact question text and entries live until Reset.
package cache

import "github.com/healthchat/healthchat/internal/query"

type Level string

const (
	LevelResult Level = "result"
	LevelSQL    Level = "sql"
)

type Query struct {
	sql     map[string]string
	results map[string]query.Result
}

func NewQuery() *Query {
	return &Query{
		sql:     map[string]string{},
		results: map[string]query.Result{},
	}
}

func (c *Query) LookupSQL(question string) (string, bool) {
	sqlText, ok := c.sql[question]
	return sqlText, ok
}

func (c *Query) LookupResult(question string) (query.Result, bool) {
	result, ok := c.results[question]
	return result, ok
}

func (c *Query) StoreSQL(question, sqlText string) {
	c.sql[question] = sqlText
}

func (c *Query) StoreResult(question string, result query.Result) {
	c.results[question] = result
}

// Len returns the number of SQL and result entries.
func (c *Query) Len() (sqlEntries, resultEntries int) {
	return len(c.sql), len(c.results)
}

func (c *Query) Reset() {
	clear(c.sql)
	clear(c.results)
}
