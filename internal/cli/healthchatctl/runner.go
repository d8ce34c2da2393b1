package healthchatctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const sessionHeader = "X-Session-ID"

type Options struct {
	BaseURL    string
	SessionID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type request struct {
	method string
	path   string
	body   any
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("healthchatctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "healthchat API base URL")
	sessionID := fs.String("session", defaults.SessionID, "chat session ID (sent as X-Session-ID)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 30s)")
	confirm := fs.Bool("yes", false, "confirm destructive commands")
	resetCache := fs.Bool("reset-cache", false, "recreate: also clear cached SQL and results")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	var req request
	switch command {
	case "health":
		req = request{method: http.MethodGet, path: "/v1/health"}
	case "ready":
		req = request{method: http.MethodGet, path: "/v1/ready"}
	case "examples":
		req = request{method: http.MethodGet, path: "/v1/examples"}
	case "schema":
		req = request{method: http.MethodGet, path: "/v1/schema"}
	case "history":
		if strings.TrimSpace(*sessionID) == "" {
			_, _ = fmt.Fprintln(stderr, "history requires -session")
			return 2
		}
		req = request{method: http.MethodGet, path: "/v1/chat/history"}
	case "ask":
		question := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
		if question == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a question")
			return 2
		}
		req = request{method: http.MethodPost, path: "/v1/chat", body: map[string]any{"question": question}}
	case "recreate":
		if !*confirm {
			_, _ = fmt.Fprintln(stderr, "recreate deletes the local store; rerun with -yes to confirm")
			return 2
		}
		req = request{method: http.MethodPost, path: "/v1/store/recreate", body: map[string]any{
			"confirm":     true,
			"reset_cache": *resetCache,
		}}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, header, responseBody, err := doRequest(ctx, client, req.method, endpoint, *sessionID, req.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	if id := header.Get(sessionHeader); id != "" && id != *sessionID {
		_, _ = fmt.Fprintf(stderr, "session: %s\n", id)
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url, sessionID string, payload any) (int, http.Header, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(sessionID) != "" {
		req.Header.Set(sessionHeader, strings.TrimSpace(sessionID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, respBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: healthchatctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health             GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready              GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  examples           GET /v1/examples")
	_, _ = fmt.Fprintln(w, "  schema             GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  ask <question>     POST /v1/chat")
	_, _ = fmt.Fprintln(w, "  history            GET /v1/chat/history (needs -session)")
	_, _ = fmt.Fprintln(w, "  recreate           POST /v1/store/recreate (needs -yes)")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
