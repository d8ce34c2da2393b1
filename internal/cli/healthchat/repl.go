package healthchat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/healthchat/healthchat/internal/chat"
	"github.com/healthchat/healthchat/internal/cli/render"
	"github.com/healthchat/healthchat/internal/present"
	"github.com/healthchat/healthchat/internal/store"
)

type Asker interface {
	Ask(ctx context.Context, session *chat.Session, question string) chat.Reply
}

type Recreator interface {
	Recreate(ctx context.Context) (store.Report, error)
}

// REPL reads one question per line until EOF or /quit.
type REPL struct {
	In       io.Reader
	Out      io.Writer
	Pipeline Asker
	Store    Recreator
	Session  *chat.Session
}

func (r *REPL) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(r.In)
	r.println(render.Title("Health Data Chat"))
	r.println(render.Muted("Ask about duration, pulse, max pulse or calories. /help lists commands."))

	for {
		r.print("> ")
		if !scanner.Scan() {
			r.println("")
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := scanner.Text()
		command := strings.TrimSpace(line)

		switch {
		case command == "/quit" || command == "/exit":
			return nil
		case command == "/help":
			r.printHelp()
		case command == "/examples":
			for i, example := range present.Examples {
				r.println(fmt.Sprintf("  %d. %s", i+1, example))
			}
		case strings.HasPrefix(command, "/ex "):
			r.askExample(ctx, strings.TrimSpace(strings.TrimPrefix(command, "/ex ")))
		case command == "/history":
			r.printHistory()
		case command == "/recreate" || command == "/recreate --reset-cache":
			if !r.confirm(scanner) {
				r.println(render.Muted("cancelled"))
				continue
			}
			r.recreate(ctx, strings.HasSuffix(command, "--reset-cache"))
		case strings.HasPrefix(command, "/"):
			r.println(fmt.Sprintf("unknown command %s; /help lists commands", command))
		default:
			reply := r.Pipeline.Ask(ctx, r.Session, line)
			r.println(render.Reply(reply))
		}
	}
}

func (r *REPL) askExample(ctx context.Context, raw string) {
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n < 1 || n > len(present.Examples) {
		r.println(fmt.Sprintf("pick an example between 1 and %d", len(present.Examples)))
		return
	}
	question := present.Examples[n-1]
	r.println(render.Muted("> " + question))
	r.println(render.Reply(r.Pipeline.Ask(ctx, r.Session, question)))
}

func (r *REPL) confirm(scanner *bufio.Scanner) bool {
	r.print("This deletes the local store and rebuilds it from the source. Continue? [y/N] ")
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}

func (r *REPL) recreate(ctx context.Context, resetCache bool) {
	if r.Store == nil {
		r.println("store bootstrap is not configured")
		return
	}
	report, err := r.Store.Recreate(ctx)
	if err != nil {
		r.println(fmt.Sprintf("recreate failed: %v", err))
		return
	}
	if resetCache {
		r.Session.ResetCache()
	}
	r.println(fmt.Sprintf("store recreated with %d rows", report.Rows))
}

func (r *REPL) printHistory() {
	history := r.Session.History()
	if len(history) == 0 {
		r.println(render.Muted("(no messages yet)"))
		return
	}
	for _, msg := range history {
		switch msg.Role {
		case chat.RoleUser:
			r.println("you: " + msg.Text)
		default:
			r.println(fmt.Sprintf("bot [%s]: %s", msg.Kind, msg.Text))
		}
	}
}

func (r *REPL) printHelp() {
	r.println("  /examples               list example questions")
	r.println("  /ex <n>                 ask example n")
	r.println("  /history                show this session's messages")
	r.println("  /recreate [--reset-cache]  rebuild the store from its source")
	r.println("  /quit                   leave")
}

func (r *REPL) print(text string) {
	_, _ = io.WriteString(r.Out, text)
}

func (r *REPL) println(text string) {
	_, _ = io.WriteString(r.Out, text+"\n")
}
