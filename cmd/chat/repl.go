package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-tavern/client/internal/model/chat"
	"github.com/zhouzirui/z-tavern/client/internal/service/engine"
	"github.com/zhouzirui/z-tavern/client/internal/service/pipeline"
	"github.com/zhouzirui/z-tavern/client/internal/service/session"
)

var errQuit = errors.New("quit")

const helpText = `commands:
  /new [title]      create and switch to a new session
  /list             list sessions
  /switch <n|id>    switch session
  /delete [n|id]    delete a session (default: active)
  /avatar           show the current avatar
  /refresh          reload the session list
  /reconnect        reopen the push channel
  /quit             exit
anything else is sent as a message`

// repl reads commands and messages; a second goroutine renders views.
type repl struct {
	engine    *engine.Engine
	in        io.Reader
	out       *console
	confirmer session.Confirmer
}

func (r *repl) run(ctx context.Context) error {
	views, unsubscribe := r.engine.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	lines, next := readLines(r.in, gctx.Done())

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case v, ok := <-views:
				if !ok {
					return nil
				}
				r.out.render(v)
			}
		}
	})

	g.Go(func() error {
		defer close(next)
		r.out.notice("type /help for commands")
		for {
			next <- struct{}{}
			var line string
			var ok bool
			select {
			case <-gctx.Done():
				return nil
			case line, ok = <-lines:
			}
			if !ok {
				return errQuit
			}
			if err := r.handle(gctx, line); err != nil {
				return err
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

// readLines scans one line each time a value is sent on next, so nothing
// else reading the same input (the delete prompt) races with it. It gives
// up a scanned line once done is closed.
func readLines(in io.Reader, done <-chan struct{}) (<-chan string, chan<- struct{}) {
	lines := make(chan string)
	next := make(chan struct{}, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for range next {
			if !sc.Scan() {
				return
			}
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()
	return lines, next
}

func (r *repl) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return r.send(ctx, line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		r.out.notice("%s", helpText)
	case "/new":
		if _, err := r.engine.CreateSession(ctx, arg); err != nil {
			r.out.notice("could not create session: %v", err)
		}
	case "/list":
		v := r.engine.Snapshot()
		r.out.sessions(v.Sessions, v.ActiveID)
	case "/switch":
		id, ok := resolveSession(r.engine.Snapshot().Sessions, arg)
		if !ok {
			r.out.notice("no session %q", arg)
			return nil
		}
		if !r.engine.SelectSession(id) {
			r.out.notice("already on that session")
		}
	case "/delete":
		r.delete(ctx, arg)
	case "/avatar":
		v := r.engine.Snapshot()
		r.out.avatar(v.Avatar, v.FallbackAvatarURL)
	case "/refresh":
		if err := r.engine.Refresh(ctx); err != nil {
			r.out.notice("could not load sessions: %v", err)
		}
	case "/reconnect":
		if err := r.engine.Reconnect(ctx); err != nil {
			r.out.notice("could not reconnect: %v", err)
		}
	default:
		r.out.notice("unknown command %s, try /help", cmd)
	}
	return nil
}

func (r *repl) send(ctx context.Context, text string) error {
	outcome, err := r.engine.Send(ctx, text)
	switch {
	case errors.Is(err, pipeline.ErrNoActiveSession):
		r.out.notice("no session selected, use /new or /switch")
	case errors.Is(err, engine.ErrClosed):
		return err
	case outcome == pipeline.Stale:
		r.out.notice("reply arrived after switching sessions and was dropped")
	}
	return nil
}

func (r *repl) delete(ctx context.Context, arg string) {
	v := r.engine.Snapshot()
	id := v.ActiveID
	if arg != "" {
		var ok bool
		if id, ok = resolveSession(v.Sessions, arg); !ok {
			r.out.notice("no session %q", arg)
			return
		}
	}
	if id == "" {
		r.out.notice("no session selected")
		return
	}

	err := r.engine.DeleteSession(ctx, id, r.confirmer)
	switch {
	case err == nil:
		r.out.notice("session deleted")
		if r.engine.Snapshot().ActiveID == "" {
			r.out.notice("no session selected, use /new or /switch")
		}
	case errors.Is(err, session.ErrDeleteDeclined):
		r.out.notice("kept")
	default:
		r.out.notice("could not delete session: %v", err)
	}
}

// resolveSession accepts a 1-based list position or a session id.
func resolveSession(sessions []chat.Session, arg string) (string, bool) {
	if arg == "" {
		return "", false
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n >= 1 && n <= len(sessions) {
			return sessions[n-1].ID, true
		}
		return "", false
	}
	for _, s := range sessions {
		if s.ID == arg {
			return s.ID, true
		}
	}
	return "", false
}

func printSessions(w io.Writer, sessions []chat.Session, activeID string) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "(no sessions)")
		return
	}
	for i, s := range sessions {
		marker := " "
		if s.ID == activeID {
			marker = "*"
		}
		created := ""
		if !s.CreatedAt.IsZero() {
			created = s.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s %2d. %-32s %s  %s\n", marker, i+1, s.Title, created, s.ID)
	}
}
