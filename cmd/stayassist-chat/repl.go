package main

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"

	"stayassist/internal/render"
	"stayassist/internal/session"
	"stayassist/internal/transport"
)

const help = "commands: :pick YYYY-MM-DD, :confirm, :prev, :next, :clear, :status, :quit"

type availability interface {
	Availability() transport.Availability
}

type repl struct {
	sess   *session.Session
	notice interface{ RenderNotice(string) }
	status availability
}

func newREPL(sess *session.Session, notice interface{ RenderNotice(string) }, status availability) *repl {
	return &repl{sess: sess, notice: notice, status: status}
}

// Run reads lines until EOF, :quit or ctx ends.
func (r *repl) Run(ctx context.Context, in io.Reader) error {
	r.notice.RenderNotice(help)
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
		errc <- sc.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-errc
			}
			quit, err := r.handle(ctx, line)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

// handle runs one input line. Widget and command errors are shown to the user
// and do not end the loop.
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, ":") {
		return false, r.sess.Send(ctx, line)
	}
	cmd, arg, _ := strings.Cut(line, " ")
	var err error
	switch cmd {
	case ":quit", ":q":
		return true, nil
	case ":pick":
		d, perr := render.ParseDay(arg)
		if perr != nil {
			r.notice.RenderNotice("usage: :pick YYYY-MM-DD")
			return false, nil
		}
		err = r.sess.Pick(ctx, d)
	case ":confirm":
		err = r.sess.Confirm(ctx)
	case ":prev":
		err = r.sess.PrevMonth()
	case ":next":
		err = r.sess.NextMonth()
	case ":clear":
		if cerr := r.sess.ClearHistory(ctx); cerr != nil {
			return false, errors.Wrap(cerr, "clear history")
		}
		r.notice.RenderNotice("history cleared")
	case ":status":
		if r.status.Availability().IsAvailable {
			r.notice.RenderNotice("assistant is reachable")
		} else {
			r.notice.RenderNotice("assistant is unreachable")
		}
	default:
		r.notice.RenderNotice(help)
	}
	if errors.Is(err, session.ErrNoPicker) {
		r.notice.RenderNotice("there is no calendar open")
	}
	return false, nil
}
