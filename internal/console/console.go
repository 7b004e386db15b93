// Package console is the line-oriented command surface of consultvox.
//
// Commands:
//
//	record        start or stop the consultation recording
//	live          toggle live question mode
//	turn          ask one spoken question
//	stop          stop listening and leave live mode
//	ask <text>    ask a typed question
//	tab <name>    show transcript, doctor, patient or qa
//	status        show the voice controller state
//	log           show the system log
//	help          list commands
//	quit          exit
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MrWong99/consultvox/internal/consultation"
	"github.com/MrWong99/consultvox/internal/eventlog"
	"github.com/MrWong99/consultvox/internal/voiceturn"
	"github.com/MrWong99/consultvox/pkg/history"
)

// ErrQuit is returned by [Console.Run] when the user asks to exit.
var ErrQuit = errors.New("console: quit")

// Actions is what the console can do. internal/app provides the
// implementation.
type Actions interface {
	ToggleRecording(ctx context.Context) (recording bool, err error)
	ToggleLive() (live bool, err error)
	StartTurn() error
	Stop() error
	Ask(ctx context.Context, question string) (history.Exchange, error)
	Status() voiceturn.Status
	Views() consultation.Views
	History(ctx context.Context) ([]history.Exchange, error)
	Log() []eventlog.Entry
}

// Console reads commands from in and writes results to out.
type Console struct {
	in      io.Reader
	actions Actions

	mu  sync.Mutex
	out io.Writer
}

// New creates a console.
func New(in io.Reader, out io.Writer, actions Actions) *Console {
	return &Console{in: in, out: out, actions: actions}
}

// Printf writes one line to the console output. Safe for concurrent use.
func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// Run processes commands until ctx is cancelled, the input ends or the user
// quits. It returns [ErrQuit] after "quit" and nil otherwise.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.Printf("Type 'help' for commands.")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.Exec(ctx, line); err != nil {
				return err
			}
		}
	}
}

// Exec runs a single command line. Only "quit" returns an error; command
// failures are printed.
func (c *Console) Exec(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "":
	case "quit", "exit":
		return ErrQuit
	case "help":
		c.Printf("commands: record, live, turn, stop, ask <text>, tab transcript|doctor|patient|qa, status, log, quit")
	case "record":
		on, err := c.actions.ToggleRecording(ctx)
		c.report(err, onOff("recording", on))
	case "live":
		on, err := c.actions.ToggleLive()
		c.report(err, onOff("live mode", on))
	case "turn":
		c.report(c.actions.StartTurn(), "listening for one question")
	case "stop":
		c.report(c.actions.Stop(), "stopped")
	case "ask":
		ex, err := c.actions.Ask(ctx, arg)
		if err == nil {
			c.Printf("Q: %s\nA: %s", ex.Question, ex.Answer)
			return nil
		}
		c.report(err, "")
	case "tab":
		c.tab(ctx, arg)
	case "status":
		st := c.actions.Status()
		c.Printf("state=%s live=%t phase=%q level=%.1f", st.State, st.Live, st.Phase, st.Level)
	case "log":
		for _, e := range c.actions.Log() {
			c.Printf("%s", e)
		}
	default:
		c.Printf("unknown command %q, type 'help'", cmd)
	}
	return nil
}

func (c *Console) tab(ctx context.Context, name string) {
	v := c.actions.Views()
	switch strings.ToLower(name) {
	case "transcript", "":
		c.Printf("%s", orPlaceholder(v.Transcript, "Transcript will appear here after recording..."))
	case "doctor":
		c.Printf("%s", orPlaceholder(v.Doctor, "Doctor summary will appear here..."))
	case "patient":
		c.Printf("%s", orPlaceholder(v.Patient, "Patient summary will appear here..."))
	case "qa":
		exs, err := c.actions.History(ctx)
		if err != nil {
			c.report(err, "")
			return
		}
		if len(exs) == 0 {
			c.Printf("No questions asked yet.")
			return
		}
		for _, ex := range exs {
			c.Printf("Q: %s\nA: %s", ex.Question, ex.Answer)
		}
	default:
		c.Printf("unknown tab %q", name)
	}
}

func (c *Console) report(err error, ok string) {
	if err != nil {
		c.Printf("error: %v", err)
		return
	}
	if ok != "" {
		c.Printf("%s", ok)
	}
}

func onOff(what string, on bool) string {
	if on {
		return what + " on"
	}
	return what + " off"
}

func orPlaceholder(s, placeholder string) string {
	if s == "" {
		return placeholder
	}
	return s
}
