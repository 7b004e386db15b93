package eventlog_test

import (
	"testing"
	"time"

	"github.com/MrWong99/consultvox/internal/clock"
	"github.com/MrWong99/consultvox/internal/eventlog"
)

func TestLog_AppendsInOrderWithTimestamps(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Date(2026, 3, 4, 9, 15, 30, 0, time.UTC))
	l := eventlog.New(eventlog.WithClock(fc))

	l.Addf("[Mic] Recording started...")
	fc.Advance(time.Second)
	l.Addf("[QA] Asked: %s", "blood pressure?")

	got := l.Entries()
	if len(got) != 2 {
		t.Fatalf("entries: got %d, want 2", len(got))
	}
	if got[0].String() != "[09:15:30] [Mic] Recording started..." {
		t.Errorf("entry 0: got %q", got[0].String())
	}
	if got[1].Message != "[QA] Asked: blood pressure?" {
		t.Errorf("entry 1 message: got %q", got[1].Message)
	}
	if !got[1].Time.After(got[0].Time) {
		t.Error("timestamps not increasing")
	}
}

func TestLog_Limit(t *testing.T) {
	t.Parallel()

	l := eventlog.New(eventlog.WithLimit(2))
	l.Addf("a")
	l.Addf("b")
	l.Addf("c")

	msgs := l.Messages()
	if len(msgs) != 2 || msgs[0] != "b" || msgs[1] != "c" {
		t.Errorf("messages: got %v, want [b c]", msgs)
	}
}

func TestLog_Subscribe(t *testing.T) {
	t.Parallel()

	l := eventlog.New()
	var seen []string
	l.Subscribe(func(e eventlog.Entry) { seen = append(seen, e.Message) })
	l.Addf("one")
	l.Addf("two")

	if len(seen) != 2 || seen[1] != "two" {
		t.Errorf("subscriber saw %v", seen)
	}
}
