package history_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/consultvox/pkg/audio"
	"github.com/MrWong99/consultvox/pkg/history"
)

func TestMemStore_AppendAndListInOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := history.NewMemStore()

	for _, q := range []string{"first?", "second?", "third?"} {
		if err := s.Append(ctx, history.Exchange{ConsultationID: "c1", Question: q, Answer: "a", Source: history.SourceText}); err != nil {
			t.Fatalf("Append(%q): %v", q, err)
		}
	}
	_ = s.Append(ctx, history.Exchange{ConsultationID: "c2", Question: "other"})

	got, err := s.List(ctx, "c1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len: got %d, want 3", len(got))
	}
	for i, want := range []string{"first?", "second?", "third?"} {
		if got[i].Question != want {
			t.Errorf("exchange %d: got %q, want %q", i, got[i].Question, want)
		}
		if got[i].CreatedAt.IsZero() {
			t.Errorf("exchange %d: CreatedAt not set", i)
		}
	}
}

func TestMemStore_ListReturnsCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := history.NewMemStore()
	clip := audio.Clip{Data: []byte{1, 2, 3}}
	_ = s.Append(ctx, history.Exchange{ConsultationID: "c1", Question: "q", AnswerAudio: clip})

	clip.Data[0] = 9
	got, _ := s.List(ctx, "c1")
	got[0].Question = "mutated"

	again, _ := s.List(ctx, "c1")
	if again[0].Question != "q" {
		t.Error("List exposes internal storage")
	}
	if again[0].AnswerAudio.Data[0] != 1 {
		t.Error("Append kept a reference to the caller's audio buffer")
	}
}

func TestMemStore_RequiresConsultation(t *testing.T) {
	t.Parallel()

	err := history.NewMemStore().Append(context.Background(), history.Exchange{Question: "q"})
	if !errors.Is(err, history.ErrEmptyConsultation) {
		t.Errorf("got %v, want ErrEmptyConsultation", err)
	}
}

func TestObserve(t *testing.T) {
	t.Parallel()

	var seen []history.Exchange
	s := history.Observe(history.NewMemStore(), func(ex history.Exchange) { seen = append(seen, ex) })
	ctx := context.Background()

	if err := s.Append(ctx, history.Exchange{ConsultationID: "c", Question: "q"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, history.Exchange{Question: "orphan"}); !errors.Is(err, history.ErrEmptyConsultation) {
		t.Errorf("Append(no id) = %v", err)
	}

	if len(seen) != 1 || seen[0].Question != "q" || seen[0].CreatedAt.IsZero() {
		t.Errorf("observer saw %+v", seen)
	}
	got, _ := s.List(ctx, "c")
	if len(got) != 1 {
		t.Errorf("List = %d exchanges", len(got))
	}
}
