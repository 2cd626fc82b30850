package game

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// scriptedDecider returns steps in order and counts calls.
type scriptedDecider struct {
	steps []Step
	err   error
	calls int

	lastHistory   []Turn
	lastRemaining int
}

func (d *scriptedDecider) decide(ctx context.Context, history []Turn, remaining int) (Step, error) {
	d.calls++
	d.lastHistory = history
	d.lastRemaining = remaining
	if d.err != nil {
		return nil, d.err
	}
	if len(d.steps) == 0 {
		return Question{Text: fmt.Sprintf("Q%d", d.calls)}, nil
	}
	s := d.steps[0]
	d.steps = d.steps[1:]
	return s, nil
}

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestMachine(opts ...MachineOption) *Machine {
	return NewMachine(append([]MachineOption{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func TestAdvance_QuestionThenAnswer(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine()
	s := NewSession("s1", fixedNow)
	d := &scriptedDecider{steps: []Step{Question{Text: "Is it alive?"}}}

	if got := s.State(); got != StateAwaitingTurn {
		t.Fatalf("initial state = %s, want %s", got, StateAwaitingTurn)
	}

	step, err := m.Advance(ctx, s, d.decide)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	q, ok := step.(Question)
	if !ok || q.Text != "Is it alive?" {
		t.Fatalf("Advance step = %#v, want question", step)
	}
	if s.State() != StateTurnPending {
		t.Fatalf("state = %s, want %s", s.State(), StateTurnPending)
	}

	if err := m.SubmitAnswer(s, AnswerYes); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if len(s.History) != 1 || s.History[0] != (Turn{Question: "Is it alive?", Answer: AnswerYes}) {
		t.Fatalf("history = %#v", s.History)
	}
	if s.PendingQuestion != "" {
		t.Fatalf("pending question = %q, want empty", s.PendingQuestion)
	}
	if s.Done {
		t.Fatal("session unexpectedly done")
	}
	if s.State() != StateAwaitingTurn {
		t.Fatalf("state = %s, want %s", s.State(), StateAwaitingTurn)
	}
}

func TestAdvance_IdempotentWhilePending(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine()
	s := NewSession("s1", fixedNow)
	d := &scriptedDecider{}

	first, err := m.Advance(ctx, s, d.decide)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	second, err := m.Advance(ctx, s, d.decide)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if first != second {
		t.Fatalf("second Advance = %#v, want %#v", second, first)
	}
	if d.calls != 1 {
		t.Fatalf("decide called %d times, want 1", d.calls)
	}
}

func TestAdvance_IdempotentAfterGuess(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine()
	s := NewSession("s1", fixedNow)
	d := &scriptedDecider{steps: []Step{Guess{Text: "a cat"}, Guess{Text: "a dog"}}}

	first, err := m.Advance(ctx, s, d.decide)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if g, ok := first.(Guess); !ok || g.Text != "a cat" {
		t.Fatalf("Advance step = %#v, want guess", first)
	}
	if s.PendingQuestion != "" {
		t.Fatalf("pending question = %q; a guess turn must not set one", s.PendingQuestion)
	}
	if s.Done {
		t.Fatal("guess must not conclude the session")
	}

	second, err := m.Advance(ctx, s, d.decide)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if second != first {
		t.Fatalf("second Advance = %#v, want %#v", second, first)
	}
	if d.calls != 1 {
		t.Fatalf("decide called %d times, want 1", d.calls)
	}
}

func TestAdvance_PassesHistoryAndRemaining(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(WithQuestionBudget(5))
	s := NewSession("s1", fixedNow)
	d := &scriptedDecider{}

	for i := 0; i < 2; i++ {
		if _, err := m.Advance(ctx, s, d.decide); err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if err := m.SubmitAnswer(s, AnswerNo); err != nil {
			t.Fatalf("SubmitAnswer: %v", err)
		}
	}
	if _, err := m.Advance(ctx, s, d.decide); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if d.lastRemaining != 3 {
		t.Fatalf("remaining = %d, want 3", d.lastRemaining)
	}
	if len(d.lastHistory) != 2 || d.lastHistory[0].Question != "Q1" || d.lastHistory[1].Question != "Q2" {
		t.Fatalf("history passed to decide = %#v", d.lastHistory)
	}

	// The slice handed to decide must not alias the session's history.
	d.lastHistory[0].Question = "mutated"
	if s.History[0].Question != "Q1" {
		t.Fatal("decide was able to mutate session history")
	}
}

func TestAdvance_DecideErrorLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine()
	s := NewSession("s1", fixedNow)
	boom := errors.New("boom")
	d := &scriptedDecider{err: boom}

	if _, err := m.Advance(ctx, s, d.decide); !errors.Is(err, boom) {
		t.Fatalf("Advance err = %v, want %v", err, boom)
	}
	if s.State() != StateAwaitingTurn || s.CurrentGuess != "" {
		t.Fatalf("session mutated on failure: %+v", s)
	}
}

func TestAdvance_RejectsEmptyDecision(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine()

	for _, step := range []Step{Question{Text: "  "}, Guess{}, Done{}} {
		s := NewSession("s1", fixedNow)
		d := &scriptedDecider{steps: []Step{step}}
		if _, err := m.Advance(ctx, s, d.decide); !errors.Is(err, ErrInvalidDecision) {
			t.Fatalf("Advance(%#v) err = %v, want ErrInvalidDecision", step, err)
		}
		if s.State() != StateAwaitingTurn {
			t.Fatalf("state = %s after invalid decision", s.State())
		}
	}
}

func TestSubmitAnswer_NoPendingQuestion(t *testing.T) {
	m := newTestMachine()
	s := NewSession("s1", fixedNow)

	if err := m.SubmitAnswer(s, AnswerYes); !errors.Is(err, ErrNoPendingQuestion) {
		t.Fatalf("SubmitAnswer err = %v, want ErrNoPendingQuestion", err)
	}
	if len(s.History) != 0 {
		t.Fatalf("history = %#v, want empty", s.History)
	}
}

func TestSubmitAnswer_InvalidAnswer(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine()
	s := NewSession("s1", fixedNow)
	d := &scriptedDecider{}
	if _, err := m.Advance(ctx, s, d.decide); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	err := m.SubmitAnswer(s, Answer("perhaps"))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("SubmitAnswer err = %v, want ValidationError", err)
	}
	if len(verr.Fields) != 1 || verr.Fields[0].Field != "answer" {
		t.Fatalf("fields = %#v", verr.Fields)
	}
	if s.State() != StateTurnPending || len(s.History) != 0 {
		t.Fatal("invalid answer mutated the session")
	}
}

func TestBudget_ConcludesOnLastAnswer(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine()
	s := NewSession("s1", fixedNow)
	d := &scriptedDecider{}

	for i := 1; i <= DefaultQuestionBudget; i++ {
		step, err := m.Advance(ctx, s, d.decide)
		if err != nil {
			t.Fatalf("round %d Advance: %v", i, err)
		}
		if _, ok := step.(Question); !ok {
			t.Fatalf("round %d step = %#v, want question", i, step)
		}
		if err := m.SubmitAnswer(s, AnswerMaybe); err != nil {
			t.Fatalf("round %d SubmitAnswer: %v", i, err)
		}
		if i < DefaultQuestionBudget && s.Done {
			t.Fatalf("session done after %d answers", i)
		}
	}

	if !s.Done {
		t.Fatal("session not done after exhausting the budget")
	}
	if !s.EndedAt.Equal(fixedNow) {
		t.Fatalf("EndedAt = %v, want %v", s.EndedAt, fixedNow)
	}
	if len(s.History) != DefaultQuestionBudget {
		t.Fatalf("history length = %d", len(s.History))
	}

	step, err := m.Advance(ctx, s, d.decide)
	if err != nil {
		t.Fatalf("Advance after budget: %v", err)
	}
	if _, ok := step.(Done); !ok {
		t.Fatalf("Advance after budget = %#v, want Done", step)
	}
	if d.calls != DefaultQuestionBudget {
		t.Fatalf("decide called %d times, want %d", d.calls, DefaultQuestionBudget)
	}
}

func TestConclude_TerminalAndIdempotent(t *testing.T) {
	ctx := context.Background()
	now := fixedNow
	m := NewMachine(WithClock(func() time.Time { return now }))
	s := NewSession("s1", fixedNow)
	d := &scriptedDecider{}

	if _, err := m.Advance(ctx, s, d.decide); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !m.Conclude(s) {
		t.Fatal("first Conclude should transition")
	}
	endedAt := s.EndedAt

	now = now.Add(time.Hour)
	if m.Conclude(s) {
		t.Fatal("second Conclude should be a no-op")
	}
	if !s.EndedAt.Equal(endedAt) {
		t.Fatalf("EndedAt changed: %v -> %v", endedAt, s.EndedAt)
	}

	before := s.Clone()
	if err := m.SubmitAnswer(s, AnswerYes); err != nil {
		t.Fatalf("SubmitAnswer after conclude: %v", err)
	}
	step, err := m.Advance(ctx, s, d.decide)
	if err != nil {
		t.Fatalf("Advance after conclude: %v", err)
	}
	if _, ok := step.(Done); !ok {
		t.Fatalf("Advance after conclude = %#v, want Done", step)
	}
	if len(s.History) != len(before.History) || s.PendingQuestion != before.PendingQuestion || s.CurrentGuess != before.CurrentGuess {
		t.Fatalf("concluded session mutated: before=%+v after=%+v", before, s)
	}
	if d.calls != 1 {
		t.Fatalf("decide called %d times, want 1", d.calls)
	}
}

func TestRecordOutcome_FirstWins(t *testing.T) {
	m := newTestMachine()
	s := NewSession("s1", fixedNow)

	if m.RecordOutcome(s, OutcomeUnspecified, "x") {
		t.Fatal("unspecified outcome should not be recorded")
	}
	if !m.RecordOutcome(s, OutcomeIncorrect, "  a giraffe ") {
		t.Fatal("first outcome should be recorded")
	}
	if m.RecordOutcome(s, OutcomeCorrect, "") {
		t.Fatal("second outcome should be ignored")
	}
	if s.Outcome != OutcomeIncorrect || s.RevealedAnswer != "a giraffe" {
		t.Fatalf("outcome = %q, revealed = %q", s.Outcome, s.RevealedAnswer)
	}
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		in      string
		want    Answer
		wantErr bool
	}{
		{in: "yes", want: AnswerYes},
		{in: " NO ", want: AnswerNo},
		{in: "Maybe", want: AnswerMaybe},
		{in: "unknown", want: AnswerUnknown},
		{in: "", wantErr: true},
		{in: "y", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAnswer(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAnswer(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("ParseAnswer(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseOutcome(t *testing.T) {
	for in, want := range map[string]Outcome{"": OutcomeUnspecified, "correct": OutcomeCorrect, " Incorrect": OutcomeIncorrect} {
		got, err := ParseOutcome(in)
		if err != nil || got != want {
			t.Fatalf("ParseOutcome(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseOutcome("won"); err == nil {
		t.Fatal("ParseOutcome(won) should fail")
	}
}
