package game

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// DecideFunc produces the next Question or Guess from the ordered history and
// the number of questions still allowed. It may block.
type DecideFunc func(ctx context.Context, history []Turn, remaining int) (Step, error)

// Machine applies turn events to sessions. It holds no per-session state and
// is safe for concurrent use across different sessions.
type Machine struct {
	budget int
	now    func() time.Time
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithQuestionBudget overrides DefaultQuestionBudget. Non-positive values are
// ignored.
func WithQuestionBudget(n int) MachineOption {
	return func(m *Machine) {
		if n > 0 {
			m.budget = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMachine constructs a Machine.
func NewMachine(opts ...MachineOption) *Machine {
	m := &Machine{budget: DefaultQuestionBudget, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Budget is the configured question budget.
func (m *Machine) Budget() int { return m.budget }

// Remaining is how many more questions s may be asked.
func (m *Machine) Remaining(s *Session) int {
	return max(m.budget-len(s.History), 0)
}

// Advance produces the next step for s.
//
// In StateTurnPending it returns the outstanding question without calling
// decide. The same holds for a guess already produced on the current turn, so
// repeated calls without an intervening SubmitAnswer never consult decide
// twice. In StateConcluded it returns Done and changes nothing.
//
// If decide fails, s is left unchanged and the error is returned.
func (m *Machine) Advance(ctx context.Context, s *Session, decide DecideFunc) (Step, error) {
	switch s.State() {
	case StateConcluded:
		return Done{}, nil
	case StateTurnPending:
		return Question{Text: s.PendingQuestion}, nil
	}

	if s.GuessedThisTurn() {
		return Guess{Text: s.CurrentGuess}, nil
	}

	// SubmitAnswer concludes on the budget boundary, so this only triggers for
	// sessions created under a larger budget.
	if len(s.History) >= m.budget {
		m.finish(s)
		return Done{}, nil
	}

	step, err := decide(ctx, slices.Clone(s.History), m.Remaining(s))
	if err != nil {
		return nil, err
	}

	switch st := step.(type) {
	case Question:
		if strings.TrimSpace(st.Text) == "" {
			return nil, fmt.Errorf("%w: empty question", ErrInvalidDecision)
		}
		s.PendingQuestion = st.Text
		return st, nil
	case Guess:
		if strings.TrimSpace(st.Text) == "" {
			return nil, fmt.Errorf("%w: empty guess", ErrInvalidDecision)
		}
		s.CurrentGuess = st.Text
		s.guessTurn = s.QuestionNumber()
		return st, nil
	default:
		return nil, fmt.Errorf("%w: unexpected step %T", ErrInvalidDecision, step)
	}
}

// SubmitAnswer records answer against the pending question.
//
// When the history reaches the question budget the session is concluded. On
// an already concluded session it is a no-op returning nil; the caller
// observes s.Done.
func (m *Machine) SubmitAnswer(s *Session, answer Answer) error {
	if s.Done {
		return nil
	}
	if !answer.Valid() {
		verr := &ValidationError{}
		verr.Add("answer", "must be one of yes, no, maybe, unknown")
		return verr
	}
	if s.PendingQuestion == "" {
		return ErrNoPendingQuestion
	}

	s.History = append(s.History, Turn{Question: s.PendingQuestion, Answer: answer})
	s.PendingQuestion = ""

	if len(s.History) >= m.budget {
		m.finish(s)
	}
	return nil
}

// Conclude ends s. It is idempotent and reports whether this call performed
// the transition.
func (m *Machine) Conclude(s *Session) bool {
	if s.Done {
		return false
	}
	m.finish(s)
	return true
}

// RecordOutcome stores the human-reported outcome the first time one is
// given. It reports whether the outcome was stored by this call.
func (m *Machine) RecordOutcome(s *Session, outcome Outcome, revealed string) bool {
	if outcome == OutcomeUnspecified || s.Outcome != OutcomeUnspecified {
		return false
	}
	s.Outcome = outcome
	s.RevealedAnswer = strings.TrimSpace(revealed)
	return true
}

func (m *Machine) finish(s *Session) {
	s.Done = true
	if s.EndedAt.IsZero() {
		s.EndedAt = m.now()
	}
}
