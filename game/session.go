package game

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DefaultQuestionBudget is the number of answered questions after which a
// session is forced to conclude.
const DefaultQuestionBudget = 20

// State is the derived lifecycle state of a Session.
type State string

const (
	StateAwaitingTurn State = "awaiting_turn"
	StateTurnPending  State = "turn_pending"
	StateConcluded    State = "concluded"
)

// Answer is the human's reply to a question.
type Answer string

const (
	AnswerYes     Answer = "yes"
	AnswerNo      Answer = "no"
	AnswerMaybe   Answer = "maybe"
	AnswerUnknown Answer = "unknown"
)

// Answers lists the accepted answers in presentation order.
var Answers = []Answer{AnswerYes, AnswerNo, AnswerMaybe, AnswerUnknown}

// Valid reports whether a is one of the accepted answers.
func (a Answer) Valid() bool {
	return slices.Contains(Answers, a)
}

// ParseAnswer normalizes s (trimmed, case-insensitive) into an Answer.
func ParseAnswer(s string) (Answer, error) {
	a := Answer(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("answer must be one of yes, no, maybe, unknown; got %q", s)
	}
	return a, nil
}

// Outcome is how the human reports the end of a game.
type Outcome string

const (
	OutcomeUnspecified Outcome = ""
	OutcomeCorrect     Outcome = "correct"
	OutcomeIncorrect   Outcome = "incorrect"
)

// ParseOutcome normalizes s into an Outcome. The empty string is accepted and
// means the player did not say.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case OutcomeUnspecified, OutcomeCorrect, OutcomeIncorrect:
		return o, nil
	default:
		return "", fmt.Errorf("outcome must be correct or incorrect; got %q", s)
	}
}

// Turn is one answered question. History order is significant: it is replayed
// verbatim to the Oracle on every turn.
type Turn struct {
	Question string `json:"question"`
	Answer   Answer `json:"answer"`
}

// Session is one game instance.
type Session struct {
	ID string

	History []Turn

	// PendingQuestion is the outstanding question, or "" when none is.
	PendingQuestion string

	// CurrentGuess is the Oracle's latest guess, or "" when it has not guessed.
	CurrentGuess string

	Done bool

	// Outcome and RevealedAnswer are set at most once, by the first End that
	// carries them.
	Outcome        Outcome
	RevealedAnswer string

	StartedAt time.Time
	EndedAt   time.Time

	// guessTurn is len(History)+1 at the time CurrentGuess was produced; zero
	// when no guess exists.
	guessTurn int
}

// NewSession returns a fresh session in StateAwaitingTurn.
func NewSession(id string, now time.Time) *Session {
	return &Session{ID: id, StartedAt: now}
}

// State derives the lifecycle state from the session fields.
func (s *Session) State() State {
	switch {
	case s.Done:
		return StateConcluded
	case s.PendingQuestion != "":
		return StateTurnPending
	default:
		return StateAwaitingTurn
	}
}

// QuestionNumber is the 1-based number of the question being asked (or about
// to be asked) on this turn.
func (s *Session) QuestionNumber() int {
	return len(s.History) + 1
}

// GuessedThisTurn reports whether CurrentGuess was produced on the current
// turn, as opposed to an earlier one.
func (s *Session) GuessedThisTurn() bool {
	return s.guessTurn != 0 && s.guessTurn == s.QuestionNumber()
}

// Clone returns a deep copy safe to hand to readers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.History = slices.Clone(s.History)
	return &c
}
