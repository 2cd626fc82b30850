package gateway

import (
	"time"

	"github.com/ggoodman/twentyq/game"
)

// The view types are the JSON payloads shared by every adapter. Transports
// frame them differently but never reshape them.

// TurnView reports the step produced by Start or Answer.
type TurnView struct {
	SessionID      string `json:"session_id"`
	Kind           string `json:"kind"`
	Question       string `json:"question,omitempty"`
	Guess          string `json:"guess,omitempty"`
	Done           bool   `json:"done"`
	QuestionNumber int    `json:"question_number"`
	Remaining      int    `json:"remaining"`
}

// GuessView reports the current guess; Guess is null when there is none.
type GuessView struct {
	SessionID string  `json:"session_id"`
	Guess     *string `json:"guess"`
	Done      bool    `json:"done"`
}

// EndView acknowledges an End.
type EndView struct {
	SessionID      string       `json:"session_id"`
	Done           bool         `json:"done"`
	Outcome        game.Outcome `json:"outcome,omitempty"`
	RevealedAnswer string       `json:"revealed_answer,omitempty"`
	Questions      int          `json:"questions"`
	EndedAt        time.Time    `json:"ended_at"`
}

// SessionView is the read-only projection of a whole game.
type SessionView struct {
	ID              string       `json:"id"`
	State           game.State   `json:"state"`
	History         []game.Turn  `json:"history"`
	PendingQuestion string       `json:"pending_question,omitempty"`
	CurrentGuess    string       `json:"current_guess,omitempty"`
	Done            bool         `json:"done"`
	Outcome         game.Outcome `json:"outcome,omitempty"`
	RevealedAnswer  string       `json:"revealed_answer,omitempty"`
	Remaining       int          `json:"remaining"`
	StartedAt       time.Time    `json:"started_at"`
	EndedAt         *time.Time   `json:"ended_at,omitempty"`
}

// Turn renders res.
func (g *Gateway) Turn(res Result) TurnView {
	s := res.Session
	v := TurnView{
		SessionID:      s.ID,
		Kind:           StepKind(res.Step),
		Done:           s.Done,
		QuestionNumber: min(s.QuestionNumber(), g.machine.Budget()),
		Remaining:      g.machine.Remaining(s),
	}
	switch st := res.Step.(type) {
	case game.Question:
		v.Question = st.Text
	case game.Guess:
		v.Guess = st.Text
	case game.Done:
		v.Guess = s.CurrentGuess
	}
	return v
}

// GuessOf renders the current guess of s.
func GuessOf(s *game.Session) GuessView {
	v := GuessView{SessionID: s.ID, Done: s.Done}
	if s.CurrentGuess != "" {
		g := s.CurrentGuess
		v.Guess = &g
	}
	return v
}

// EndOf renders the acknowledgment of an End on s.
func EndOf(s *game.Session) EndView {
	return EndView{
		SessionID:      s.ID,
		Done:           s.Done,
		Outcome:        s.Outcome,
		RevealedAnswer: s.RevealedAnswer,
		Questions:      len(s.History),
		EndedAt:        s.EndedAt,
	}
}

// View renders the whole of s.
func (g *Gateway) View(s *game.Session) SessionView {
	v := SessionView{
		ID:              s.ID,
		State:           s.State(),
		History:         s.History,
		PendingQuestion: s.PendingQuestion,
		CurrentGuess:    s.CurrentGuess,
		Done:            s.Done,
		Outcome:         s.Outcome,
		RevealedAnswer:  s.RevealedAnswer,
		Remaining:       g.machine.Remaining(s),
		StartedAt:       s.StartedAt,
	}
	if v.History == nil {
		v.History = []game.Turn{}
	}
	if !s.EndedAt.IsZero() {
		at := s.EndedAt
		v.EndedAt = &at
	}
	return v
}
