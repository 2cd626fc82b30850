// Package gateway is the single entry point through which every transport
// drives games. It owns the session store, the state machine, the Oracle
// port and the missed-answer recorder; adapters only translate wire formats
// to and from these calls.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ggoodman/twentyq/game"
	"github.com/ggoodman/twentyq/internal/logctx"
	"github.com/ggoodman/twentyq/oracle"
	"github.com/ggoodman/twentyq/sessions"
)

// missedLimit caps the missed answers forwarded to the Oracle per turn.
const missedLimit = 20

// MissedStore is the persistence collaborator for concepts the Oracle
// failed to guess.
type MissedStore interface {
	Record(ctx context.Context, sessionID, answer string, questions int) (bool, error)
	Answers(ctx context.Context, limit int) ([]string, error)
}

// Result is the outcome of an operation that advanced a game.
type Result struct {
	// Step is exactly one of game.Question, game.Guess or game.Done.
	Step game.Step

	// Session is a snapshot taken after the operation.
	Session *game.Session
}

// Gateway coordinates games. It is safe for concurrent use.
type Gateway struct {
	store   sessions.Store
	machine *game.Machine
	oracle  oracle.Port
	missed  MissedStore
	log     *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMachine overrides the default state machine.
func WithMachine(m *game.Machine) Option {
	return func(g *Gateway) {
		if m != nil {
			g.machine = m
		}
	}
}

// WithMissedStore enables missed-answer recording and forwarding.
func WithMissedStore(m MissedStore) Option {
	return func(g *Gateway) {
		g.missed = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// New constructs a Gateway.
func New(store sessions.Store, port oracle.Port, opts ...Option) *Gateway {
	g := &Gateway{
		store:   store,
		machine: game.NewMachine(),
		oracle:  port,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start creates a game and asks its first question (or makes a guess).
func (g *Gateway) Start(ctx context.Context) (Result, error) {
	start := time.Now()

	sess, err := g.store.Create(ctx)
	if err != nil {
		g.log.ErrorContext(ctx, "gateway.start.fail", slog.String("err", err.Error()))
		return Result{}, err
	}
	ctx = logctx.WithGameData(ctx, &logctx.GameData{SessionID: sess.ID, Op: "start"})

	res, err := g.advance(ctx, sess.ID, nil)
	if err != nil {
		g.log.ErrorContext(ctx, "gateway.start.fail", slog.String("err", err.Error()))
		return Result{}, err
	}

	g.log.InfoContext(ctx, "gateway.start.ok", slog.String("step", StepKind(res.Step)), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return res, nil
}

// Answer records answer against the pending question of game id and
// advances to the next turn. On a concluded game it changes nothing and
// returns game.Done.
func (g *Gateway) Answer(ctx context.Context, id, answer string) (Result, error) {
	start := time.Now()
	ctx = logctx.WithGameData(ctx, &logctx.GameData{SessionID: id, Op: "answer"})

	verr := &game.ValidationError{}
	if strings.TrimSpace(id) == "" {
		verr.Add("session_id", "is required")
	}
	a, perr := game.ParseAnswer(answer)
	if perr != nil {
		verr.Add("answer", "must be one of yes, no, maybe, unknown")
	}
	if err := verr.Err(); err != nil {
		g.log.InfoContext(ctx, "gateway.answer.invalid", slog.String("err", err.Error()))
		return Result{}, err
	}

	res, err := g.advance(ctx, id, func(s *game.Session) error {
		return g.machine.SubmitAnswer(s, a)
	})
	if err != nil {
		g.logOutcome(ctx, "gateway.answer", err)
		return Result{}, err
	}

	g.log.InfoContext(ctx, "gateway.answer.ok",
		slog.String("step", StepKind(res.Step)),
		slog.Int("history_len", len(res.Session.History)),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

// Guess returns a snapshot of game id for reading its current guess;
// CurrentGuess is "" when there is none. It never mutates the game.
func (g *Gateway) Guess(ctx context.Context, id string) (*game.Session, error) {
	return g.Get(ctx, id)
}

// Get returns a snapshot of game id.
func (g *Gateway) Get(ctx context.Context, id string) (*game.Session, error) {
	if strings.TrimSpace(id) == "" {
		verr := &game.ValidationError{}
		verr.Add("session_id", "is required")
		return nil, verr
	}
	sess, ok := g.store.Get(ctx, id)
	if !ok {
		return nil, sessions.ErrNotFound
	}
	return sess, nil
}

// End concludes game id. The first call carrying a non-empty outcome stores
// it; an "incorrect" outcome with a revealed answer is written to the missed
// store. Repeated calls are acknowledged without further effect.
func (g *Gateway) End(ctx context.Context, id, outcome, revealed string) (*game.Session, error) {
	start := time.Now()
	ctx = logctx.WithGameData(ctx, &logctx.GameData{SessionID: id, Op: "end"})

	verr := &game.ValidationError{}
	if strings.TrimSpace(id) == "" {
		verr.Add("session_id", "is required")
	}
	o, perr := game.ParseOutcome(outcome)
	if perr != nil {
		verr.Add("outcome", "must be correct, incorrect or empty")
	}
	if err := verr.Err(); err != nil {
		g.log.InfoContext(ctx, "gateway.end.invalid", slog.String("err", err.Error()))
		return nil, err
	}

	var concluded, recorded bool
	sess, err := g.store.Update(ctx, id, func(ctx context.Context, s *game.Session) error {
		concluded = g.machine.Conclude(s)
		recorded = g.machine.RecordOutcome(s, o, revealed)
		return nil
	})
	if err != nil {
		g.logOutcome(ctx, "gateway.end", err)
		return nil, err
	}

	if recorded && sess.Outcome == game.OutcomeIncorrect && sess.RevealedAnswer != "" {
		g.recordMissed(ctx, sess)
	}

	g.log.InfoContext(ctx, "gateway.end.ok",
		slog.Bool("concluded", concluded),
		slog.String("outcome", string(sess.Outcome)),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return sess, nil
}

// advance applies mutate (if any) and then Advance under the session's
// single-writer lock.
func (g *Gateway) advance(ctx context.Context, id string, mutate func(*game.Session) error) (Result, error) {
	var step game.Step
	sess, err := g.store.Update(ctx, id, func(ctx context.Context, s *game.Session) error {
		if mutate != nil {
			if err := mutate(s); err != nil {
				return err
			}
		}
		st, err := g.machine.Advance(ctx, s, g.decide)
		if err != nil {
			return err
		}
		step = st
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Step: step, Session: sess}, nil
}

// decide consults the Oracle. The call is detached from the caller's
// cancellation so a dropped client cannot abort a turn midway; the port's
// own timeout bounds it. Any failure degrades to a fallback question.
func (g *Gateway) decide(ctx context.Context, history []game.Turn, remaining int) (game.Step, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	req := oracle.Request{History: history, Remaining: remaining, Missed: g.missedAnswers(ctx)}
	step, err := g.oracle.NextStep(ctx, req)
	if err == nil {
		err = validStep(step)
	}
	if err != nil {
		g.log.WarnContext(ctx, "gateway.oracle.unavailable",
			slog.String("err", err.Error()),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()),
		)
		return oracle.Fallback(len(history)), nil
	}

	g.log.DebugContext(ctx, "gateway.oracle.ok",
		slog.String("step", StepKind(step)),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return step, nil
}

func (g *Gateway) missedAnswers(ctx context.Context) []string {
	if g.missed == nil {
		return nil
	}
	answers, err := g.missed.Answers(ctx, missedLimit)
	if err != nil {
		g.log.WarnContext(ctx, "gateway.missed.list_failed", slog.String("err", err.Error()))
		return nil
	}
	return answers
}

func (g *Gateway) recordMissed(ctx context.Context, sess *game.Session) {
	if g.missed == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if _, err := g.missed.Record(ctx, sess.ID, sess.RevealedAnswer, len(sess.History)); err != nil {
		g.log.ErrorContext(ctx, "gateway.missed.record_failed", slog.String("err", err.Error()))
		return
	}
	g.log.InfoContext(ctx, "gateway.missed.recorded", slog.String("answer", sess.RevealedAnswer))
}

func (g *Gateway) logOutcome(ctx context.Context, event string, err error) {
	switch Classify(err) {
	case KindInternal:
		g.log.ErrorContext(ctx, event+".fail", slog.String("err", err.Error()))
	default:
		g.log.InfoContext(ctx, event+".rejected", slog.String("err", err.Error()))
	}
}

func validStep(step game.Step) error {
	switch st := step.(type) {
	case game.Question:
		if strings.TrimSpace(st.Text) != "" {
			return nil
		}
	case game.Guess:
		if strings.TrimSpace(st.Text) != "" {
			return nil
		}
	}
	return errors.Join(oracle.ErrUnavailable, game.ErrInvalidDecision)
}
