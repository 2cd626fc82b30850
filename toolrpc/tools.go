package toolrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/twentyq/gateway"
	"github.com/ggoodman/twentyq/mcp"
	"github.com/invopop/jsonschema"
)

// Tool names.
const (
	ToolStartGame      = "start_game"
	ToolAnswerQuestion = "answer_question"
	ToolGetGuess       = "get_guess"
	ToolEndGame        = "end_game"
)

// StartGameArgs is the (empty) input of start_game.
type StartGameArgs struct{}

// AnswerQuestionArgs is the input of answer_question.
type AnswerQuestionArgs struct {
	SessionID string `json:"session_id" jsonschema:"description=Game id returned by start_game"`
	Answer    string `json:"answer" jsonschema:"enum=yes,enum=no,enum=maybe,enum=unknown,description=Answer to the pending question"`
}

// GetGuessArgs is the input of get_guess.
type GetGuessArgs struct {
	SessionID string `json:"session_id" jsonschema:"description=Game id returned by start_game"`
}

// EndGameArgs is the input of end_game.
type EndGameArgs struct {
	SessionID string `json:"session_id" jsonschema:"description=Game id returned by start_game"`
	Outcome   string `json:"outcome,omitempty" jsonschema:"enum=correct,enum=incorrect,description=Whether the final guess was right"`
	Answer    string `json:"answer,omitempty" jsonschema:"description=The concept the player had in mind"`
}

// errInvalidArguments marks argument decoding failures so they surface as
// invalid params rather than internal errors.
var errInvalidArguments = errors.New("invalid arguments")

type tool struct {
	desc mcp.Tool
	call func(ctx context.Context, raw json.RawMessage) (any, error)
}

// newTool reflects the input schema from A and wraps fn with strict argument
// decoding: unknown fields are rejected.
func newTool[A any](name, description string, fn func(ctx context.Context, args A) (any, error)) tool {
	return tool{
		desc: mcp.Tool{
			Name:        name,
			Description: description,
			InputSchema: reflectInputSchema[A](),
		},
		call: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a A
			if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
				dec := json.NewDecoder(bytes.NewReader(raw))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&a); err != nil {
					if ferr := gateway.FieldTypeError(err); ferr != nil {
						return nil, ferr
					}
					return nil, fmt.Errorf("%w: %v", errInvalidArguments, err)
				}
			}
			return fn(ctx, a)
		},
	}
}

func gameTools(gw *gateway.Gateway) []tool {
	return []tool{
		newTool(ToolStartGame, "Start a new game. The server asks the first question.",
			func(ctx context.Context, _ StartGameArgs) (any, error) {
				res, err := gw.Start(ctx)
				if err != nil {
					return nil, err
				}
				return gw.Turn(res), nil
			}),
		newTool(ToolAnswerQuestion, "Answer the pending question and receive the next question or a guess.",
			func(ctx context.Context, a AnswerQuestionArgs) (any, error) {
				res, err := gw.Answer(ctx, a.SessionID, a.Answer)
				if err != nil {
					return nil, err
				}
				return gw.Turn(res), nil
			}),
		newTool(ToolGetGuess, "Return the current guess of a game, or null when there is none.",
			func(ctx context.Context, a GetGuessArgs) (any, error) {
				sess, err := gw.Guess(ctx, a.SessionID)
				if err != nil {
					return nil, err
				}
				return gateway.GuessOf(sess), nil
			}),
		newTool(ToolEndGame, "End a game, optionally reporting whether the guess was correct and the real answer.",
			func(ctx context.Context, a EndGameArgs) (any, error) {
				sess, err := gw.End(ctx, a.SessionID, a.Outcome, a.Answer)
				if err != nil {
					return nil, err
				}
				return gateway.EndOf(sess), nil
			}),
	}
}

// reflectInputSchema reflects A into a jsonschema.Schema and converts it to
// the simplified mcp.ToolInputSchema.
func reflectInputSchema[A any]() mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(A))

	props := make(map[string]mcp.SchemaProperty)
	if s != nil && s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toProperty(el.Value)
		}
	}
	var required []string
	if s != nil && len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func toProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}
