package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/ggoodman/twentyq/game"
	"github.com/ggoodman/twentyq/sessions"
)

// Kind is the transport-neutral class of a gateway error. Each adapter maps
// a Kind onto its own wire representation.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindNoPendingQuestion
	KindInvalid
	KindCanceled
)

// Classify maps err onto a Kind.
func Classify(err error) Kind {
	var verr *game.ValidationError
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		return KindNotFound
	case errors.Is(err, game.ErrNoPendingQuestion):
		return KindNoPendingQuestion
	case errors.As(err, &verr):
		return KindInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

// Fields returns the violated fields carried by a validation error, if any.
func Fields(err error) []game.FieldError {
	var verr *game.ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}

// FieldTypeError converts a JSON type mismatch on a named field into a
// *game.ValidationError naming that field. Any other error yields nil.
func FieldTypeError(err error) error {
	var terr *json.UnmarshalTypeError
	if !errors.As(err, &terr) || terr.Field == "" {
		return nil
	}
	verr := &game.ValidationError{}
	verr.Add(terr.Field, fmt.Sprintf("must be %s, got %s", jsonKind(terr.Type), terr.Value))
	return verr
}

func jsonKind(t reflect.Type) string {
	if t == nil {
		return "a value"
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Slice, reflect.Array:
		return "an array"
	default:
		return "an object"
	}
}

// StepKind names a step for wire formats and logs.
func StepKind(s game.Step) string {
	switch s.(type) {
	case game.Question:
		return "question"
	case game.Guess:
		return "guess"
	case game.Done:
		return "done"
	default:
		return ""
	}
}
