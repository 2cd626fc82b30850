// Package game holds the session data model and the turn state machine of a
// "guess the hidden concept" game.
//
// A Session moves through three states:
//
//	AwaitingTurn --Advance(question)--> TurnPending --SubmitAnswer--> AwaitingTurn
//	     |                                                  |
//	     +------------------ Conclude / budget -------------+--> Concluded
//
// The package is transport-agnostic and performs no I/O. The decision of what
// to ask next is supplied by the caller as a DecideFunc, which is how the
// gateway plugs in the Oracle without this package depending on it.
//
// Session values are not safe for concurrent mutation. Callers serialize
// access per session (see the sessions package).
package game
