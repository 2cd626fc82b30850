package game

// Step is the result of advancing a session. It is a closed variant: exactly
// one of Question, Guess or Done.
type Step interface {
	step() // private method to ensure only this package's types implement Step
}

// Question asks the human a yes/no/maybe/unknown question.
type Question struct {
	Text string
}

func (Question) step() {}

// Guess is the Oracle's proposed answer.
type Guess struct {
	Text string
}

func (Guess) step() {}

// Done reports that the session is concluded; no further turns happen.
type Done struct{}

func (Done) step() {}
