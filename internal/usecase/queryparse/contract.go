package queryparse

import "context"

// Interpreter turns a prompt into raw JSON text.
type Interpreter interface {
	Interpret(ctx context.Context, prompt string) (string, error)
}
