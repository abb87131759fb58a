package nlrules

import (
	"context"
	"fmt"
)

// Model turns an instruction into raw text.
type Model interface {
	Generate(ctx context.Context, instruction string) (string, error)
}

// StatusError carries the HTTP status of a failed model call so that retry
// classification can see it.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string   { return fmt.Sprintf("model api %d: %s", e.Code, e.Message) }
func (e *StatusError) StatusCode() int { return e.Code }
