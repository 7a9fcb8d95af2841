package detection

import "context"

// Request is one token sent for classification with the text around it.
type Request struct {
	Token   string
	Context string
}

// Validator classifies tokens as real secrets. It must return exactly one
// verdict per request, in order.
type Validator interface {
	Validate(ctx context.Context, reqs []Request) ([]bool, error)
}

// AcceptAll confirms every token. It stands in when no validation service is
// configured.
type AcceptAll struct{}

func (AcceptAll) Validate(_ context.Context, reqs []Request) ([]bool, error) {
	out := make([]bool, len(reqs))
	for i := range out {
		out[i] = true
	}
	return out, nil
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, reqs []Request) ([]bool, error)

func (f ValidatorFunc) Validate(ctx context.Context, reqs []Request) ([]bool, error) {
	return f(ctx, reqs)
}
