package graph

import "context"

type resumeKey struct{}

// WithResumeInput marks ctx as the re-entry of a suspended step.
func WithResumeInput(ctx context.Context, input string) context.Context {
	return context.WithValue(ctx, resumeKey{}, input)
}

// ResumeInput returns the caller input a suspended step is being resumed with.
// It is only set for the first step executed by a resume call.
func ResumeInput(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(resumeKey{}).(string)
	return v, ok
}
