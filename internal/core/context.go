package core

import "context"

type contextKey string

const ctxKeyRequester contextKey = "staging_requester"

// Requester identifies who asked for a staging run. Recorded in run history.
type Requester struct {
	IPAddress string
	UserAgent string
}

// ContextWithRequester stores the requester in ctx.
func ContextWithRequester(ctx context.Context, r Requester) context.Context {
	return context.WithValue(ctx, ctxKeyRequester, r)
}

// RequesterFromContext returns the requester stored in ctx, or the zero value.
func RequesterFromContext(ctx context.Context) Requester {
	if r, ok := ctx.Value(ctxKeyRequester).(Requester); ok {
		return r
	}
	return Requester{}
}
