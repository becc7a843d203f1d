package web

import (
	"context"
	"net/http"

	"github.com/keboola/platform-libraries-sub003/internal/core"
)

// withRequester records the caller for run history.
// RemoteAddr has already been rewritten by TrustedRealIP.
func withRequester(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithRequester(ctx, core.Requester{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
}
