package middleware

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/resume-tracker/internal/handlers"
)

// RequestMeta stores who is calling in the request context: client address,
// user agent and referring page. Origin stands in when Referer is absent.
func RequestMeta(_ huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		referrer := ctx.Header("Referer")
		if referrer == "" {
			referrer = ctx.Header("Origin")
		}

		meta := handlers.RequestMeta{
			ClientIP:  ClientIP(ctx),
			UserAgent: ctx.Header("User-Agent"),
			Referrer:  referrer,
		}

		next(huma.WithContext(ctx, handlers.ContextWithRequestMeta(ctx.Context(), meta)))
	}
}
