package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/resume-tracker/internal/ratelimit"
	"go.uber.org/zap"
)

// clientKey identifies a client by IP and User-Agent without storing either.
func clientKey(ctx huma.Context) string {
	hash := sha256.Sum256([]byte(ClientIP(ctx) + "|" + ctx.Header("User-Agent")))

	return hex.EncodeToString(hash[:])
}

// RateLimit returns a huma middleware that charges each request to the limiter.
// A ratelimit.Rule in the operation metadata can exempt the route, give it its own
// limits or pin its scope; every other request is charged by resolver.
func RateLimit(
	api huma.API,
	limiter *ratelimit.Limiter,
	resolver ratelimit.ScopeResolver,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()

		rule, _ := ratelimit.RuleFor(op)
		if rule.Exempt {
			next(ctx)

			return
		}

		var (
			denial *ratelimit.Denial
			err    error
		)

		if len(rule.Limits) > 0 {
			denial, err = limiter.CheckRoute(ctx.Context(), clientKey(ctx), op.Path, rule.Limits)
		} else {
			denial, err = limiter.Check(ctx.Context(), clientKey(ctx), resolver.Resolve(ctx))
		}

		if err != nil {
			logger.Error("rate limit check failed", zap.String("path", operationPath(op)), zap.Error(err))
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error", err)

			return
		}

		if denial != nil {
			reject(api, ctx, denial, logger)

			return
		}

		next(ctx)
	}
}

func operationPath(op *huma.Operation) string {
	if op == nil {
		return ""
	}

	return op.Path
}

func reject(api huma.API, ctx huma.Context, denial *ratelimit.Denial, logger *zap.Logger) {
	logger.Warn("rate limit exceeded",
		zap.String("path", operationPath(ctx.Operation())),
		zap.String("method", ctx.Method()),
		zap.String("bucket", denial.Bucket),
		zap.Int64("count", denial.Count),
		zap.Int64("max", denial.Limit.Max),
		zap.Duration("window", denial.Limit.Window),
		zap.String("client_ip", ClientIP(ctx)),
	)

	ctx.SetHeader("Retry-After", strconv.Itoa(int(denial.RetryAfter().Seconds())))
	_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, "rate limit exceeded: "+denial.String())
}
