package middleware

import (
	"net/http"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/upb/grounded-chat/config"
	"github.com/upb/grounded-chat/internal/observability"
	"github.com/upb/grounded-chat/models"
	"github.com/upb/grounded-chat/services/chat"
	"github.com/upb/grounded-chat/utils"
)

// ChatRateLimit limits requests per client IP. Rejected requests get the same
// throttling payload as an upstream 429 so the browser handles both alike.
// Returns a pass-through middleware when the limit is disabled.
func ChatRateLimit(cfg config.RateLimitConfig, metrics *observability.Metrics, logger *zap.Logger) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	rate := limiter.Rate{
		Period: cfg.Period,
		Limit:  cfg.Requests,
	}
	lim := limiter.New(memory.NewStore(), rate)

	mw := stdlib.NewMiddleware(lim,
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.RecordChat(string(models.ChatStatusRateLimited))
			observability.WithRequest(r.Context(), logger).Warn("chat rate limit reached",
				zap.String("remote_addr", r.RemoteAddr))

			_ = utils.WriteJSON(w, http.StatusTooManyRequests, &models.ChatResponse{
				Reply:     chat.ThrottledMessage,
				Citations: []models.Citation{},
				Error:     true,
				Status:    models.ChatStatusRateLimited,
			})
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			observability.WithRequest(r.Context(), logger).Error("rate limiter store failed", zap.Error(err))
			_ = utils.WriteInternalServerError(w, "rate limiter unavailable")
		}),
	)

	return mw.Handler
}
