package middleware

import (
	"net/http"
	"runtime/debug"

	"screen-service/pkg/errors"

	"go.uber.org/zap"
)

// Recover catches panics and returns a JSON 500.
func Recover(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path),
						zap.String("request_id", RequestIDFromContext(r.Context())),
						zap.ByteString("stack", debug.Stack()),
					)
					writeError(w, errors.ErrInternalServer)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
