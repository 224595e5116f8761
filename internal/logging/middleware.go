package logging

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Middleware logs one line per request. Headers are only logged at debug
// level and always masked.
func Middleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(httpResponseWriter http.ResponseWriter, httpRequest *http.Request) {
			startTime := time.Now()
			wrappedWriter := middleware.NewWrapResponseWriter(httpResponseWriter, httpRequest.ProtoMajor)
			next.ServeHTTP(wrappedWriter, httpRequest)

			fields := []zap.Field{
				zap.String("method", httpRequest.Method),
				zap.String("path", httpRequest.URL.Path),
				zap.Int("status", wrappedWriter.Status()),
				zap.Int("bytes", wrappedWriter.BytesWritten()),
				zap.Duration("duration", time.Since(startTime)),
				zap.String("request_id", middleware.GetReqID(httpRequest.Context())),
			}
			if logger.Core().Enabled(zap.DebugLevel) {
				fields = append(fields, zap.Any("headers", MaskHeaders(httpRequest.Header)))
			}
			logger.Info("http request", fields...)
		})
	}
}
