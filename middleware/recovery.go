package middleware

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"yoloDetect/dto"
)

func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic recovered",
						zap.String("trace_id", GetTraceID(r.Context())),
						zap.Any("error", err),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(dto.Envelope{
						Code: http.StatusInternalServerError,
						Msg:  "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
