package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/server/auth"
	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey string

const operatorKey ctxKey = "operator"

func operatorFrom(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey).(string)
	return op
}

// operatorAuth requires a valid operator bearer token and stores the
// operator name in the request context.
func (s *Server) operatorAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(common.AuthorizationHeaderName)
		token, ok := strings.CutPrefix(header, common.BearerPrefix)
		if !ok || token == "" {
			s.respondError(w, r, http.StatusUnauthorized, "missing token")
			return
		}

		operator, err := auth.GetOperatorFromToken(token, s.jwtSecret)
		if err != nil {
			s.respondError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), operatorKey, operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs one line per request. Query strings are not logged:
// chunk requests carry the token there.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Info(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
