package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/agentsnare/snare-go/internal/db"
)

type ctxKey string

const operatorCtxKey ctxKey = "operator"

// RequireOperator is chi middleware admitting either a valid dashboard
// session cookie or, when configured, a static bearer token for headless
// clients. sm may be nil when no database is available; the bearer path
// still works then.
func RequireOperator(sm *SessionManager, bearerToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bearerToken != "" {
				header := r.Header.Get("Authorization")
				if strings.HasPrefix(header, "Bearer ") {
					tok := strings.TrimPrefix(header, "Bearer ")
					if subtle.ConstantTimeCompare([]byte(tok), []byte(bearerToken)) == 1 {
						next.ServeHTTP(w, r)
						return
					}
				}
			}

			if sm != nil {
				op, err := sm.Validate(r.Context(), r)
				if err == nil && op != nil {
					ctx := context.WithValue(r.Context(), operatorCtxKey, op)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"authentication required"}`))
		})
	}
}

// GetOperatorFromCtx extracts the operator from the request context. Nil for
// bearer-token requests.
func GetOperatorFromCtx(ctx context.Context) *db.Operator {
	op, _ := ctx.Value(operatorCtxKey).(*db.Operator)
	return op
}
