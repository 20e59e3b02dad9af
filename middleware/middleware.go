package middleware

import (
	"context"
	"net/http"

	"github.com/pborman/uuid"
)

// type to create context.Context key
type CtxTransactionKeyType string

// context.Context key to get the transaction ID from the request context
const CtxTransactionKey CtxTransactionKeyType = "ctxTransaction"

// NewTransactionID tags every request with a transaction ID so a scoring
// result can be tied back to its request in the logs.
func NewTransactionID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txID := uuid.New()
		r = r.WithContext(context.WithValue(r.Context(), CtxTransactionKey, txID))
		w.Header().Set("X-Transaction-Id", txID)
		next.ServeHTTP(w, r)
	})
}

// GetTransactionID returns the transaction ID stored by NewTransactionID, or
// a fresh one when the context has none (direct library calls).
func GetTransactionID(ctx context.Context) string {
	if id, ok := ctx.Value(CtxTransactionKey).(string); ok && id != "" {
		return id
	}
	return uuid.New()
}
