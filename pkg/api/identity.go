package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"rywrouter/pkg/replica"
)

// DemoUserHeader carries the caller's user ID in the demo setup, standing
// in for real authentication.
const DemoUserHeader = "X-Demo-UserId"

// DemoUserID is used when the header is missing or not a UUID.
var DemoUserID = uuid.MustParse("11111111-1111-1111-1111-111111111111")

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id replica.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity, or the empty
// identity.
func IdentityFrom(ctx context.Context) replica.Identity {
	id, _ := ctx.Value(identityKey{}).(replica.Identity)
	return id
}

// DemoIdentity assigns an identity to requests that do not have one yet,
// taken from DemoUserHeader when it holds a valid UUID.
func DemoIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFrom(r.Context()).Known() {
			next.ServeHTTP(w, r)
			return
		}

		id := DemoUserID
		if h := strings.TrimSpace(r.Header.Get(DemoUserHeader)); h != "" {
			if parsed, err := uuid.Parse(h); err == nil {
				id = parsed
			}
		}
		ctx := WithIdentity(r.Context(), replica.Identity(id.String()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
