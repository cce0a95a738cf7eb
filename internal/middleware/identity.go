package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/atis-edu/be-survey-approvals/internal/repository"
)

// Identity headers set by the API gateway after authentication.
const (
	UserIDHeader          = "X-User-ID"
	UserRolesHeader       = "X-User-Roles"
	UserInstitutionHeader = "X-User-Institution"
	UserScopeHeader       = "X-User-Scope"
)

// Identity reads the gateway headers into an Approver on the request context.
// Requests without X-User-ID pass through anonymous.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a := ApproverFromHeaders(r.Header); a != nil {
			r = r.WithContext(WithApprover(r.Context(), a))
		}
		next.ServeHTTP(w, r)
	})
}

// ApproverFromHeaders builds the approver described by h, or nil when h
// carries no user id.
func ApproverFromHeaders(h http.Header) *repository.Approver {
	id := strings.TrimSpace(h.Get(UserIDHeader))
	if id == "" {
		return nil
	}
	return &repository.Approver{
		ID:            id,
		Roles:         splitList(h.Get(UserRolesHeader)),
		InstitutionID: strings.TrimSpace(h.Get(UserInstitutionHeader)),
		Scope:         splitList(h.Get(UserScopeHeader)),
	}
}

func WithApprover(ctx context.Context, a *repository.Approver) context.Context {
	return context.WithValue(ctx, approverKey, a)
}

// ApproverFromContext returns the authenticated approver, or nil.
func ApproverFromContext(ctx context.Context) *repository.Approver {
	a, _ := ctx.Value(approverKey).(*repository.Approver)
	return a
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
