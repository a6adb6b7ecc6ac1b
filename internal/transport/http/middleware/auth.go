package httpmw

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/pkg/httputil"
)

type ctxKey string

const ctxKeyPrincipal ctxKey = "principal"

type PrincipalResolver interface {
	Resolve(ctx context.Context, token string) (domain.Principal, error)
}

// Auth требует Bearer access token и кладёт principal в контекст.
func Auth(resolver PrincipalResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearer(r)
			if !ok {
				httputil.FromErr(w, fmt.Errorf("missing or invalid Authorization header: %w", domain.ErrUnauthorized))
				return
			}
			p, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				httputil.FromErr(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPrincipal, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func PrincipalFromCtx(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(domain.Principal)
	return p, ok
}

func bearer(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
