package httpmw

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/security"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrIdentityMismatch   = errors.New("token subject does not match identity")
)

// Authenticator admits a request and tells who is behind it. claimed is the
// identity named by the route, empty when the route names none.
type Authenticator interface {
	Authenticate(r *http.Request, claimed string) (domain.Identity, error)
}

type TokenVerifier interface {
	ParseAndValidate(token string) (*security.AccessClaims, error)
}

// JWTAuthenticator accepts RS256 access tokens from the Authorization header
// or the access_token query parameter (browsers cannot set headers on
// websocket upgrades).
type JWTAuthenticator struct {
	Verifier TokenVerifier
}

func (a JWTAuthenticator) Authenticate(r *http.Request, claimed string) (domain.Identity, error) {
	token := bearer(r)
	if token == "" {
		return domain.Identity{}, ErrMissingCredentials
	}
	claims, err := a.Verifier.ParseAndValidate(token)
	if err != nil {
		return domain.Identity{}, err
	}
	if claimed != "" && claims.Subject != claimed {
		return domain.Identity{}, ErrIdentityMismatch
	}
	return domain.Identity{ID: claims.Subject, Name: claims.Name, Role: domain.ParseRole(claims.Role)}, nil
}

// DevAuthenticator trusts the caller: the identity comes from the route, the
// X-User-ID header or ?user_id=, the role from X-User-Role or ?role=. Local
// use only.
type DevAuthenticator struct{}

func (DevAuthenticator) Authenticate(r *http.Request, claimed string) (domain.Identity, error) {
	id := claimed
	if id == "" {
		id = strings.TrimSpace(r.Header.Get("X-User-ID"))
	}
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if id == "" {
		return domain.Identity{}, ErrMissingCredentials
	}
	role := r.Header.Get("X-User-Role")
	if role == "" {
		role = r.URL.Query().Get("role")
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = id
	}
	return domain.Identity{ID: id, Name: name, Role: domain.ParseRole(role)}, nil
}

func bearer(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

type ctxKey string

const ctxKeyIdentity ctxKey = "identity"

// AuthMiddleware rejects requests the authenticator does not admit and stores
// the identity in the request context.
func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			who, err := auth.Authenticate(r, "")
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), who)))
		})
	}
}

func WithIdentity(ctx context.Context, who domain.Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, who)
}

func IdentityFromCtx(ctx context.Context) (domain.Identity, bool) {
	who, ok := ctx.Value(ctxKeyIdentity).(domain.Identity)
	return who, ok
}
