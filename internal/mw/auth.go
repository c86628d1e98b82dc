// Package mw resolves both front doors — the web session cookie and the
// add-in bearer token — into one Principal shape, so every handler sees
// the same role-scoped identity regardless of how the caller arrived.
package mw

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"bimflow/internal/model"
)

// SessionCookie carries the web client's signed session token.
const SessionCookie = "bimflow_session"

// ErrNoCredentials means a resolver found nothing addressed to it; the
// next resolver in the chain gets a turn.
var ErrNoCredentials = errors.New("no credentials presented")

// Principal is the authenticated caller as the core sees it: an ownership
// key and an admin capability, nothing else.
type Principal struct {
	UserID  string
	IsAdmin bool
}

type contextKey string

const principalKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// Resolver turns request credentials into a Principal. Implementations
// return ErrNoCredentials when the request carries nothing for them.
type Resolver interface {
	Resolve(r *http.Request) (Principal, error)
}

// SessionResolver authenticates the web client's JWT cookie.
type SessionResolver struct {
	Secret string
}

type sessionClaims struct {
	jwt.RegisteredClaims
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
}

func (s SessionResolver) Resolve(r *http.Request) (Principal, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return Principal{}, ErrNoCredentials
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.Secret), nil
	})
	if err != nil || !token.Valid || claims.UserID == "" {
		return Principal{}, errors.New("invalid session token")
	}

	return Principal{UserID: claims.UserID, IsAdmin: claims.IsAdmin}, nil
}

// IssueSessionToken builds the cookie value for a logged-in user. Kept
// next to the resolver so the claims format has a single owner.
func IssueSessionToken(secret string, user *model.User, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		UserID:  user.ID,
		IsAdmin: user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	return token.SignedString([]byte(secret))
}

// TokenResolver is the lookup the bearer door needs; the api-key service
// implements it.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (*model.User, error)
}

// BearerResolver authenticates the add-in's Authorization header.
type BearerResolver struct {
	Tokens TokenResolver
}

func (b BearerResolver) Resolve(r *http.Request) (Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Principal{}, ErrNoCredentials
	}

	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return Principal{}, errors.New("invalid authorization header format")
	}

	user, err := b.Tokens.Resolve(r.Context(), token)
	if err != nil {
		return Principal{}, err
	}

	return Principal{UserID: user.ID, IsAdmin: user.IsAdmin}, nil
}

// Authenticate tries each resolver in order and stores the first
// resolved Principal in the request context. A resolver that saw
// credentials and rejected them ends the request; only "nothing for me"
// falls through.
func Authenticate(logger *zap.SugaredLogger, resolvers ...Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, resolver := range resolvers {
				p, err := resolver.Resolve(r)
				if errors.Is(err, ErrNoCredentials) {
					continue
				}
				if err != nil {
					logger.Debugw("authentication rejected", "error", err)
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

// RequireAdmin gates admin-only routes. It assumes Authenticate already
// ran.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !p.IsAdmin {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
