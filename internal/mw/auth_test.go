package mw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bimflow/internal/model"
)

const testSecret = "test-secret"

func capturePrincipal(t *testing.T, got *Principal) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		require.True(t, ok)
		*got = p
		w.WriteHeader(http.StatusOK)
	})
}

func TestSessionResolverRoundTrip(t *testing.T) {
	user := &model.User{ID: "user-1", IsAdmin: true}
	token, err := IssueSessionToken(testSecret, user, time.Hour)
	require.NoError(t, err)

	var got Principal
	h := Authenticate(zap.NewNop().Sugar(), SessionResolver{Secret: testSecret})(capturePrincipal(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, Principal{UserID: "user-1", IsAdmin: true}, got)
}

func TestSessionResolverRejectsForgedToken(t *testing.T) {
	user := &model.User{ID: "user-1"}
	token, err := IssueSessionToken("other-secret", user, time.Hour)
	require.NoError(t, err)

	var got Principal
	h := Authenticate(zap.NewNop().Sugar(), SessionResolver{Secret: testSecret})(capturePrincipal(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthenticateWithoutCredentials(t *testing.T) {
	var got Principal
	h := Authenticate(zap.NewNop().Sugar(), SessionResolver{Secret: testSecret})(capturePrincipal(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

type fakeTokens struct {
	user *model.User
	err  error
}

func (f fakeTokens) Resolve(_ context.Context, token string) (*model.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

func TestBearerResolver(t *testing.T) {
	var got Principal
	resolver := BearerResolver{Tokens: fakeTokens{user: &model.User{ID: "user-2"}}}
	h := Authenticate(zap.NewNop().Sugar(), resolver)(capturePrincipal(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/api/addin/orders", nil)
	req.Header.Set("Authorization", "Bearer key-1.secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, Principal{UserID: "user-2"}, got)
}

func TestBearerResolverRejectsBadToken(t *testing.T) {
	var got Principal
	resolver := BearerResolver{Tokens: fakeTokens{err: errors.New("invalid api key")}}
	h := Authenticate(zap.NewNop().Sugar(), resolver)(capturePrincipal(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/api/addin/orders", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// Both resolvers can sit on one chain: each credential kind lands on the
// same Principal shape.
func TestAuthenticateResolverChain(t *testing.T) {
	var got Principal
	chain := Authenticate(zap.NewNop().Sugar(),
		SessionResolver{Secret: testSecret},
		BearerResolver{Tokens: fakeTokens{user: &model.User{ID: "addin-user"}}},
	)(capturePrincipal(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Authorization", "Bearer key-1.secret")
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "addin-user", got.UserID)
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
	req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: "user-1"}))
	rr := httptest.NewRecorder()
	RequireAdmin(next).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
	req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: "admin-1", IsAdmin: true}))
	rr = httptest.NewRecorder()
	RequireAdmin(next).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	RequireAdmin(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
