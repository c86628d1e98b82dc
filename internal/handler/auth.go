package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bimflow/internal/model"
	"bimflow/internal/mw"
	"bimflow/internal/service"
)

const sessionTTL = 24 * time.Hour

type credentialsRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
}

func RegisterHandler(authSvc *service.AuthService, secret string, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Email == "" || req.Password == "" {
			http.Error(w, "email and password required", http.StatusBadRequest)
			return
		}

		user, err := authSvc.Register(r.Context(), req.Email, req.Name, req.Password)
		if err != nil {
			if errors.Is(err, service.ErrEmailTaken) {
				http.Error(w, "email already registered", http.StatusConflict)
				return
			}
			writeServiceError(w, logger, err)
			return
		}

		if !setSessionCookie(w, secret, user, logger) {
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func LoginHandler(authSvc *service.AuthService, secret string, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		user, err := authSvc.Authenticate(r.Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, service.ErrInvalidCredentials) {
				http.Error(w, "invalid email or password", http.StatusUnauthorized)
				return
			}
			writeServiceError(w, logger, err)
			return
		}

		if !setSessionCookie(w, secret, user, logger) {
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func setSessionCookie(w http.ResponseWriter, secret string, user *model.User, logger *zap.SugaredLogger) bool {
	token, err := mw.IssueSessionToken(secret, user, sessionTTL)
	if err != nil {
		logger.Errorw("failed to sign session token", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return false
	}

	http.SetCookie(w, &http.Cookie{
		Name:     mw.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return true
}

type issueKeyRequest struct {
	Label string `json:"label"`
}

// IssueAPIKeyHandler mints a bearer token for the caller's add-in. The
// plaintext token is returned once and is never retrievable again.
func IssueAPIKeyHandler(keys *service.APIKeyService, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		var req issueKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		token, key, err := keys.Issue(r.Context(), p.UserID, req.Label)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"token": token,
			"key":   key,
		})
	}
}
