package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"bimflow/internal/model"
)

var ErrInvalidAPIKey = errors.New("invalid api key")

// APIKeyService issues and resolves the add-in's bearer credentials. A
// token is "<keyID>.<secret>"; only a bcrypt hash of the secret half is
// stored, so the id prefix is what makes lookup possible.
type APIKeyService struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func NewAPIKeyService(db *sql.DB, logger *zap.SugaredLogger) *APIKeyService {
	return &APIKeyService{db: db, logger: logger}
}

// Issue creates a key for the user and returns the plaintext token. It is
// shown exactly once; afterwards only the hash exists.
func (s *APIKeyService) Issue(ctx context.Context, userID, label string) (string, *model.APIKey, error) {
	secret, err := randomSecret()
	if err != nil {
		return "", nil, fmt.Errorf("generate api key secret: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash api key: %w", err)
	}

	id := uuid.NewString()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (id, user_id, label, key_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, label, created_at
	`, id, userID, label, hash)

	var key model.APIKey
	if err := row.Scan(&key.ID, &key.UserID, &key.Label, &key.CreatedAt); err != nil {
		return "", nil, fmt.Errorf("insert api key: %w", err)
	}
	key.KeyHash = hash

	s.logger.Infow("api key issued", "key", key.ID, "user", userID, "label", label)
	return id + "." + secret, &key, nil
}

// Resolve maps a bearer token to its user. Any malformed, unknown or
// mismatched token resolves to ErrInvalidAPIKey without distinguishing
// which check failed.
func (s *APIKeyService) Resolve(ctx context.Context, token string) (*model.User, error) {
	keyID, secret, ok := strings.Cut(token, ".")
	if !ok || keyID == "" || secret == "" {
		return nil, ErrInvalidAPIKey
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT k.key_hash, u.id, u.email, u.name, u.is_admin, u.created_at
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.id = $1
	`, keyID)

	var (
		hash []byte
		user model.User
	)
	if err := row.Scan(&hash, &user.ID, &user.Email, &user.Name, &user.IsAdmin, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	// Usage tracking is best effort; a failed touch never blocks auth.
	if _, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, keyID); err != nil {
		s.logger.Debugw("failed to touch api key", "key", keyID, "error", err)
	}

	return &user, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", b), nil
}
