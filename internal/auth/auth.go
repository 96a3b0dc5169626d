// Package auth stands in for the identity provider's session handling: it issues bearer
// tokens for user profiles and resolves them back on connect.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"perepiska/internal/content"
	"perepiska/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

const DefaultTokenExpiry = 12 * time.Hour

var ErrUnauthorized = errors.New("unauthorized")

// SessionRequest is the profile the identity provider vouches for.
type SessionRequest struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatarUrl"`
}

type SessionResponse struct {
	UserID      string `json:"userId"`
	Token       string `json:"token"`
	TokenExpiry int64  `json:"tokenExpiry"`
}

type Config struct {
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.TokenExpiry < 0 {
		return errors.New("token expiry must not be negative")
	}
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	return nil
}

type AuthService struct {
	Config
	liveTokens geche.Geche[string, models.User]
	now        func() time.Time
}

func NewAuthService(ctx context.Context, config Config) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:     config,
		liveTokens: geche.NewMapTTLCache[string, models.User](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}, nil
}

// StartSession issues a token for the profile. A profile without an id gets a new one.
func (as *AuthService) StartSession(req SessionRequest) (SessionResponse, error) {
	name := content.Plain(req.DisplayName)
	if name == "" {
		return SessionResponse{}, models.NewValidationError("display name is required")
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = uuid.NewString()
	}

	token, err := as.generateToken()
	if err != nil {
		slog.Error("session start failed", "user_id", userID, "error", err)
		return SessionResponse{}, err
	}

	as.liveTokens.Set(token, models.User{
		ID:          userID,
		DisplayName: name,
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		AvatarURL:   req.AvatarURL,
		Presence:    models.PresenceOnline,
	})

	return SessionResponse{
		UserID:      userID,
		Token:       token,
		TokenExpiry: as.now().Unix() + int64(as.TokenExpiry.Seconds()),
	}, nil
}

func (as *AuthService) Logoff(token string) error {
	return as.liveTokens.Del(token)
}

// GetUser resolves a live token to the profile it was issued for.
func (as *AuthService) GetUser(token string) (models.User, error) {
	if token == "" {
		return models.User{}, ErrUnauthorized
	}
	user, err := as.liveTokens.Get(token)
	if err != nil {
		return models.User{}, ErrUnauthorized
	}
	return user, nil
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
