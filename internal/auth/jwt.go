package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/A-Ravioli/donna/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
)

// DefaultStateTTL bounds how long a user has to finish an OAuth consent
const DefaultStateTTL = 15 * time.Minute

const stateIssuer = "donna-oauth"

var (
	// ErrInvalidToken is returned when a token is invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a token is expired
	ErrExpiredToken = errors.New("token expired")
	// ErrStateReused is returned when an OAuth state was already consumed
	ErrStateReused = errors.New("state already used")
)

// StateClaims binds an OAuth callback to the user and platform that started it
type StateClaims struct {
	UserID   string          `json:"user_id"`
	Platform models.Platform `json:"platform"`
	jwt.RegisteredClaims
}

// StateService issues and consumes signed OAuth state tokens. Each token can be
// consumed once; used ids are remembered for the token lifetime in an LRU.
type StateService struct {
	secretKey []byte
	ttl       time.Duration
	used      *lru.Cache
	now       func() time.Time
}

// NewStateService creates a new state token service
func NewStateService(secretKey string, ttl time.Duration) (*StateService, error) {
	if secretKey == "" {
		return nil, errors.New("state secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	used, err := lru.New(8192)
	if err != nil {
		return nil, fmt.Errorf("failed to create state cache: %w", err)
	}
	return &StateService{
		secretKey: []byte(secretKey),
		ttl:       ttl,
		used:      used,
		now:       time.Now,
	}, nil
}

// Issue creates a state token for userID connecting platform
func (s *StateService) Issue(userID string, platform models.Platform) (string, error) {
	now := s.now()
	claims := StateClaims{
		UserID:   userID,
		Platform: platform,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// Consume validates a state token and marks it used
func (s *StateService) Consume(tokenString string) (*StateClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &StateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(stateIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*StateClaims)
	if !ok || !token.Valid || claims.ID == "" || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	if _, ok := models.ParsePlatform(string(claims.Platform)); !ok {
		return nil, ErrInvalidToken
	}

	if seen, _ := s.used.ContainsOrAdd(claims.ID, struct{}{}); seen {
		return nil, ErrStateReused
	}
	return claims, nil
}

// ExtractTokenFromBearer extracts token from "Bearer <token>" format
func ExtractTokenFromBearer(authHeader string) string {
	if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		return authHeader[7:]
	}
	return ""
}
