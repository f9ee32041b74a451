package auth

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/peerex/peerex-core/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

// Credentials represents the API authentication credentials
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// Service handles authentication for the exchange API. API keys map to
// user identities; tokens carry the user id the trading and ledger
// handlers scope their queries by.
type Service struct {
	jwtSecret []byte
	// API key -> (secret, user id). A real deployment backs this with the
	// user store; in-memory registration covers dev and simulation.
	apiCredentials map[string]credential
}

type credential struct {
	secret string
	userID string
}

// NewService creates a new authentication service with the given JWT secret
func NewService(jwtSecret string) *Service {
	return &Service{
		jwtSecret:      []byte(jwtSecret),
		apiCredentials: make(map[string]credential),
	}
}

// RegisterAPICredentials registers credentials for a user.
func (s *Service) RegisterAPICredentials(apiKey, apiSecret, userID string) {
	s.apiCredentials[apiKey] = credential{secret: apiSecret, userID: userID}
}

// PermissionInternal marks tokens for internal collaborators; the
// credentials exchange never grants it.
const PermissionInternal = "internal"

// GenerateToken generates a JWT for valid API credentials, expiring in 24
// hours.
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	cred, ok := s.apiCredentials[creds.APIKey]
	if !ok || cred.secret != creds.APISecret {
		return nil, ErrInvalidCredentials
	}
	return s.signToken(cred.userID, []string{"trade", "balance"})
}

// GenerateServiceToken issues a token for an internal collaborator. It is
// never exposed over HTTP; internal services obtain their tokens at
// deploy time.
func (s *Service) GenerateServiceToken(serviceID string) (*TokenResponse, error) {
	return s.signToken(serviceID, []string{PermissionInternal})
}

func (s *Service) signToken(userID string, permissions []string) (*TokenResponse, error) {
	expiration := time.Now().Add(24 * time.Hour)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
		UserID:      userID,
		Permissions: permissions,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
	}, nil
}

// ValidateToken verifies a token's signature and expiry and returns its
// claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GenerateTokenHandler handles POST requests to exchange API credentials
// for a JWT.
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}
