package middleware

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/peerex/peerex-core/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.RWMutex

	// Configure limits per endpoint type
	authLimit    = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	tradingLimit = rate.Limit(100.0 / 60.0)  // 100 requests per minute
	queryLimit   = rate.Limit(1000.0 / 60.0) // 1000 requests per minute
)

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func getLimiter(path, clientKey string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := clientKey + ":" + path
	v, exists := visitors[key]

	if !exists {
		var limit rate.Limit
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = authLimit
		case strings.HasPrefix(path, "/api/v1/orders"),
			strings.HasPrefix(path, "/api/v1/swap"):
			limit = tradingLimit
		case strings.HasPrefix(path, "/api/v1/balances"),
			strings.HasPrefix(path, "/api/v1/ledger"),
			strings.HasPrefix(path, "/api/v1/trades"):
			limit = queryLimit
		default:
			limit = rate.Inf // No limit for other paths
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, 1), // burst of 1
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, key)
			}
		}
		mu.Unlock()
	}
}

func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := c.GetString("userID")
		if clientKey == "" {
			clientKey = c.ClientIP()
		}

		limiter := getLimiter(c.FullPath(), clientKey)
		if !limiter.Allow() {
			response.BadRequest(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates the bearer token and puts the user identity on the
// context for the downstream handlers.
func JWTAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := parseToken(c, jwtSecret)
		if err != nil {
			return
		}

		userID, ok := claims["user_id"].(string)
		if !ok || userID == "" {
			response.Unauthorized(c, "Invalid user ID in token")
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("userID", userID)
		c.Next()
	}
}

// InternalAuth guards endpoints reserved for internal collaborators
// (deposit monitor, withdrawal processor). Only tokens carrying the
// internal permission pass; user tokens issued by the credentials
// exchange never do.
func InternalAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := parseToken(c, jwtSecret)
		if err != nil {
			return
		}

		if !hasPermission(claims, "internal") {
			response.Forbidden(c, "Internal access required")
			c.Abort()
			return
		}

		userID, _ := claims["user_id"].(string)
		c.Set("claims", claims)
		c.Set("userID", userID)
		c.Next()
	}
}

func hasPermission(claims jwt.MapClaims, permission string) bool {
	raw, ok := claims["permissions"].([]interface{})
	if !ok {
		return false
	}
	for _, p := range raw {
		if s, ok := p.(string); ok && s == permission {
			return true
		}
	}
	return false
}

func parseToken(c *gin.Context, jwtSecret string) (jwt.MapClaims, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		response.Unauthorized(c, "Authorization header required")
		c.Abort()
		return nil, fmt.Errorf("authorization header required")
	}

	bearerToken := strings.Split(authHeader, " ")
	if len(bearerToken) != 2 || strings.ToLower(bearerToken[0]) != "bearer" {
		response.Unauthorized(c, "Invalid authorization header format")
		c.Abort()
		return nil, fmt.Errorf("invalid authorization header format")
	}

	token, err := jwt.Parse(bearerToken[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		response.Unauthorized(c, "Invalid token")
		c.Abort()
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		response.Unauthorized(c, "Invalid token claims")
		c.Abort()
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
