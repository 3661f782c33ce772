package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/snaprepair/backend/internal/apperrors"
	"github.com/snaprepair/backend/internal/models"
)

const actorKey = "actor"

// TokenIssuer signs and verifies the HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue returns a signed token for user and its expiry.
func (ti *TokenIssuer) Issue(user *models.User) (string, time.Time, error) {
	expiresAt := time.Now().Add(ti.ttl)
	claims := jwt.MapClaims{
		"user_id":   user.ID,
		"email":     user.Email,
		"name":      user.Name,
		"is_expert": user.IsExpert,
		"exp":       expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(ti.secret)
	return tokenString, expiresAt, err
}

// Parse validates tokenString and returns the actor it was issued to.
func (ti *TokenIssuer) Parse(tokenString string) (models.Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return ti.secret, nil
	})
	if err != nil {
		return models.Actor{}, err
	}
	if !token.Valid {
		return models.Actor{}, jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Actor{}, jwt.ErrTokenInvalidClaims
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return models.Actor{}, jwt.ErrTokenInvalidClaims
	}
	name, _ := claims["name"].(string)
	actor := models.Actor{ID: userID, DisplayName: name, Capability: models.CapabilitySubmitter}
	if isExpert, _ := claims["is_expert"].(bool); isExpert {
		actor.Capability = models.CapabilityExpert
	}
	return actor, nil
}

// AuthMiddleware requires a valid bearer token and stores the caller as
// the request's actor. Browsers cannot set headers on a websocket
// handshake, so a "token" query parameter is accepted as well.
func AuthMiddleware(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			// Check if the header starts with "Bearer "
			if !strings.HasPrefix(authHeader, "Bearer ") {
				apperrors.AbortWithUnauthorized(c, "Invalid authorization header format")
				return
			}
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}
		if tokenString == "" {
			apperrors.AbortWithUnauthorized(c, "Authorization header required")
			return
		}

		actor, err := tokens.Parse(tokenString)
		if err != nil {
			apperrors.AbortWithUnauthorized(c, "Invalid token")
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorFrom returns the authenticated caller. ok is false on routes
// without AuthMiddleware.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	value, exists := c.Get(actorKey)
	if !exists {
		return models.Actor{}, false
	}
	actor, ok := value.(models.Actor)
	return actor, ok
}
