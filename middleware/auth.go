package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"clinicmsg/apperr"
	"clinicmsg/logger"
	"clinicmsg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ContextUserID is the gin context key holding the caller's user id.
const ContextUserID = "userId"

type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// GenerateToken issues an HS256 token for userID. The clinic's auth service
// owns login; this backs tooling and tests.
func GenerateToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates tokenString and returns the user id it carries.
func ParseToken(secret, tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", apperr.Unauthorized("invalid token", err)
	}
	if !token.Valid {
		return "", apperr.Unauthorized("invalid token", nil)
	}
	if _, err := primitive.ObjectIDFromHex(claims.UserID); err != nil {
		return "", apperr.Unauthorized("invalid user id in token", err)
	}
	return claims.UserID, nil
}

// TokenFromRequest reads a bearer token from the Authorization header, or
// the token query parameter used by real-time handshakes.
func TokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
		return "", apperr.Unauthorized("no authorization token provided", nil)
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", apperr.Unauthorized("format should be: Bearer <token>", nil)
	}
	return parts[1], nil
}

func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// CORS preflight
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		token, err := TokenFromRequest(c.Request)
		if err != nil {
			response.Error(c, err)
			return
		}

		userID, err := ParseToken(secret, token)
		if err != nil {
			logger.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("jwt validation failed")
			response.Error(c, err)
			return
		}

		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// UserID returns the authenticated caller set by JWTAuth.
func UserID(c *gin.Context) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(c.GetString(ContextUserID))
	if err != nil {
		return primitive.NilObjectID, apperr.Unauthorized("invalid user id", err)
	}
	return id, nil
}
