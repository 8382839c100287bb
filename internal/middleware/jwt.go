package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ErrTokensDisabled is returned when no signing secret is configured
var ErrTokensDisabled = errors.New("access tokens disabled")

// AccessClaims identify the wallet and dataset a token was issued for
type AccessClaims struct {
	Wallet    string `json:"wallet"`
	DatasetID string `json:"dataset_id"`
	jwt.RegisteredClaims
}

// GenerateAccessToken creates a token that expires with the entitlement
func GenerateAccessToken(wallet, datasetID string, expiresAt time.Time, secret string) (string, error) {
	if secret == "" {
		return "", ErrTokensDisabled
	}

	claims := AccessClaims{
		Wallet:    wallet,
		DatasetID: datasetID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   wallet,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseAccessToken validates tokenString and returns its claims
func ParseAccessToken(tokenString, secret string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Wallet == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// JWTMiddleware creates a Gin middleware for wallet access tokens
func JWTMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "access tokens are not enabled"})
			c.Abort()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set("wallet", claims.Wallet)
		c.Set("dataset_id", claims.DatasetID)
		c.Next()
	}
}

// GetWallet extracts the token wallet from context
func GetWallet(c *gin.Context) string {
	return c.GetString("wallet")
}
