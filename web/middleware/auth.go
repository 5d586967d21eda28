package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"
	"github.com/juju/errors"
)

const (
	ContextTenant = "tenant"
	ContextAdmin  = "admin"

	// AnyTenant in a token's tenant claim grants access to every tenant.
	AnyTenant = "*"

	CallbackKeyHeader = "X-Callback-Key"
)

// AdminClaims are carried by admin bearer tokens.
type AdminClaims struct {
	Tenant  string `json:"tenant"`
	AdminID uint   `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 admin token for tenant valid for ttl.
func IssueToken(secret []byte, subject, tenant string, adminID uint, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.NotValidf("empty signing secret")
	}
	claims := AdminClaims{
		Tenant:  tenant,
		AdminID: adminID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	return signed, errors.Annotate(err, "signing admin token")
}

// RequireAdmin validates the bearer token and checks it covers the tenant in
// the route. The claims are stored under ContextAdmin.
func RequireAdmin(secret []byte, clk clock.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims := &AdminClaims{}
		_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(clk.Now), jwt.WithExpirationRequired())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		tenant := c.Param(ContextTenant)
		if claims.Tenant != AnyTenant && claims.Tenant != tenant {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token does not cover tenant " + tenant})
			return
		}

		c.Set(ContextAdmin, claims)
		c.Set(ContextTenant, tenant)
		c.Next()
	}
}

// Admin returns the claims stored by RequireAdmin.
func Admin(c *gin.Context) *AdminClaims {
	v, ok := c.Get(ContextAdmin)
	if !ok {
		return nil
	}
	claims, _ := v.(*AdminClaims)
	return claims
}

// RequireCallbackKey guards gateway callbacks with a shared key.
func RequireCallbackKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(CallbackKeyHeader)
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid callback key"})
			return
		}
		c.Next()
	}
}
