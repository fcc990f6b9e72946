package internal

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// claims follows the access tokens issued by the auth provider: the user id is
// the subject.
type claims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func bearerToken(c *gin.Context, cookieName string) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	tok, _ := c.Cookie(cookieName)
	return tok
}

func parseToken(tokenStr, secret string) (*claims, bool) {
	tok, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return nil, false
	}
	cl, ok := tok.Claims.(*claims)
	if !ok || cl.Subject == "" {
		return nil, false
	}
	return cl, true
}

func Auth(secret, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c, cookieName)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authorized"})
			return
		}
		cl, ok := parseToken(tokenStr, secret)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad token"})
			return
		}

		c.Set("uid", cl.Subject)
		c.Set("role", cl.Role)
		c.Next()
	}
}

// OptionalAuth sets the caller identity when a valid token is present and
// lets anonymous requests through.
func OptionalAuth(secret, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenStr := bearerToken(c, cookieName); tokenStr != "" {
			if cl, ok := parseToken(tokenStr, secret); ok {
				c.Set("uid", cl.Subject)
				c.Set("role", cl.Role)
			}
		}
		c.Next()
	}
}

func uid(c *gin.Context) string {
	v, _ := c.Get("uid")
	s, _ := v.(string)
	return s
}
