package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"bencidata/internal/apierror"
	"bencidata/internal/authz"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ClaimsKey = "claims"
)

// JWTClaims are the custom claims embedded in every access token. The account
// collaborator issues them; this service only verifies.
type JWTClaims struct {
	ProfileID uint   `json:"profile_id"`
	Role      string `json:"role"`
	BranchIDs []uint `json:"branch_ids"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 access token for a profile.
func IssueToken(secret string, profileID uint, role string, branchIDs []uint, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		ProfileID: profileID,
		Role:      role,
		BranchIDs: branchIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(profileID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// JWTAuth validates the Bearer token on every protected route.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			deny(c, http.StatusUnauthorized, "Autenticacion requerida")
			return
		}

		tokenStr := strings.TrimPrefix(header, "Bearer ")
		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})

		if err != nil || !token.Valid || claims.ProfileID == 0 {
			deny(c, http.StatusUnauthorized, "Token invalido o expirado")
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// RequireRole rejects requests whose JWT role is not in the allowed list.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil || !allowed[claims.Role] {
			deny(c, http.StatusForbidden, "Permisos insuficientes")
			return
		}
		c.Next()
	}
}

// GetClaims is a helper to retrieve typed claims from the Gin context.
func GetClaims(c *gin.Context) *JWTClaims {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*JWTClaims)
	return claims
}

// GetActor builds the authorization actor of the request.
func GetActor(c *gin.Context) authz.Actor {
	claims := GetClaims(c)
	if claims == nil {
		return authz.Actor{}
	}
	return authz.Actor{ProfileID: claims.ProfileID, Role: claims.Role, BranchScope: claims.BranchIDs}
}

// IsFormPost reports whether the request came from an HTML form. Those get
// redirects instead of JSON error bodies.
func IsFormPost(c *gin.Context) bool {
	ct := c.ContentType()
	return ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data"
}

// deny aborts with a JSON error, or with a redirect to the landing page for
// form posts so the browser never sees why.
func deny(c *gin.Context, status int, msg string) {
	if IsFormPost(c) {
		c.Redirect(http.StatusSeeOther, "/")
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(status, apierror.New(msg))
}
