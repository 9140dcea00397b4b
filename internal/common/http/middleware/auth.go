package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "maproulette/pkg/errors"
	"maproulette/pkg/utils/contextkey"
	"maproulette/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// AuthModeOptional accepts anonymous callers and validates a token when one is sent.
	AuthModeOptional = "optional"
	// AuthModeRequired rejects requests without a valid token.
	AuthModeRequired = "required"

	userRoleContextKey = "user_role"
)

// Identity is the caller resolved from the access token.
type Identity struct {
	UserID int64
	Role   string
}

// TokenVerifier validates HS256 access tokens issued by the login service.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a verifier. An empty secret rejects every token.
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

type tokenClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Verify parses raw and returns the identity it carries.
func (v *TokenVerifier) Verify(raw string) (Identity, error) {
	if raw == "" || len(v.secret) == 0 {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != "access" {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return Identity{UserID: userID, Role: claims.Role}, nil
}

// AuthPolicy selects how a route group treats callers.
type AuthPolicy struct {
	Mode  string
	Roles []string
	// TrustUserHeader accepts the X-User-Id set by the trace middleware for
	// anonymous callers. Only enable behind a gateway that strips client headers.
	TrustUserHeader bool
}

// AuthMiddleware enforces JWT validation and role checks for protected routes.
func AuthMiddleware(verifier *TokenVerifier, policy AuthPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" && policy.Mode != AuthModeRequired {
			if policy.TrustUserHeader {
				if id, err := strconv.ParseInt(c.GetString(userIDContextKey), 10, 64); err == nil && id > 0 {
					setIdentity(c, Identity{UserID: id})
				}
			} else {
				c.Set(userIDContextKey, int64(0))
			}
			c.Next()
			return
		}
		if token == "" {
			response.AbortWithError(c, pkgerrors.UnauthorizedError("missing bearer token"))
			return
		}
		if verifier == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth service unavailable")
			return
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		if len(policy.Roles) > 0 && !hasRole(identity.Role, policy.Roles) {
			response.AbortWithError(c, pkgerrors.ForbiddenError("insufficient role"))
			return
		}

		setIdentity(c, identity)
		c.Next()
	}
}

func setIdentity(c *gin.Context, identity Identity) {
	c.Set(userIDContextKey, identity.UserID)
	c.Set(userRoleContextKey, identity.Role)
	ctx := context.WithValue(c.Request.Context(), contextkey.UserID, identity.UserID)
	c.Request = c.Request.WithContext(ctx)
}

// UserID returns the authenticated user id, 0 for anonymous callers.
func UserID(c *gin.Context) int64 {
	if v, ok := c.Get(userIDContextKey); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role string, allowed []string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}
