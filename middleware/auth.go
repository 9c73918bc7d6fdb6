package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/checkin/config"
	"github.com/cppla/checkin/utils"
)

const (
	// ContextUserIDKey is the key used to store authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
	// ContextTokenKey stores the raw bearer token so logout can revoke it.
	ContextTokenKey = "token"
	// ContextAdminKey is set when the caller passed AdminRequired.
	ContextAdminKey = "is_admin"

	AdminTokenHeader = "X-Admin-Token"
)

// AuthRequired ensures the request is authenticated via JWT.
func AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !authenticate(ctx) {
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

// AdminRequired accepts either a valid X-Admin-Token or a JWT whose username is
// listed in admin.Usernames.
func AdminRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		cfg := config.Get()
		if tok := ctx.GetHeader(AdminTokenHeader); tok != "" {
			if !utils.CheckAdminToken(cfg.AdminTokenHash, tok) {
				utils.Abort(ctx, http.StatusForbidden, 40301, "invalid admin token")
				return
			}
			ctx.Set(ContextAdminKey, true)
			ctx.Next()
			return
		}
		if !authenticate(ctx) {
			ctx.Abort()
			return
		}
		if !IsAdminUsername(ctx.GetString(ContextUsernameKey)) {
			utils.Abort(ctx, http.StatusForbidden, 40302, "admin only")
			return
		}
		ctx.Set(ContextAdminKey, true)
		ctx.Next()
	}
}

// IsAdminUsername reports whether username is configured as an administrator.
func IsAdminUsername(username string) bool {
	if username == "" {
		return false
	}
	for _, a := range config.Get().AdminUsernames {
		if strings.EqualFold(a, username) {
			return true
		}
	}
	return false
}

// authenticate writes the error response itself and returns false on failure.
func authenticate(ctx *gin.Context) bool {
	authHeader := ctx.GetHeader("Authorization")
	if authHeader == "" {
		utils.Error(ctx, http.StatusUnauthorized, 40101, "authorization header missing")
		return false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		utils.Error(ctx, http.StatusUnauthorized, 40102, "invalid authorization header format")
		return false
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		utils.Error(ctx, http.StatusUnauthorized, 40103, "empty bearer token")
		return false
	}

	if utils.IsTokenBlacklisted(tokenString) {
		utils.Error(ctx, http.StatusUnauthorized, 40104, "token revoked")
		return false
	}

	claims, err := utils.ParseToken(tokenString)
	if err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40105, "invalid token")
		return false
	}

	ctx.Set(ContextUserIDKey, claims.UserID)
	ctx.Set(ContextUsernameKey, claims.Username)
	ctx.Set(ContextTokenKey, tokenString)
	return true
}
