package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"github.com/cppla/checkin/config"
	"github.com/cppla/checkin/middleware"
	"github.com/cppla/checkin/models"
	"github.com/cppla/checkin/services"
	"github.com/cppla/checkin/utils"
)

// AuthController handles OAuth login, logout and the current-user profile.
type AuthController struct {
	db     *gorm.DB
	levels services.LevelTable
}

// NewAuthController creates an AuthController.
func NewAuthController(db *gorm.DB, levels services.LevelTable) *AuthController {
	return &AuthController{db: db, levels: levels}
}

// OAuthRedirect generates a provider-specific authorization URL.
func (a *AuthController) OAuthRedirect(ctx *gin.Context) {
	cfg, err := oauthConfig(ctx.Param("provider"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40004, err.Error())
		return
	}

	state := uuid.NewString()
	utils.SaveState(state, 10*time.Minute)

	url := cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
	utils.Success(ctx, gin.H{"authorization_url": url, "state": state})
}

// OAuthCallback exchanges the authorization code for a user identity and issues a JWT.
func (a *AuthController) OAuthCallback(ctx *gin.Context) {
	provider := strings.ToLower(ctx.Param("provider"))
	code := ctx.Query("code")
	state := ctx.Query("state")

	if code == "" || state == "" {
		utils.Error(ctx, http.StatusBadRequest, 40005, "missing code or state")
		return
	}
	if !utils.ConsumeState(state) {
		utils.Error(ctx, http.StatusBadRequest, 40006, "invalid or expired state")
		return
	}

	cfg, err := oauthConfig(provider)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40004, err.Error())
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 15*time.Second)
	defer cancel()

	token, err := cfg.Exchange(reqCtx, code)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40007, "failed to exchange code")
		return
	}

	info, err := fetchOAuthUser(reqCtx, cfg.Client(reqCtx, token), provider)
	if err != nil {
		utils.Sugar.Warnf("oauth profile fetch failed provider=%s err=%v", provider, err)
		utils.Error(ctx, http.StatusBadGateway, 50205, "failed to load provider profile")
		return
	}

	user, err := a.findOrCreateOAuthUser(provider, info)
	if err != nil {
		utils.Sugar.Errorf("persist oauth user failed provider=%s err=%v", provider, err)
		utils.Error(ctx, http.StatusInternalServerError, 50006, "failed to persist user")
		return
	}

	jwtToken, exp, err := utils.GenerateToken(user.ID, user.Username, 0)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to generate token")
		return
	}

	utils.Success(ctx, gin.H{"token": jwtToken, "expires_at": exp, "user": a.userResponse(*user)})
}

// Logout invalidates the token by blacklisting it until expiration.
func (a *AuthController) Logout(ctx *gin.Context) {
	token := ctx.GetString(middleware.ContextTokenKey)
	claims, err := utils.ParseToken(token)
	if err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40105, "invalid token")
		return
	}

	expiresAt := time.Now().Add(time.Duration(config.Get().JWTTTLHours) * time.Hour)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	utils.BlacklistToken(token, expiresAt)
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the current user's profile with level progress.
func (a *AuthController) Me(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40108, "unauthorized")
		return
	}

	var user models.User
	if err := a.db.WithContext(ctx.Request.Context()).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40401, "user not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to load user")
		return
	}
	utils.Success(ctx, a.userResponse(user))
}

func (a *AuthController) userResponse(user models.User) gin.H {
	m := gin.H{
		"id":                   user.ID,
		"username":             user.Username,
		"email":                user.Email,
		"provider":             user.Provider,
		"avatar_url":           user.AvatarURL,
		"current_level":        user.CurrentLevel,
		"experience":           user.Experience,
		"total_checkins":       user.TotalCheckins,
		"consecutive_checkins": user.ConsecutiveCheckins,
		"max_consecutive":      user.MaxConsecutive,
		"last_checkin_date":    user.LastCheckinDate,
		"created_at":           user.CreatedAt,
		"is_admin":             middleware.IsAdminUsername(user.Username),
		"next_level_exp":       nil,
	}
	if next := a.levels.Next(user.CurrentLevel); next != nil {
		m["next_level_exp"] = next.RequiredExp
	}
	return m
}

func oauthConfig(provider string) (*oauth2.Config, error) {
	cfg := config.Get()
	switch strings.ToLower(provider) {
	case "github":
		if cfg.GitHubClientID == "" || cfg.GitHubClientSecret == "" {
			return nil, fmt.Errorf("github oauth not configured")
		}
		return &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  fmt.Sprintf("%s/api/v1/auth/oauth/github/callback", cfg.OAuthRedirectBase),
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		}, nil
	case "google":
		if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
			return nil, fmt.Errorf("google oauth not configured")
		}
		return &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  fmt.Sprintf("%s/api/v1/auth/oauth/google/callback", cfg.OAuthRedirectBase),
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

type oauthUser struct {
	ID        string
	Username  string
	Email     string
	AvatarURL string
}

func fetchOAuthUser(ctx context.Context, client *http.Client, provider string) (*oauthUser, error) {
	switch provider {
	case "github":
		var p struct {
			ID        int64  `json:"id"`
			Login     string `json:"login"`
			Email     string `json:"email"`
			AvatarURL string `json:"avatar_url"`
		}
		if err := getJSON(ctx, client, "https://api.github.com/user", &p); err != nil {
			return nil, err
		}
		return &oauthUser{ID: fmt.Sprintf("%d", p.ID), Username: p.Login, Email: p.Email, AvatarURL: p.AvatarURL}, nil
	case "google":
		var p struct {
			ID      string `json:"id"`
			Email   string `json:"email"`
			Picture string `json:"picture"`
		}
		if err := getJSON(ctx, client, "https://www.googleapis.com/oauth2/v2/userinfo", &p); err != nil {
			return nil, err
		}
		name, _, _ := strings.Cut(p.Email, "@")
		return &oauthUser{ID: p.ID, Username: name, Email: p.Email, AvatarURL: p.Picture}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func getJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *AuthController) findOrCreateOAuthUser(provider string, data *oauthUser) (*models.User, error) {
	var user models.User
	err := a.db.Where("provider = ? AND provider_id = ?", provider, data.ID).First(&user).Error
	if err == nil {
		_ = a.db.Model(&user).Updates(map[string]interface{}{
			"email":      strings.TrimSpace(data.Email),
			"avatar_url": data.AvatarURL,
		})
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = models.User{
		Username:   a.ensureUniqueUsername(data.Username, provider, data.ID),
		Email:      strings.TrimSpace(data.Email),
		Provider:   provider,
		ProviderID: data.ID,
		AvatarURL:  data.AvatarURL,
	}
	if err := a.db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func sanitizeUsername(input string) string {
	input = strings.ToLower(strings.TrimSpace(input))
	var builder strings.Builder
	for _, r := range input {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '_' || r == '-' || r == '.':
			builder.WriteRune('_')
		}
	}
	return strings.Trim(builder.String(), "_")
}

func (a *AuthController) ensureUniqueUsername(base, provider, id string) string {
	base = sanitizeUsername(base)
	if base == "" {
		base = sanitizeUsername(fmt.Sprintf("%s_%s", provider, id))
	}
	if base == "" {
		base = "user_" + id
	}

	candidate := base
	for suffix := 1; ; suffix++ {
		var count int64
		if err := a.db.Model(&models.User{}).Where("username = ?", candidate).Count(&count).Error; err != nil || count == 0 {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d", base, suffix)
	}
}
