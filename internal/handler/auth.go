package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jukebox/auth-backend/internal/model"
	"github.com/jukebox/auth-backend/internal/service"
	"go.uber.org/zap"
)

type AuthHandler struct {
	svc    *service.AuthService
	logger *zap.Logger
}

func NewAuthHandler(svc *service.AuthService, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &AuthHandler{svc: svc, logger: logger.Named("handler")}
}

// Login godoc
// @Summary Start provider login
// @Description Returns the provider authorization URL and a single-use state value.
// @Tags auth
// @Produce json
// @Param scope query string false "Space or comma separated provider scopes"
// @Success 200 {object} model.AuthLoginResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /auth/login [get]
func (h *AuthHandler) Login(c *gin.Context) {
	resp, err := h.svc.LoginURL(c.Request.Context(), parseScopes(c.Query("scope")))
	if err != nil {
		h.writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Callback godoc
// @Summary Provider authorization callback
// @Description Exchanges the code, reconciles the session, sets the credential cookie and redirects to the front end.
// @Tags auth
// @Param code query string true "Authorization code"
// @Param state query string true "State returned by /auth/login"
// @Success 303
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 502 {object} model.ErrorResponse
// @Router /auth/callback [get]
func (h *AuthHandler) Callback(c *gin.Context) {
	if providerErr := c.Query("error"); providerErr != "" {
		h.logger.Warn("provider denied authorization", zap.String("reason", providerErr))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "authorization denied"})
		return
	}

	incoming, _ := c.Cookie(h.svc.CookieConfig().Name)
	result, err := h.svc.CompleteLogin(c.Request.Context(), c.Query("code"), c.Query("state"), incoming)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}

	h.setCredentialCookie(c, result.Credential)
	c.Redirect(http.StatusSeeOther, result.RedirectURI)
}

// Session godoc
// @Summary Check session
// @Description Reaches the handler only with a valid, unexpired credential.
// @Tags auth
// @Produce json
// @Success 200 {object} model.AuthSessionResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /auth/session [get]
func (h *AuthHandler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, model.AuthSessionResponse{Valid: GetAuthUser(c) != nil})
}

// Logout godoc
// @Summary Logout
// @Description Clears the caller's provider token, keeps the user, and expires the cookie.
// @Tags auth
// @Produce json
// @Success 200 {object} model.AuthLogoutResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
		return
	}

	err := h.svc.Logout(c.Request.Context(), user.ProviderUserID)
	h.clearCredentialCookie(c)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.AuthLogoutResponse{Status: "logged_out"})
}

// Me godoc
// @Summary Get current user
// @Tags auth
// @Produce json
// @Success 200 {object} model.AuthMeResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
		return
	}
	resp, err := h.svc.Me(c.Request.Context(), user.ProviderUserID)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) setCredentialCookie(c *gin.Context, credential string) {
	cfg := h.svc.CookieConfig()
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, credential, cfg.MaxAge, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func (h *AuthHandler) clearCredentialCookie(c *gin.Context) {
	cfg := h.svc.CookieConfig()
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, "", -1, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func (h *AuthHandler) writeAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrInvalidState):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid request"})
	case errors.Is(err, model.ErrCredentialVerification), errors.Is(err, model.ErrSessionInconsistency):
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
	case errors.Is(err, model.ErrUserNotFound):
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "not found"})
	case errors.Is(err, model.ErrProviderAPI):
		c.JSON(http.StatusBadGateway, model.ErrorResponse{Error: "provider error"})
	default:
		h.logger.Error("auth request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "server error"})
	}
}

func parseScopes(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ','
	})
}
