package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SinaHo/referral-backend/internal/service"
)

type credentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// AuthHandler serves the /auth routes.
type AuthHandler struct {
	svc service.AuthService
}

// NewAuthHandler constructs a new handler, given an AuthService.
func NewAuthHandler(svc service.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondUnprocessable(c, err)
		return
	}

	token, err := h.svc.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// Login reports bad credentials as 400 rather than 401; the client has not
// presented a token yet.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondUnprocessable(c, err)
		return
	}

	token, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if service.KindOf(err) == service.KindAuth {
			_ = c.Error(err)
			c.JSON(http.StatusBadRequest, gin.H{"detail": service.MsgInvalidCredentials})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}
