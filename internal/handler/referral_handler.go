package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SinaHo/referral-backend/internal/middleware"
	"github.com/SinaHo/referral-backend/internal/model"
	"github.com/SinaHo/referral-backend/internal/service"
)

const dateLayout = "2006-01-02"

// Accepted expiration_date layouts. Values without an offset are UTC.
var expirationLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	dateLayout,
}

type createCodeRequest struct {
	Code           string `json:"code" binding:"required"`
	ExpirationDate string `json:"expiration_date" binding:"required"`
}

type registerWithReferralRequest struct {
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required"`
	ReferralCode string `json:"referral_code"`
}

type referralResponse struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	ReferrerID *int64 `json:"referrer_id"`
}

// ReferralHandler serves the referral code and referral routes.
type ReferralHandler struct {
	svc service.ReferralService
}

func NewReferralHandler(svc service.ReferralService) *ReferralHandler {
	return &ReferralHandler{svc: svc}
}

// CreateCode requires RequireAuth.
func (h *ReferralHandler) CreateCode(c *gin.Context) {
	owner, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, &service.Error{Kind: service.KindAuth, Message: service.MsgUnauthorized})
		return
	}

	var req createCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondUnprocessable(c, err)
		return
	}
	exp, err := parseExpiration(req.ExpirationDate)
	if err != nil {
		respondUnprocessable(c, err)
		return
	}

	rc, err := h.svc.CreateCode(c.Request.Context(), owner, req.Code, exp)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":         "Referral code created",
		"code":            rc.Code,
		"expiration_date": rc.ExpirationDate.UTC().Format(time.RFC3339),
	})
}

// DeleteCode requires RequireAuth.
func (h *ReferralHandler) DeleteCode(c *gin.Context) {
	owner, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, &service.Error{Kind: service.KindAuth, Message: service.MsgUnauthorized})
		return
	}

	if err := h.svc.DeleteCode(c.Request.Context(), owner); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Referral code deleted"})
}

func (h *ReferralHandler) GetCodeByEmail(c *gin.Context) {
	rc, err := h.svc.GetCodeByEmail(c.Request.Context(), c.Param("email"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":            rc.Code,
		"expiration_date": rc.ExpirationDate.UTC().Format(dateLayout),
	})
}

func (h *ReferralHandler) RegisterWithReferral(c *gin.Context) {
	var req registerWithReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondUnprocessable(c, err)
		return
	}

	u, err := h.svc.RegisterWithReferral(c.Request.Context(), req.Email, req.Password, req.ReferralCode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "User registered successfully",
		"user_id": u.ID,
	})
}

func (h *ReferralHandler) ListReferrals(c *gin.Context) {
	referrerID, err := strconv.ParseInt(c.Param("referrer_id"), 10, 64)
	if err != nil {
		respondUnprocessable(c, fmt.Errorf("referrer_id must be an integer: %w", err))
		return
	}

	users, err := h.svc.ListReferrals(c.Request.Context(), referrerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReferralResponses(users))
}

func toReferralResponses(users []model.User) []referralResponse {
	out := make([]referralResponse, 0, len(users))
	for _, u := range users {
		out = append(out, referralResponse{ID: u.ID, Email: u.Email, ReferrerID: u.ReferrerID})
	}
	return out
}

func parseExpiration(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range expirationLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("expiration_date %q is not an ISO 8601 date or datetime", s)
}
