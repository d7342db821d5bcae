package handler

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the public API. requireAuth guards the routes that act
// on the caller's own referral code.
func RegisterRoutes(r gin.IRouter, auth *AuthHandler, referrals *ReferralHandler, health *HealthHandler, requireAuth gin.HandlerFunc) {
	r.GET("/health", health.Check)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", auth.Register)
		authGroup.POST("/login", auth.Login)
	}

	codes := r.Group("/referral-code")
	{
		codes.POST("/create", requireAuth, referrals.CreateCode)
		codes.DELETE("/delete", requireAuth, referrals.DeleteCode)
		codes.GET("/:email", referrals.GetCodeByEmail)
	}

	r.POST("/register-with-referral", referrals.RegisterWithReferral)
	r.GET("/referrals/:referrer_id", referrals.ListReferrals)
}
