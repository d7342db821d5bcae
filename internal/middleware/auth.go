package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SinaHo/referral-backend/internal/model"
	"github.com/SinaHo/referral-backend/internal/service"
)

const currentUserKey = "current_user"

// ErrNoBearerToken is logged when the Authorization header is missing or not a bearer token.
var ErrNoBearerToken = errors.New("no bearer token")

// RequireAuth returns a gin middleware that resolves the bearer token to a
// user and stores it on the context. Requests without a usable token are
// rejected with 401.
func RequireAuth(logger *zap.SugaredLogger, auth service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			logger.Warnw("Unauthenticated request", "path", c.FullPath(), "error", ErrNoBearerToken)
			abortUnauthorized(c)
			return
		}

		user, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			if service.KindOf(err) != service.KindAuth {
				logger.Errorw("Failed to authenticate request", "path", c.FullPath(), "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
				return
			}
			logger.Warnw("Invalid token", "path", c.FullPath(), "error", err)
			abortUnauthorized(c)
			return
		}

		c.Set(currentUserKey, user)
		c.Next()
	}
}

// CurrentUser returns the user stored by RequireAuth.
func CurrentUser(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*model.User)
	return u, ok && u != nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortUnauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": service.MsgUnauthorized})
}
