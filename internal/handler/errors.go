package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SinaHo/referral-backend/internal/service"
)

const msgInternal = "Internal server error"

// respondError writes {"detail": ...} with the status matching the error kind.
// The error is attached to the gin context so the request logger records the cause.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var se *service.Error
	if !errors.As(err, &se) {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": msgInternal})
		return
	}

	switch se.Kind {
	case service.KindValidation, service.KindConflict:
		c.JSON(http.StatusBadRequest, gin.H{"detail": se.Message})
	case service.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"detail": se.Message})
	case service.KindAuth:
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"detail": se.Message})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": msgInternal})
	}
}

// respondUnprocessable reports a request whose shape could not be bound.
func respondUnprocessable(c *gin.Context, err error) {
	_ = c.Error(err).SetType(gin.ErrorTypeBind)
	c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
}
