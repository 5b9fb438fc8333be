package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/posgateway/posgateway/pkg/apierr"
)

// writeError maps err to the HTTP status/body documented in spec.md §7.
// Validation errors never 500.
func writeError(c *gin.Context, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case apierr.CodeValidation, apierr.CodeInvalidPatchedOrder:
			c.JSON(http.StatusBadRequest, gin.H{"code": apiErr.Code, "message": apiErr.Message, "details": apiErr.Details})
		case apierr.CodeOrderNotFound:
			c.JSON(http.StatusNotFound, gin.H{"code": apiErr.Code, "message": apiErr.Message})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"code": apierr.CodeInternal, "message": "internal error"})
		}
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"code": apierr.CodeInternal, "message": "internal error"})
}

func validationError(c *gin.Context, details []string) {
	writeError(c, apierr.Validation(details))
}
