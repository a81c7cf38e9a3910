package httpapi

import (
	"github.com/gin-gonic/gin"
)

// Envelope is the body of every response.
type Envelope struct {
	Status  bool   `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respond(c *gin.Context, code int, ok bool, message string, data any) {
	c.JSON(code, Envelope{Status: ok, Code: code, Message: message, Data: data})
}

func fail(c *gin.Context, code int, message string) {
	respond(c, code, false, message, nil)
}

func abort(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, Envelope{Code: code, Message: message})
}

func validationFailed(c *gin.Context, err error) {
	respond(c, 422, false, "Validation errors occurred.", gin.H{"error": err.Error()})
}
