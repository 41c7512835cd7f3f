package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/studytree-ai/internal/apperr"
)

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

// FailErr renders err through the apperr taxonomy. data may be nil.
func FailErr(c *gin.Context, err error, data any) {
	e := apperr.From(err)
	msg := e.Message
	if e.Kind == apperr.KindInternal || msg == "" {
		msg = "internal error"
	}
	// picked up by the access log middleware
	_ = c.Error(err)
	c.AbortWithStatusJSON(e.HTTPStatus(), gin.H{
		"code":    e.Code,
		"message": msg,
		"data":    data,
	})
}
