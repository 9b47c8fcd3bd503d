package global

import (
	"PPRelay/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// Msg is the JSON body of an error response.
type Msg struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

// Fail renders err without its cause chain.
func Fail(err error) *Msg {
	var ce *errs.CodeError
	if errors.As(err, &ce) {
		return &Msg{Code: ce.Code, Msg: ce.Msg, Detail: ce.Detail}
	}
	return &Msg{Code: errs.ServerInternalError, Msg: errs.ErrInternal.Msg}
}

// Abort ends the request with the status errs.HTTPStatus picks for err.
func Abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(errs.HTTPStatus(err), Fail(err))
}
