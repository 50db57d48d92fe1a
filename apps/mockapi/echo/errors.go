package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/session"
)

var (
	errTokenMissing         = echo.NewHTTPError(http.StatusUnauthorized, "인증 토큰이 누락되었습니다.")
	errTokenExpired         = echo.NewHTTPError(http.StatusUnauthorized, "액세스 토큰이 만료되었습니다.")
	errRefreshInvalid       = echo.NewHTTPError(http.StatusUnauthorized, "리프레시 토큰이 유효하지 않습니다.")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusUnauthorized, "이메일 또는 비밀번호가 일치하지 않습니다.")
	errEmailTaken           = echo.NewHTTPError(http.StatusConflict, "이미 존재하는 이메일입니다.")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// Every error body carries a `message`, the field clients read.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message string
		var fields map[string]string

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			if msg, ok := origErr.Message.(string); ok {
				message = msg
			} else {
				message = http.StatusText(code)
			}
		case *core.ValidationError:
			code = http.StatusBadRequest
			message = origErr.Error()
			if origErr.Fields != nil {
				fields = origErr.FieldMap()
			}
		default: // any other error is a server error
			code = http.StatusInternalServerError
			message = http.StatusText(code)

			var ident session.Identity
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				ident = claims.identity()
			}
			logger.Error(message, errors.Wrap(err, message), ident)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = err.Error()
		}
		body := echo.Map{"error": http.StatusText(code), "message": message}
		if fields != nil {
			body["fields"] = fields
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, body)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
