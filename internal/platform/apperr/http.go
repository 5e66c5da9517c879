package apperr

import "github.com/labstack/echo/v4"

// HTTPError converts err into the echo error a handler returns.
func HTTPError(err error) *echo.HTTPError {
	return echo.NewHTTPError(HTTPStatus(err), err.Error())
}
