package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// EchoMiddleware adapts the paywall to echo.
func EchoMiddleware(p *Paywall) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var nextErr error
			served := false
			p.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				served = true
				c.SetRequest(r)
				nextErr = next(c)
			})).ServeHTTP(c.Response(), c.Request())
			if !served {
				return nil
			}
			return nextErr
		}
	}
}
