package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinMiddleware adapts the paywall to gin. Unpaid requests are answered
// with the challenge and the rest of the chain is aborted.
func GinMiddleware(p *Paywall) gin.HandlerFunc {
	return func(c *gin.Context) {
		served := false
		p.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			served = true
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)
		if !served {
			c.Abort()
		}
	}
}
