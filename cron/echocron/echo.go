// Package echocron adapts the cron trigger to echo
package echocron

import (
	"errors"
	"net/http"
	"strings"

	"github.com/feedbax/dispatch/cron"
	"github.com/labstack/echo/v4"
)

// Wrap returns an echo.HandlerFunc which runs the trigger with the bearer
// token presented in the Authorization header.
// It responds with 200 and the full batch report (even on partial
// failure), 401 on a bad or missing secret and 500 if the batch could not
// be pulled
func Wrap(t *cron.Trigger) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp, err := t.Run(c.Request().Context(), bearerToken(c.Request()))
		if err != nil {
			if errors.Is(err, cron.ErrUnauthorized) {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "unauthorized",
				})
			}

			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": err.Error(),
			})
		}

		return c.JSON(http.StatusOK, resp)
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get(echo.HeaderAuthorization)

	const prefix = "Bearer "

	if !strings.HasPrefix(auth, prefix) {
		return ""
	}

	return strings.TrimPrefix(auth, prefix)
}
