// Package echoingest adapts the event ingest to echo
package echoingest

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/feedbax/dispatch/ingest"
	"github.com/labstack/echo/v4"
)

// Ingester is an interface for appending wire events
type Ingester interface {
	Ingest(ctx context.Context, data []byte) error
}

// Wrap returns an echo.HandlerFunc which appends the posted event.
// It responds with 202 on success (duplicates included), 400 on a
// malformed or typeless event and 500 on a store failure
func Wrap(i Ingester) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}

		err = i.Ingest(c.Request().Context(), data)
		if err != nil {
			if errors.Is(err, ingest.ErrBadPayload) || errors.Is(err, ingest.ErrMissingType) {
				return c.JSON(http.StatusBadRequest, map[string]string{
					"error": err.Error(),
				})
			}

			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": err.Error(),
			})
		}

		return c.JSON(http.StatusAccepted, map[string]bool{
			"accepted": true,
		})
	}
}
