package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/repository"
	echo "github.com/labstack/echo/v4"
)

// listEventsHandler reports license lifecycle events from ClickHouse.
func listEventsHandler(chRepo repository.CHEventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := page(c)

		licenseID, err := queryInt64(c, "license_id")
		if err != nil {
			return err
		}
		since, err := parseTime("since", c.QueryParam("since"))
		if err != nil {
			return err
		}

		f := repository.EventsFilter{
			LicenseID: licenseID,
			Action:    model.LicenseAction(strings.TrimSpace(c.QueryParam("action"))),
			Limit:     limit,
			Offset:    offset,
		}
		if since != nil {
			f.Since = *since
		}

		events, err := chRepo.List(c.Request().Context(), f)
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":        limit,
			"offset":       offset,
			"count":        len(events),
			"results":      events,
			"generated_at": time.Now().UTC(),
		})
	}
}
