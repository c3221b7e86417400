package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmehdipour/crm-campaigns/internal/repository"
	"github.com/labstack/echo/v4"
)

func pagination(c echo.Context, def, maxLimit int) (int, int) {
	limit, offset := def, 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func listCampaignsHandler(svc Campaigns) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := pagination(c, 50, 500)
		rows, err := svc.List(c.Request().Context(), limit, offset)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}

func getCampaignHandler(svc Campaigns) echo.HandlerFunc {
	return func(c echo.Context) error {
		cmp, err := svc.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, cmp)
	}
}

// processCampaignHandler re-triggers processing. Campaigns that are no longer
// INITIATED are left untouched by the run.
func processCampaignHandler(svc Campaigns) echo.HandlerFunc {
	return func(c echo.Context) error {
		cmp, err := svc.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		svc.Trigger(cmp.ID)
		return c.JSON(http.StatusAccepted, map[string]string{"id": cmp.ID, "status": cmp.Status.String()})
	}
}

func listDeliveriesHandler(svc Campaigns, deliveries repository.DeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		cmp, err := svc.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}

		var st model.DeliveryStatus
		if raw := strings.ToUpper(strings.TrimSpace(c.QueryParam("status"))); raw != "" {
			st = model.DeliveryStatus(raw)
			if !st.Valid() {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
			}
		}

		limit, offset := pagination(c, 100, 1000)
		rows, err := deliveries.ListByCampaign(c.Request().Context(), cmp.ID, st, limit, offset)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}

func listEventsHandler(events repository.DeliveryEventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		if events == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "event log disabled"})
		}

		limit, offset := pagination(c, 50, 1000)
		rows, err := events.ListByCampaign(c.Request().Context(), c.Param("id"), limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
