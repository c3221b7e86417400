package http

import (
	"net/http"

	"github.com/jmehdipour/crm-campaigns/internal/service/customer"
	"github.com/labstack/echo/v4"
)

func ingestCustomerHandler(svc Customers) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req customer.IngestRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		cu, err := svc.Ingest(c.Request().Context(), req)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, cu)
	}
}

func listCustomersHandler(svc Customers) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := pagination(c, 100, 1000)
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

func recordOrderHandler(svc Customers) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req customer.OrderRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		res, err := svc.RecordOrder(c.Request().Context(), req)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, res)
	}
}
