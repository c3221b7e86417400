package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jmehdipour/crm-campaigns/internal/rules"
	"github.com/jmehdipour/crm-campaigns/internal/service/campaign"
	"github.com/labstack/echo/v4"
)

func createSegmentHandler(svc Campaigns) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req campaign.CreateRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		res, err := svc.Create(c.Request().Context(), req)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, res)
	}
}

type previewReq struct {
	Rules *rules.Node `json:"rules"`
}

// previewHandler accepts the rule tree as a JSON body or as the "rules" query parameter.
func previewHandler(svc Campaigns) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req previewReq
		if raw := strings.TrimSpace(c.QueryParam("rules")); raw != "" {
			n, err := rules.Parse([]byte(raw))
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid rules"})
			}
			req.Rules = &n
		} else if c.Request().Method == http.MethodPost {
			if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
			}
		}

		res, err := svc.Preview(c.Request().Context(), req.Rules)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}
