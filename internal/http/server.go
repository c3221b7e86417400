package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/config"
	"github.com/jmehdipour/crm-campaigns/internal/http/middleware"
	"github.com/jmehdipour/crm-campaigns/internal/logger"
	"github.com/jmehdipour/crm-campaigns/internal/metrics"
	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmehdipour/crm-campaigns/internal/repository"
	"github.com/jmehdipour/crm-campaigns/internal/rules"
	"github.com/jmehdipour/crm-campaigns/internal/service/campaign"
	"github.com/jmehdipour/crm-campaigns/internal/service/customer"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Campaigns is the campaign lifecycle as seen by the API.
type Campaigns interface {
	Create(ctx context.Context, req campaign.CreateRequest) (campaign.CreateResult, error)
	Preview(ctx context.Context, n *rules.Node) (campaign.PreviewResult, error)
	Get(ctx context.Context, id string) (*model.Campaign, error)
	List(ctx context.Context, limit, offset int) ([]model.Campaign, error)
	Trigger(id string)
}

// Customers ingests customer profiles and orders.
type Customers interface {
	Ingest(ctx context.Context, req customer.IngestRequest) (model.Customer, error)
	List(ctx context.Context, limit, offset int) ([]model.Customer, error)
	RecordOrder(ctx context.Context, req customer.OrderRequest) (customer.OrderResult, error)
}

// Publisher hands raw receipts to the durable queue.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

type Deps struct {
	Campaigns  Campaigns
	Customers  Customers
	Deliveries repository.DeliveriesRepository
	Events     repository.DeliveryEventsRepository // nil when ClickHouse is disabled
	Receipts   Publisher
	Redis      *redis.Client // nil disables rate limiting
}

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(echoLevel(cfg.LogLevel))
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          deps.Redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:api:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// vendor traffic (sends to the simulator, receipt callbacks) arrives from a
	// handful of hosts at campaign rate and is not limited per client
	vendor := e.Group("/api")
	api := e.Group("/api", rlMW)
	api.POST("/segments", createSegmentHandler(deps.Campaigns))
	api.GET("/segments/preview", previewHandler(deps.Campaigns))
	api.POST("/segments/preview", previewHandler(deps.Campaigns))

	api.POST("/customers", ingestCustomerHandler(deps.Customers))
	api.GET("/customers", listCustomersHandler(deps.Customers))
	api.POST("/orders", recordOrderHandler(deps.Customers))

	api.GET("/campaigns", listCampaignsHandler(deps.Campaigns))
	api.GET("/campaigns/:id", getCampaignHandler(deps.Campaigns))
	api.POST("/campaigns/:id/process", processCampaignHandler(deps.Campaigns))
	api.GET("/campaigns/:id/deliveries", listDeliveriesHandler(deps.Campaigns, deps.Deliveries))
	api.GET("/campaigns/:id/events", listEventsHandler(deps.Events))

	vendor.POST("/delivery-receipts", receiptHandler(deps.Receipts))

	if cfg.VendorSim.Enabled {
		sim := NewVendorSimulator(cfg.VendorSim)
		vendor.POST("/dummy-vendor/send", sim.Handler())
	}

	return &Server{e: e}
}

func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	logger.Log.Info("http: listening", zap.String("addr", addr))
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func echoLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}

// writeError maps service errors onto status codes.
func writeError(c echo.Context, err error) error {
	var ve *campaign.ValidationError
	var cve *customer.ValidationError
	var nf *campaign.NotFoundError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": ve.Error()})
	case errors.As(err, &cve):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": cve.Error()})
	case errors.As(err, &nf):
		return c.JSON(http.StatusNotFound, map[string]string{"error": nf.Error()})
	}
	log.Errorf("%s %s failed: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
