package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pevans/sitefeed/logging"
	"github.com/pevans/sitefeed/newsfeed"
	"github.com/pevans/sitefeed/pipeline"
	"github.com/pevans/sitefeed/rss"
	"github.com/pevans/sitefeed/scraper"
	"github.com/pevans/sitefeed/sources"
)

// OutcomeHeader reports how a feed response was produced.
const OutcomeHeader = "X-Feed-Outcome"

const shutdownTimeout = 10 * time.Second

// Feeds runs pipelines and describes the configured sources.
type Feeds interface {
	Run(ctx context.Context, sourceID string) (newsfeed.Result, error)
	Sources() []scraper.SourceConfig
	Source(id string) (scraper.SourceConfig, error)
	TTL() time.Duration
}

// StatusReader reads stored source health.
type StatusReader interface {
	GetStatus(sourceID string) (*sources.Status, error)
	ListStatus() ([]sources.Status, error)
}

// Options configures a Server.
type Options struct {
	// Status is optional; without it the source endpoints report no status.
	Status StatusReader
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server is the HTTP surface for feeds and source health.
type Server struct {
	feeds    Feeds
	status   StatusReader
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// New creates a server over feeds.
func New(feeds Feeds, opts Options) *Server {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	logger := logging.OrNop(opts.Logger)
	return &Server{
		feeds:    feeds,
		status:   opts.Status,
		gatherer: gatherer,
		logger:   logger,
	}
}

// SetupRouter configures the Gin router with all routes.
func (s *Server) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(recoveryMiddleware(s.logger), loggerMiddleware(s.logger), corsMiddleware())

	router.GET("/feeds/:source", s.HandleFeed)
	router.HEAD("/feeds/:source", s.HandleFeed)
	router.GET("/healthz", s.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	api.GET("/sources", s.HandleListSources)
	api.GET("/sources/:source", s.HandleGetSource)

	return router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting feed server", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down feed server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
}

// HandleFeed handles GET /feeds/:source. Pipeline failures still produce a
// feed; only an unknown source is an error.
func (s *Server) HandleFeed(c *gin.Context) {
	sourceID := c.Param("source")

	result, err := s.feeds.Run(c.Request.Context(), sourceID)
	if errors.Is(err, scraper.ErrUnknownSource) {
		c.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to process request"))
		return
	}

	body, err := rss.Marshal(result)
	if err != nil {
		s.logger.Error("Failed to serialize feed, serving placeholder",
			zap.String("source", sourceID), zap.Error(err))
		body, err = s.placeholderFeed(result)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to render feed"))
			return
		}
		result.Outcome = newsfeed.OutcomePlaceholder
	}

	c.Header("Cache-Control", "public, max-age="+strconv.Itoa(int(s.feeds.TTL().Seconds())))
	c.Header(OutcomeHeader, string(result.Outcome))
	c.Data(http.StatusOK, rss.ContentType, body)
}

func (s *Server) placeholderFeed(result newsfeed.Result) ([]byte, error) {
	cfg, err := s.feeds.Source(result.SourceID)
	if err != nil {
		return nil, err
	}
	result.Items = []newsfeed.NewsItem{pipeline.Placeholder(cfg, time.Now())}
	return rss.Marshal(result)
}

// HandleHealth handles GET /healthz.
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SourceView is one configured source with its stored health.
type SourceView struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	URL    string          `json:"url"`
	Feed   string          `json:"feed"`
	Status *sources.Status `json:"status,omitempty"`
}

// ListSourcesResponse represents the response for GET /api/v1/sources.
type ListSourcesResponse struct {
	Sources []SourceView `json:"sources"`
	Total   int          `json:"total"`
}

// HandleListSources handles GET /api/v1/sources.
func (s *Server) HandleListSources(c *gin.Context) {
	byID := map[string]*sources.Status{}
	if s.status != nil {
		statuses, err := s.status.ListStatus()
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to read source status"))
			return
		}
		for i := range statuses {
			byID[statuses[i].SourceID] = &statuses[i]
		}
	}

	configs := s.feeds.Sources()
	views := make([]SourceView, 0, len(configs))
	for _, cfg := range configs {
		views = append(views, viewOf(cfg, byID[cfg.ID]))
	}

	c.JSON(http.StatusOK, ListSourcesResponse{Sources: views, Total: len(views)})
}

// HandleGetSource handles GET /api/v1/sources/:source.
func (s *Server) HandleGetSource(c *gin.Context) {
	cfg, err := s.feeds.Source(c.Param("source"))
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
		return
	}

	var status *sources.Status
	if s.status != nil {
		status, err = s.status.GetStatus(cfg.ID)
		if err != nil && !errors.Is(err, sources.ErrSourceNotFound) {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to read source status"))
			return
		}
	}

	c.JSON(http.StatusOK, viewOf(cfg, status))
}

func viewOf(cfg scraper.SourceConfig, status *sources.Status) SourceView {
	return SourceView{
		ID:     cfg.ID,
		Name:   cfg.Name,
		URL:    cfg.URL,
		Feed:   "/feeds/" + cfg.ID,
		Status: status,
	}
}
