// Package api is the HTTP intake for landing page submissions and edits.
package api

import (
	"context"
	"net/http"
	"time"

	"dynamic-site-maker/internal/common/database"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/common/throttle"
	createlandingpage "dynamic-site-maker/internal/workers/landing-page/create-landing-page"
	findlandingpage "dynamic-site-maker/internal/workers/landing-page/find-landing-page"
	provisionusername "dynamic-site-maker/internal/workers/landing-page/provision-username"
	updatelandingpage "dynamic-site-maker/internal/workers/landing-page/update-landing-page"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Creator interface {
	Create(ctx context.Context, req createlandingpage.Request) (*createlandingpage.Result, error)
}

type Updater interface {
	Update(ctx context.Context, req updatelandingpage.Request) (*updatelandingpage.Result, error)
}

type PageFinder interface {
	FindByEmail(ctx context.Context, email string) (*findlandingpage.Match, error)
}

type UsernameProvisioner interface {
	Execute(ctx context.Context, input *provisionusername.Input) (*provisionusername.Output, error)
}

// SubmissionGate is the browser-facing side of submission throttling.
type SubmissionGate interface {
	VisitorFromRequest(r *http.Request) throttle.Visitor
	SetCookie(w http.ResponseWriter, r *http.Request)
	ClearCookie(w http.ResponseWriter, r *http.Request)
	Reset(ctx context.Context, v throttle.Visitor) error
}

type Config struct {
	CORSOrigins    []string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	ReadyTimeout   time.Duration
	// UploadsDir is served under UploadsPath when both are set.
	UploadsDir  string
	UploadsPath string
}

// Services are the operations the API exposes. Any of them may be nil, in
// which case its routes answer 503.
type Services struct {
	Creator     Creator
	Updater     Updater
	Finder      PageFinder
	Provisioner UsernameProvisioner
	Gate        SubmissionGate
	Deps        map[string]database.Pinger
}

type Server struct {
	config   Config
	services Services
	logger   logger.Logger
}

// NewServer builds the API. A nil log discards request logs.
func NewServer(config Config, services Services, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 5 << 20
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = 2 * time.Second
	}
	return &Server{config: config, services: services, logger: log.WithFields(map[string]interface{}{"component": "api"})}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.requestLogger())
	// form fields plus one logo
	r.MaxMultipartMemory = s.config.MaxUploadBytes + 1<<20

	if len(s.config.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.config.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Requested-With", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/health", s.health)
	r.GET("/ready", s.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.config.UploadsDir != "" && s.config.UploadsPath != "" {
		uploads := r.Group(s.config.UploadsPath, uploadHeaders)
		uploads.Static("/", s.config.UploadsDir)
	}

	v1 := r.Group("/api/v1")
	{
		pages := v1.Group("/landing-pages")
		{
			pages.POST("", s.createLandingPage)
			pages.GET("", s.findLandingPage)
			pages.PUT("/:id", s.updateLandingPage)
		}
		v1.POST("/usernames", s.provisionUsername)
		v1.POST("/submission-status/reset", s.resetSubmissionStatus)
	}
	return r
}

// uploadHeaders keeps stored uploads inert when opened directly.
func uploadHeaders(c *gin.Context) {
	c.Header("Content-Security-Policy", "default-src 'none'; img-src 'self'; style-src 'unsafe-inline'; sandbox")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Next()
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestId", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    c.Writer.Status(),
			"duration":  time.Since(start).String(),
			"requestId": c.GetString("requestId"),
		}
		switch {
		case c.Writer.Status() >= 500:
			s.logger.Error("request failed", fields)
		case c.Writer.Status() >= 400:
			s.logger.Warn("request rejected", fields)
		default:
			s.logger.Debug("request served", fields)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.ReadyTimeout)
	defer cancel()

	failures := database.CheckAll(ctx, s.services.Deps)
	if len(failures) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	details := gin.H{}
	for name, err := range failures {
		details[name] = err.Error()
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "dependencies": details})
}
