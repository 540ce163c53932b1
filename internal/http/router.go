// Package httpapi wires the HTTP transport (Gin) to the agent: the Slack
// Events API and slash command webhooks, the conversation inspection API,
// health and metrics. It owns middleware order and dependency injection for
// the HTTP side.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/slack-agent/docs"
	"github.com/tbourn/slack-agent/internal/config"
	"github.com/tbourn/slack-agent/internal/domain"
	"github.com/tbourn/slack-agent/internal/http/handlers"
	"github.com/tbourn/slack-agent/internal/http/middleware"
	"github.com/tbourn/slack-agent/internal/repo"
	"github.com/tbourn/slack-agent/internal/services"
	"github.com/tbourn/slack-agent/internal/slackbot"
)

// conversationRepoShim adapts the repo free functions to
// services.ConversationRepo.
type conversationRepoShim struct{}

func (conversationRepoShim) FindUser(ctx context.Context, db *gorm.DB, platform, externalID string) (*domain.User, error) {
	return repo.FindUser(ctx, db, platform, externalID)
}

func (conversationRepoShim) GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error) {
	return repo.GetConversation(ctx, db, id, userID)
}

func (conversationRepoShim) UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateConversationTitle(ctx, db, id, userID, title)
}

func (conversationRepoShim) CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountConversations(ctx, db, userID)
}

func (conversationRepoShim) ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	return repo.ListConversationsPage(ctx, db, userID, offset, limit)
}

func (conversationRepoShim) CountQueries(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	return repo.CountQueries(ctx, db, conversationID)
}

func (conversationRepoShim) ListQueriesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Query, error) {
	return repo.ListQueriesPage(ctx, db, conversationID, offset, limit)
}

func (conversationRepoShim) ConversationsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.ConversationsStats(ctx, db, userID)
}

// Deps are the runtime collaborators RegisterRoutes needs beyond config.
type Deps struct {
	DB *gorm.DB
	// Dispatch receives verified Slack traffic. Nil leaves the webhooks
	// unmounted, as in Socket Mode.
	Dispatch  slackbot.Dispatcher
	BotUserID string
}

// RegisterRoutes attaches middleware and endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger
//  4. Recovery
//  5. Body size limiter
//  6. Metrics
//  7. Slack webhooks (signature verified, not rate limited)
//  8. Rate limiter
//  9. CORS and security headers
//  10. Inspection API, gzip compressed
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-Slack-Request-Timestamp"},
	}))
	r.Use(middleware.Recovery())

	// Slack caps payloads well below this.
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	convSvc := services.NewConversationService(deps.DB, conversationRepoShim{})
	h := handlers.New(convSvc, deps.Dispatch, deps.BotUserID)

	// Slack retries anything that is not a fast 2xx, so these routes sit
	// before the limiter and CORS.
	if deps.Dispatch != nil {
		sl := r.Group("/slack", middleware.SlackSignature(cfg.Slack.SigningSecret))
		sl.POST("/events", h.SlackEvents)
		sl.POST("/commands", h.SlackCommands)
	}

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "If-None-Match"}
	exposeHeaders := []string{"X-Request-ID", "ETag", "Content-Length"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even without an Origin header (simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "PUT", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "PUT", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:id/messages", h.ListMessages)
		api.PUT("/conversations/:id/title", h.UpdateConversationTitle)
	}
}

// limitBody caps request bodies with http.MaxBytesReader; reads past the cap
// fail downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
