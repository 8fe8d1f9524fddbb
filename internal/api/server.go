// Package api exposes the storage operations over HTTP.
//
// The surface is deliberately thin: handlers translate JSON to engine
// requests and domain errors to statuses; every access decision lives in
// the engine. Identity arrives as a signed bearer token minted by the
// external session service.
package api

import (
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wardenfs/warden/pkg/engine"
	"github.com/wardenfs/warden/pkg/metrics"
	"github.com/wardenfs/warden/pkg/storage"
)

// Server holds the HTTP surface and its collaborators.
type Server struct {
	engine *engine.Engine
	tree   storage.TreeStore
	logger zerolog.Logger
	router *gin.Engine
}

// ServerDependencies carries what the HTTP surface needs.
type ServerDependencies struct {
	// Engine executes the storage operations (required).
	Engine *engine.Engine

	// Tree is consulted by the health endpoint (required).
	Tree storage.TreeStore

	// AuthSecret verifies session tokens (required).
	AuthSecret []byte

	// AllowedOrigins configures CORS. Empty disallows browser
	// cross-origin access.
	AllowedOrigins []string

	// Logger receives request logs.
	Logger zerolog.Logger
}

// NewServer wires the router: recovery, request logging, CORS, the health
// endpoint, and the authenticated v1 API.
func NewServer(deps ServerDependencies) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.Tree == nil {
		return nil, fmt.Errorf("tree store is required")
	}
	if len(deps.AuthSecret) == 0 {
		return nil, fmt.Errorf("auth secret is required")
	}

	s := &Server{
		engine: deps.Engine,
		tree:   deps.Tree,
		logger: deps.Logger.With().Str("component", "api").Logger(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))

	if len(deps.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = deps.AllowedOrigins
		corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
		corsConfig.MaxAge = 12 * time.Hour
		router.Use(cors.New(corsConfig))
	}

	router.GET("/health", s.handleHealth)

	if metrics.IsEnabled() {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			metrics.GetRegistry(),
			promhttp.HandlerOpts{},
		)))
	}

	v1 := router.Group("/api/v1", Auth(deps.AuthSecret))
	{
		orgs := v1.Group("/orgs/:orgID")
		{
			orgs.GET("/items", s.handleList)
			orgs.POST("/files", s.handleCreateFile)
			orgs.POST("/folders", s.handleCreateFolder)
			orgs.PATCH("/items/:itemID/name", s.handleRename)
			orgs.PATCH("/items/:itemID/visibility", s.handleUpdateVisibility)
			orgs.DELETE("/items/:itemID", s.handleDelete)
			orgs.GET("/items/:itemID/download", s.handleDownload)
		}
	}

	s.router = router
	return s, nil
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() *gin.Engine {
	return s.router
}
