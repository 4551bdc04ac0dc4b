// Package server - HTTP-Router fuer den gradtts-Decoder
// Beinhaltet: Server-Struct, Router-Registrierung, Fehlerabbildung auf HTTP-Status
package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ollama/gradtts/envconfig"
	"github.com/ollama/gradtts/model/models/gradtts"
	"github.com/ollama/gradtts/version"
)

var mode string = gin.DebugMode

// errInvalidRequest markiert Anfragen, die schon vor dem Decoder scheitern
var errInvalidRequest = errors.New("invalid request")

// Server verwaltet den HTTP-Server und den Scheduler
type Server struct {
	addr  net.Addr
	sched *Scheduler
}

func init() {
	switch mode {
	case gin.DebugMode:
	case gin.ReleaseMode:
	case gin.TestMode:
	default:
		mode = gin.DebugMode
	}

	gin.SetMode(mode)
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
		requestIDHeader,
	}
	corsConfig.ExposeHeaders = []string{requestIDHeader}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
		requestIDMiddleware(),
	)

	// General
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "gradtts is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "gradtts is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })

	// Decoder
	r.POST("/api/show", s.ShowHandler)
	r.POST("/api/synthesize", s.SynthesizeHandler)
	r.POST("/api/edit/pitch", s.EditPitchHandler)
	r.POST("/api/edit/text", s.EditTextHandler)

	return r
}

// errorStatus bildet Fehler auf HTTP-Statuscodes ab
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrMaxQueue):
		return http.StatusServiceUnavailable
	case errors.Is(err, errInvalidRequest), errors.Is(err, gradtts.ErrInvariantViolation):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errorStatus(err), gin.H{"error": err.Error()})
}
