package handlers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter wires every route onto a gin engine with CORS for allowedOrigins.
// A "*" entry, or no entry at all, allows any origin.
func NewRouter(h *APIHandler, allowedOrigins []string) *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(corsConfig(allowedOrigins)))

	router.GET("/", RootHandler)
	router.GET("/ping", PingHandler)

	// Kid routes
	router.POST("/kids", h.AddKid)
	router.GET("/kids", h.ListKids)
	router.POST("/import/kids", h.ImportKids)

	// Attendance routes
	router.GET("/attendance/today", h.TodaySheet)
	router.POST("/attendance/mark", h.Mark)
	router.GET("/attendance/by-day/:dayId", h.SheetByDay)
	router.GET("/attendance/by-day/:dayId/export", h.ExportDay)
	router.GET("/days", h.ListDays)

	return router
}

func corsConfig(allowedOrigins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, origin := range allowedOrigins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = allowedOrigins
	return cfg
}
