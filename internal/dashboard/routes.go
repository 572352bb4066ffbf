package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// statusInterval is how often /api/events checks the fleet for changes.
const statusInterval = 2 * time.Second

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, fl StatusSource, log zerolog.Logger) {
	router.GET("/healthz", handleHealth(fl))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/bots", handleBotList(db, fl, log))
	api.GET("/bots/:id/resources", handleBotResources(db, log))
	api.GET("/fleet", handleFleet(fl))
	api.GET("/events", handleEvents(fl, statusInterval))
}

// handleHealth reports 200 while the primary bot loop is alive.
func handleHealth(fl StatusSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, s := range fl.Status() {
			if s.Primary && s.Alive {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
				return
			}
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "primary bot not running"})
	}
}

func handleBotList(db *gorm.DB, fl StatusSource, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := BotSummary(db.WithContext(c.Request.Context()))
		if err != nil {
			log.Error().Err(err).Msg("dashboard: list bots")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list bots"})
			return
		}
		alive := make(map[uint]bool)
		for _, s := range fl.Status() {
			if !s.Primary {
				alive[s.ID] = s.Alive
			}
		}
		for i := range rows {
			rows[i].Running = alive[rows[i].ID]
		}
		c.JSON(http.StatusOK, rows)
	}
}

func handleBotResources(db *gorm.DB, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bot id"})
			return
		}
		rows, found, err := BotResources(db.WithContext(c.Request.Context()), uint(id))
		if err != nil {
			log.Error().Err(err).Uint64("bot_id", id).Msg("dashboard: list resources")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list resources"})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func handleFleet(fl StatusSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, fl.Status())
	}
}
