package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ohboy/herosync/internal/document"
	"github.com/ohboy/herosync/internal/notify"
	"github.com/ohboy/herosync/internal/store"
)

// RegisterSyncRoutes wires the replication API: the request/response feed and
// set endpoints plus the websocket change channel. Any extra middleware
// (auth hook, rate limiting) is applied to all three.
func RegisterSyncRoutes(r *gin.Engine, st *store.Store, hub *notify.Hub, mw ...gin.HandlerFunc) {
	api := r.Group("/api", mw...)
	api.GET("/feed", FeedHandler(st))
	api.POST("/set", SetHandler(st))
	r.GET("/changed", append(mw, notify.Handler(hub))...)
}

// FeedHandler serves GET /api/feed?updatedAt=&id=&limit=. The two checkpoint
// params are optional; absence means "from the beginning".
func FeedHandler(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		cp, err := document.ParseCheckpoint(c.Query("updatedAt"), c.Query("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		limit := 0
		if v := c.Query("limit"); v != "" {
			limit, err = strconv.Atoi(v)
			if err != nil || limit < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
		}

		docs, err := st.Feed(c.Request.Context(), cp, limit)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
			return
		}
		if docs == nil {
			docs = []document.Document{}
		}
		c.JSON(http.StatusOK, docs)
	}
}

// SetHandler serves POST /api/set: upsert by id, returns the stored
// version-stamped copy.
func SetHandler(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var doc document.Document
		if err := c.ShouldBindJSON(&doc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		stored, err := st.Set(c.Request.Context(), doc)
		switch {
		case errors.Is(err, document.ErrInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, store.ErrUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, stored)
		}
	}
}
