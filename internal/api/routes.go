package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/zulandar/buildyard/internal/buildrequests"
	"github.com/zulandar/buildyard/internal/buildsets"
	"github.com/zulandar/buildyard/internal/models"
	"github.com/zulandar/buildyard/internal/mq"
	"github.com/zulandar/buildyard/internal/resultspec"
)

// handlers bundles the services the route handlers close over.
type handlers struct {
	buildsets     *buildsets.Service
	buildrequests *buildrequests.Service
	db            *gorm.DB
	bus           *mq.Bus
}

// registerRoutes sets up the /api/v2 route tree.
func registerRoutes(router *gin.Engine, h *handlers) {
	v2 := router.Group("/api/v2")
	v2.GET("/buildsets", h.listBuildsets)
	v2.GET("/buildsets/:bsid", h.getBuildset)
	v2.GET("/buildrequests", h.listBuildRequests)
	v2.GET("/buildrequests/:brid", h.getBuildRequest)
	v2.GET("/sourcestamps", h.listSourceStamps)
	v2.GET("/sourcestamps/:ssid", h.getSourceStamp)
	v2.GET("/builders", h.listBuilders)
	v2.GET("/events", h.streamEvents)
}

func (h *handlers) listBuildsets(c *gin.Context) {
	spec, err := parseSpec(c.Request.URL.Query())
	if err != nil {
		writeQueryError(c, err)
		return
	}
	items, err := h.buildsets.List(spec)
	if err != nil {
		writeQueryError(c, err)
		return
	}
	body, err := projectList(items, spec.Fields)
	if err != nil {
		writeQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"buildsets": body,
		"meta":      gin.H{"total": len(items)},
	})
}

func (h *handlers) getBuildset(c *gin.Context) {
	bsid, ok := pathID(c, "bsid")
	if !ok {
		return
	}
	bs, err := h.buildsets.Get(bsid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if bs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "buildset not found"})
		return
	}
	c.JSON(http.StatusOK, bs)
}

func (h *handlers) listBuildRequests(c *gin.Context) {
	spec, err := parseSpec(c.Request.URL.Query())
	if err != nil {
		writeQueryError(c, err)
		return
	}
	items, err := h.buildrequests.List(spec)
	if err != nil {
		writeQueryError(c, err)
		return
	}
	body, err := projectList(items, spec.Fields)
	if err != nil {
		writeQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"buildrequests": body,
		"meta":          gin.H{"total": len(items)},
	})
}

func (h *handlers) getBuildRequest(c *gin.Context) {
	brid, ok := pathID(c, "brid")
	if !ok {
		return
	}
	br, err := h.buildrequests.Get(brid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if br == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "buildrequest not found"})
		return
	}
	c.JSON(http.StatusOK, br)
}

func (h *handlers) listSourceStamps(c *gin.Context) {
	spec, err := parseSpec(c.Request.URL.Query())
	if err != nil {
		writeQueryError(c, err)
		return
	}
	items, err := h.buildsets.ListSourceStamps(spec)
	if err != nil {
		writeQueryError(c, err)
		return
	}
	body, err := projectList(items, spec.Fields)
	if err != nil {
		writeQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sourcestamps": body,
		"meta":         gin.H{"total": len(items)},
	})
}

func (h *handlers) getSourceStamp(c *gin.Context) {
	ssid, ok := pathID(c, "ssid")
	if !ok {
		return
	}
	ss, err := h.buildsets.GetSourceStamp(ssid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ss == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sourcestamp not found"})
		return
	}
	c.JSON(http.StatusOK, ss)
}

func (h *handlers) listBuilders(c *gin.Context) {
	var rows []models.Builder
	if err := h.db.Order("id ASC").Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	type builder struct {
		BuilderID   int64  `json:"builderid"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	out := make([]builder, 0, len(rows))
	for _, b := range rows {
		out = append(out, builder{BuilderID: b.ID, Name: b.Name, Description: b.Description})
	}
	c.JSON(http.StatusOK, gin.H{
		"builders": out,
		"meta":     gin.H{"total": len(out)},
	})
}

// projectList applies field projection when requested, otherwise returns
// the entities as-is.
func projectList[T resultspec.Entity](items []T, fields []string) (any, error) {
	if len(fields) == 0 {
		return items, nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, err := resultspec.Project(item, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// pathID parses a numeric path parameter, writing a 400 on failure.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad " + name})
		return 0, false
	}
	return id, true
}

// writeQueryError maps validation failures to 400 and everything else to
// 500.
func writeQueryError(c *gin.Context, err error) {
	if errors.Is(err, resultspec.ErrValidation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
