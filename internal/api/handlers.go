package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"rentfeatures/internal/database"
	"rentfeatures/internal/geometry"
	"rentfeatures/internal/reconcile"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Handler serves checkpointed runs and the suburb lookups used to build them.
type Handler struct {
	store   *database.Store
	mapping *reconcile.Mapping
	matrix  *geometry.Matrix
	logger  *logrus.Logger
}

type ListingFilter struct {
	Suburb string `form:"suburb"`
	Year   int    `form:"year" binding:"min=0"`
	Limit  int    `form:"limit" binding:"min=0"`
	Offset int    `form:"offset" binding:"min=0"`
}

type Neighbour struct {
	Suburb string  `json:"suburb"`
	Weight float64 `json:"weight"`
}

// NewHandler wires the API. A nil mapping only lowercases suburbs. A nil
// matrix makes the neighbour endpoint answer 503.
func NewHandler(store *database.Store, mapping *reconcile.Mapping, matrix *geometry.Matrix, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	return &Handler{
		store:   store,
		mapping: mapping,
		matrix:  matrix,
		logger:  logger,
	}
}

func (h *Handler) ListRuns(c *gin.Context) {
	runs, err := h.store.ListRuns()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, runs)
}

func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.store.GetRun(c.Param("run_id"))
	if errors.Is(err, database.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get run"})
		return
	}

	c.JSON(http.StatusOK, run)
}

func (h *Handler) GetRunStats(c *gin.Context) {
	stats, err := h.store.RunStats(c.Param("run_id"))
	if errors.Is(err, database.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get run stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get run stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetListings(c *gin.Context) {
	runID := c.Param("run_id")

	var filter ListingFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.logger.WithError(err).Warn("Failed to parse listing filter")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}
	if filter.Limit == 0 || filter.Limit > maxPageSize {
		filter.Limit = defaultPageSize
	}

	if _, err := h.store.GetRun(runID); err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
			return
		}
		h.logger.WithError(err).Error("Failed to get run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get run"})
		return
	}

	suburb := filter.Suburb
	if suburb != "" {
		suburb = h.mapping.Canonicalize(suburb)
	}
	records, total, err := h.store.ListListings(database.ListingQuery{
		RunID:  runID,
		Suburb: suburb,
		Year:   filter.Year,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to get listings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get listings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
		"listings": records,
	})
}

// GetSuburb resolves a raw suburb name to its canonical form.
func (h *Handler) GetSuburb(c *gin.Context) {
	raw := c.Param("suburb")
	canonical := h.mapping.Canonicalize(raw)

	variants := h.mapping.Variants(canonical)
	if variants == nil {
		variants = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"input":     raw,
		"canonical": canonical,
		"variants":  variants,
	})
}

// GetNeighbours lists the suburbs with non-zero adjacency weight.
func (h *Handler) GetNeighbours(c *gin.Context) {
	if h.matrix == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Adjacency matrix not loaded"})
		return
	}

	suburb := h.mapping.Canonicalize(c.Param("suburb"))
	if h.matrix.Index(suburb) < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Suburb not found"})
		return
	}

	names := h.matrix.Neighbours(suburb)
	neighbours := make([]Neighbour, 0, len(names))
	for _, n := range names {
		neighbours = append(neighbours, Neighbour{Suburb: n, Weight: h.matrix.At(suburb, n)})
	}
	c.JSON(http.StatusOK, gin.H{
		"suburb":     suburb,
		"neighbours": neighbours,
	})
}
