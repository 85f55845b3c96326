package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentfeatures/internal/database"
	"rentfeatures/internal/geometry"
	"rentfeatures/internal/models"
	"rentfeatures/internal/reconcile"
)

func setupRouter(t *testing.T, withMatrix bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	store, err := database.NewStore(filepath.Join(t.TempDir(), "checkpoints.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	require.NoError(t, store.StartRun(&models.PipelineRun{ID: "run-1", Chunks: 1, Rows: 3}))
	rows := []*models.Listing{
		{PropertyID: 1, Suburb: "south yarra", Year: 2024, Quarter: 3, WeeklyRent: models.FloatPtr(450)},
		{PropertyID: 2, Suburb: "south yarra", Year: 2023, Quarter: 1, WeeklyRent: models.FloatPtr(550)},
		{PropertyID: 3, Suburb: "carlton", Year: 2024, Quarter: 1, WeeklyRent: models.FloatPtr(500)},
	}
	header := []models.Column{models.ColPropertyID, models.ColWeeklyRent, models.ColSuburb, models.ColYear, models.ColQuarter}
	require.NoError(t, store.SaveChunk("run-1", 0, rows, header))
	require.NoError(t, store.FinishRun("run-1", models.RunStatusCompleted))

	mapping, err := reconcile.NewMapping(map[string][]string{"south yarra": {"sth yarra"}})
	require.NoError(t, err)

	var matrix *geometry.Matrix
	if withMatrix {
		matrix = geometry.NewMatrix([]string{"carlton", "fitzroy", "south yarra"})
		matrix.W[2][0] = 0.25
		matrix.W[2][1] = 0.75
	}

	return NewRouter(NewHandler(store, mapping, matrix, logger), logger)
}

func get(t *testing.T, router *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)

	var body map[string]interface{}
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestListRuns(t *testing.T) {
	router := setupRouter(t, false)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var runs []models.PipelineRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, models.RunStatusCompleted, runs[0].Status)
}

func TestGetRun(t *testing.T) {
	router := setupRouter(t, false)

	w, body := get(t, router, "/api/runs/run-1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", body["status"])

	w, _ = get(t, router, "/api/runs/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRunStats(t *testing.T) {
	router := setupRouter(t, false)

	w, body := get(t, router, "/api/runs/run-1/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3.0, body["listings"])
	assert.Equal(t, 2.0, body["suburbs"])
	assert.InDelta(t, 500.0, body["avg_weekly_rent"], 1e-9)

	w, _ = get(t, router, "/api/runs/missing/stats")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetListings(t *testing.T) {
	router := setupRouter(t, false)

	tests := []struct {
		name     string
		query    string
		status   int
		total    float64
		returned int
	}{
		{"all", "", http.StatusOK, 3, 3},
		{"suburb variant is canonicalized", "?suburb=" + url.QueryEscape("STH Yarra"), http.StatusOK, 2, 2},
		{"year", "?year=2024", http.StatusOK, 2, 2},
		{"page", "?limit=1&offset=2", http.StatusOK, 3, 1},
		{"bad year", "?year=abc", http.StatusBadRequest, 0, 0},
		{"negative offset", "?offset=-1", http.StatusBadRequest, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := get(t, router, "/api/runs/run-1/listings"+tt.query)
			require.Equal(t, tt.status, w.Code)
			if tt.status != http.StatusOK {
				return
			}
			assert.Equal(t, tt.total, body["total"])
			listings, ok := body["listings"].([]interface{})
			require.True(t, ok)
			assert.Len(t, listings, tt.returned)
		})
	}

	w, _ := get(t, router, "/api/runs/missing/listings")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetListings_Features(t *testing.T) {
	router := setupRouter(t, false)

	w, body := get(t, router, "/api/runs/run-1/listings?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	listings := body["listings"].([]interface{})
	first := listings[0].(map[string]interface{})
	features := first["features"].(map[string]interface{})
	assert.Equal(t, "450", features["weekly_rent"])
	assert.Equal(t, "south yarra", features["suburb"])
}

func TestGetSuburb(t *testing.T) {
	router := setupRouter(t, false)

	w, body := get(t, router, "/api/suburbs/"+url.PathEscape("STH Yarra"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "south yarra", body["canonical"])
	assert.Equal(t, []interface{}{"sth yarra"}, body["variants"])

	w, body = get(t, router, "/api/suburbs/Carlton")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "carlton", body["canonical"])
	assert.Equal(t, []interface{}{}, body["variants"])
}

func TestGetNeighbours(t *testing.T) {
	router := setupRouter(t, true)

	w, body := get(t, router, "/api/suburbs/"+url.PathEscape("sth yarra")+"/neighbours")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "south yarra", body["suburb"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"suburb": "carlton", "weight": 0.25},
		map[string]interface{}{"suburb": "fitzroy", "weight": 0.75},
	}, body["neighbours"])

	w, _ = get(t, router, "/api/suburbs/nowhere/neighbours")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetNeighbours_NoMatrix(t *testing.T) {
	router := setupRouter(t, false)

	w, _ := get(t, router, "/api/suburbs/carlton/neighbours")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORS(t *testing.T) {
	router := setupRouter(t, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/runs", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNilMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	store, err := database.NewStore(filepath.Join(t.TempDir(), "checkpoints.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	matrix := geometry.NewMatrix([]string{"carlton", "fitzroy"})
	matrix.W[0][1] = 1
	router := NewRouter(NewHandler(store, nil, matrix, logger), logger)

	w, body := get(t, router, "/api/suburbs/"+url.PathEscape("STH Yarra"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sth yarra", body["canonical"])
	assert.Equal(t, []interface{}{}, body["variants"])

	w, body = get(t, router, "/api/suburbs/Carlton/neighbours")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "carlton", body["suburb"])
}
