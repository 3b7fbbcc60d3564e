package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"wave-service/internal/mocks"
	"wave-service/internal/models"
	"wave-service/internal/services"
	"wave-service/internal/telemetry"
)

func setupWaveRouter(handler *WaveHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.POST("/waves", handler.CreateWave)
	r.GET("/waves/discover", handler.DiscoverWaves)
	r.GET("/waves/:wave_id", handler.GetWave)
	r.POST("/waves/:wave_id/join", handler.JoinWave)
	r.DELETE("/waves/:wave_id", handler.DeleteWave)
	return r
}

func TestCreateWaveSuccess(t *testing.T) {
	svc := new(mocks.WaveServiceMock)
	publisher := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(publisher, "audit.wave", "wave-service", "test")
	router := setupWaveRouter(NewWaveHandler(svc, audit))

	in := services.CreateWaveInput{ActivityType: "coffee", Area: "Tanjong Pagar"}
	svc.On("Create", mock.Anything, 1, in).Return(models.WaveView{
		Wave:             models.Wave{ID: 11, CreatorID: 1, ActivityType: "coffee", Area: "Tanjong Pagar", Threshold: 3},
		ParticipantCount: 1,
		Joined:           true,
	}, nil).Once()
	publisher.On("Publish", mock.Anything, "audit.wave", mock.AnythingOfType("telemetry.AuditEnvelope")).Return(nil).Once()

	body := bytes.NewBufferString(`{"activity_type":"coffee","area":"Tanjong Pagar"}`)
	req := httptest.NewRequest(http.MethodPost, "/waves", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Wave             models.WaveView `json:"wave"`
		ParticipantCount int             `json:"participant_count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 11, resp.Wave.ID)
	assert.Equal(t, 1, resp.ParticipantCount)

	svc.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestCreateWaveValidationError(t *testing.T) {
	svc := new(mocks.WaveServiceMock)
	router := setupWaveRouter(NewWaveHandler(svc, nil))

	svc.On("Create", mock.Anything, 1, mock.Anything).
		Return(nil, &services.ValidationError{Field: "area", Message: "is required"}).Once()

	req := httptest.NewRequest(http.MethodPost, "/waves", bytes.NewBufferString(`{"activity_type":"coffee"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"is required","field":"area"}`, rec.Body.String())
	svc.AssertExpectations(t)
}

func TestCreateWaveMalformedBody(t *testing.T) {
	svc := new(mocks.WaveServiceMock)
	router := setupWaveRouter(NewWaveHandler(svc, nil))

	req := httptest.NewRequest(http.MethodPost, "/waves", bytes.NewBufferString(`{"area":`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestDiscoverWavesParsesQuery(t *testing.T) {
	svc := new(mocks.WaveServiceMock)
	router := setupWaveRouter(NewWaveHandler(svc, nil))

	radius := 2.0
	expected := services.DiscoverQuery{
		Center:       &services.GeoPoint{Lat: 1.35, Lng: 103.82},
		RadiusKm:     &radius,
		ActivityType: "run",
	}
	svc.On("Discover", mock.Anything, 1, expected).Return(services.DiscoverResult{
		Waves:          []models.WaveView{},
		MergedListings: []models.FeedItem{},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/waves/discover?lat=1.35&lng=103.82&radius=2&type=run", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"waves":[],"merged_listings":[]}`, rec.Body.String())
	svc.AssertExpectations(t)
}

func TestDiscoverWavesRejectsHalfCoordinates(t *testing.T) {
	svc := new(mocks.WaveServiceMock)
	router := setupWaveRouter(NewWaveHandler(svc, nil))

	req := httptest.NewRequest(http.MethodGet, "/waves/discover?lat=1.35", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Discover", mock.Anything, mock.Anything, mock.Anything)
}

func TestJoinWaveStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not found", err: services.ErrNotFound, status: http.StatusNotFound},
		{name: "closed", err: services.ErrWaveClosed, status: http.StatusConflict},
		{name: "store failure", err: &services.StoreError{Op: "join wave", Err: assert.AnError}, status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(mocks.WaveServiceMock)
			router := setupWaveRouter(NewWaveHandler(svc, nil))
			svc.On("Join", mock.Anything, 4, 1).Return(nil, tc.err).Once()

			req := httptest.NewRequest(http.MethodPost, "/waves/4/join", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestJoinWaveUnlocks(t *testing.T) {
	svc := new(mocks.WaveServiceMock)
	router := setupWaveRouter(NewWaveHandler(svc, nil))

	crewID := 21
	svc.On("Join", mock.Anything, 4, 1).Return(services.JoinResult{
		ParticipantCount: 3,
		Joined:           true,
		Unlocked:         true,
		CrewID:           &crewID,
	}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/waves/4/join", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"participant_count":3,"joined":true,"unlocked":true,"crew_id":21}`, rec.Body.String())
}

func TestGetWaveInvalidID(t *testing.T) {
	svc := new(mocks.WaveServiceMock)
	router := setupWaveRouter(NewWaveHandler(svc, nil))

	req := httptest.NewRequest(http.MethodGet, "/waves/abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteWave(t *testing.T) {
	svc := new(mocks.WaveServiceMock)
	router := setupWaveRouter(NewWaveHandler(svc, nil))

	svc.On("Delete", mock.Anything, 4, 1).Return(nil).Once()
	svc.On("Delete", mock.Anything, 5, 1).Return(services.ErrForbidden).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/waves/4", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/waves/5", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	svc.AssertExpectations(t)
}
