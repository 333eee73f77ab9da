package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/braincount/impression-engine/internal/aggregate"
	"github.com/braincount/impression-engine/internal/config"
	"github.com/braincount/impression-engine/internal/models"
	"github.com/braincount/impression-engine/internal/report"
	"github.com/braincount/impression-engine/internal/storage"
)

type testEnv struct {
	handler    http.Handler
	rollups    *storage.InMemoryRollupStore
	billboards *storage.InMemoryBillboardRepo
	campaigns  *storage.InMemoryCampaignRepo
	detections *storage.InMemoryDetectionStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	env := &testEnv{
		rollups:    storage.NewInMemoryRollupStore(false),
		billboards: storage.NewInMemoryBillboardRepo(),
		campaigns:  storage.NewInMemoryCampaignRepo(),
		detections: storage.NewInMemoryDetectionStore(),
	}

	aggregator := aggregate.NewAggregator(env.rollups, env.billboards, nil, nil, logger, 0)
	engine := report.NewEngine(env.rollups, env.billboards, env.campaigns, logger)

	env.handler = NewServer(&Dependencies{
		Config:     &config.Config{},
		Logger:     logger,
		Rollups:    env.rollups,
		Billboards: env.billboards,
		Campaigns:  env.campaigns,
		Detections: env.detections,
		Aggregator: aggregator,
		Engine:     engine,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedBillboard(t *testing.T, uuid string) {
	t.Helper()
	require.NoError(t, e.billboards.Upsert(context.Background(), &models.Billboard{
		UUID: uuid, Title: "Billboard " + uuid, Location: "Dhaka",
	}))
}

func (e *testEnv) seedWindow(t *testing.T, campaign, billboard string) {
	t.Helper()
	require.NoError(t, e.campaigns.UpsertWindow(context.Background(), &models.CampaignWindow{
		CampaignUUID:  campaign,
		BillboardUUID: billboard,
		StartTime:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:       time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}))
}

func uploadRecord(billboard string, hour int, dwell string) map[string]interface{} {
	return map[string]interface{}{
		"billboard":   billboard,
		"object_type": "car",
		"date":        "2024-03-10",
		"hour":        hour,
		"dwalltime":   dwell,
		"reach":       "['a'\n'b']",
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUploadAndReport(t *testing.T) {
	env := newTestEnv(t)
	env.seedBillboard(t, "bb-1")
	env.seedWindow(t, "camp-1", "bb-1")

	rec := env.do(t, http.MethodPost, "/report/upload", []map[string]interface{}{
		uploadRecord("bb-1", 5, "10"),
		uploadRecord("bb-1", 5, "20"),
		uploadRecord("bb-1", 9, "30"),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var up uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.Equal(t, 3, up.Processed)
	assert.Empty(t, up.Failed)

	rec = env.do(t, http.MethodGet, "/report?uuid=camp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rep report.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, int64(3), rep.TotalImpressions)
	require.Len(t, rep.BillboardWise, 1)
	assert.Equal(t, int64(2), rep.BillboardWise[0].Reach)
	assert.Equal(t, int64(2), rep.CardData.TotalFrequency)
	require.Len(t, rep.HourWise, 2)
}

func TestUploadPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedBillboard(t, "bb-1")

	bad := uploadRecord("bb-1", 5, "10")
	bad["date"] = "not-a-date"

	rec := env.do(t, http.MethodPost, "/report/upload", []map[string]interface{}{
		uploadRecord("bb-1", 5, "10"),
		bad,
		uploadRecord("ghost", 5, "10"),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var up uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.Equal(t, 1, up.Processed)
	require.Len(t, up.Failed, 2)

	reasons := map[int]string{}
	for _, f := range up.Failed {
		reasons[f.Index] = f.Reason
	}
	assert.Equal(t, aggregate.ReasonMalformed, reasons[1])
	assert.Equal(t, aggregate.ReasonNotFound, reasons[2])
}

func TestUploadInvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/report/upload", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportMissingUUID(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/report", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "UUID is required")
}

func TestReportNoData(t *testing.T) {
	env := newTestEnv(t)
	env.seedBillboard(t, "bb-1")
	env.seedWindow(t, "camp-1", "bb-1")

	rec := env.do(t, http.MethodGet, "/report?uuid=camp-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestReportDelete(t *testing.T) {
	env := newTestEnv(t)
	env.seedBillboard(t, "bb-1")
	env.seedWindow(t, "camp-1", "bb-1")

	rec := env.do(t, http.MethodPost, "/report/upload", []map[string]interface{}{
		uploadRecord("bb-1", 5, "10"),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/report/delete", map[string][]string{
		"billboards": {"bb-1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":1}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/report?uuid=camp-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestReportDeleteRequiresList(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/report/delete", map[string][]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetectionsStaging(t *testing.T) {
	env := newTestEnv(t)
	env.seedBillboard(t, "bb-1")

	rec := env.do(t, http.MethodPost, "/detections", []map[string]interface{}{
		{
			"billboard_uuid": "bb-1",
			"camera_id":      "cam-7",
			"object_type":    "bus",
			"entry_time":     "2024-03-10T05:00:00Z",
			"exit_time":      "2024-03-10T05:00:12Z",
			"dwell_seconds":  12,
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"staged":1}`, rec.Body.String())

	page, err := env.detections.PageAfter(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, models.ObjectBus, page[0].ObjectType)
}

func TestDetectionsValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/detections", []map[string]interface{}{
		{"camera_id": "cam-7", "entry_time": "2024-03-10T05:00:00Z"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/detections", []map[string]interface{}{
		{"billboard_uuid": "bb-1"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBillboardsCRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/billboards", models.Billboard{
		Title: "Gulshan Circle 1", Location: "Dhaka", BillboardType: models.BillboardLED,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var created models.Billboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.UUID)

	rec = env.do(t, http.MethodGet, "/billboards", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Billboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Gulshan Circle 1", list[0].Title)

	rec = env.do(t, http.MethodPost, "/billboards", models.Billboard{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCampaignWindows(t *testing.T) {
	env := newTestEnv(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rec := env.do(t, http.MethodPost, "/campaigns/windows", models.CampaignWindow{
		CampaignUUID:  "camp-1",
		BillboardUUID: "bb-1",
		StartTime:     start,
		EndTime:       start.AddDate(0, 1, 0),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/campaigns/windows", models.CampaignWindow{
		CampaignUUID:  "camp-1",
		BillboardUUID: "bb-1",
		StartTime:     start,
		EndTime:       start,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "end must be after start")

	rec = env.do(t, http.MethodGet, "/campaigns/windows?uuid=camp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ws []models.CampaignWindow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ws))
	assert.Len(t, ws, 1)

	rec = env.do(t, http.MethodGet, "/campaigns/windows", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodGet, "/report/upload", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodPost, "/report", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodDelete, "/billboards", nil).Code)
}
