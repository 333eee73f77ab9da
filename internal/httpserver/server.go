package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/braincount/impression-engine/internal/aggregate"
	"github.com/braincount/impression-engine/internal/config"
	"github.com/braincount/impression-engine/internal/metrics"
	"github.com/braincount/impression-engine/internal/models"
	"github.com/braincount/impression-engine/internal/report"
	"github.com/braincount/impression-engine/internal/storage"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Rollups    storage.RollupStore
	Billboards storage.BillboardRepo
	Campaigns  storage.CampaignRepo
	Detections storage.DetectionStore
	Aggregator *aggregate.Aggregator
	Engine     *report.Engine
	Cache      *report.Cache
	Live       *aggregate.LiveCounters
}

// Server wraps HTTP handlers for ingestion, reporting and reference data.
type Server struct {
	aggregator *aggregate.Aggregator
	engine     *report.Engine
	cache      *report.Cache
	live       *aggregate.LiveCounters
	rollups    storage.RollupStore
	billboards storage.BillboardRepo
	campaigns  storage.CampaignRepo
	detections storage.DetectionStore
	logger     *zap.Logger
	config     *config.Config
	metrics    *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		aggregator: deps.Aggregator,
		engine:     deps.Engine,
		cache:      deps.Cache,
		live:       deps.Live,
		rollups:    deps.Rollups,
		billboards: deps.Billboards,
		campaigns:  deps.Campaigns,
		detections: deps.Detections,
		logger:     deps.Logger,
		config:     deps.Config,
		metrics:    deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Ingestion
	mux.HandleFunc("/report/upload", s.handleReportUpload)
	mux.HandleFunc("/detections", s.handleDetections)

	// Reporting
	mux.HandleFunc("/report", s.handleReport)
	mux.HandleFunc("/report/delete", s.handleReportDelete)
	mux.HandleFunc("/stats/live", s.handleLiveStats)

	// Reference data
	mux.HandleFunc("/billboards", s.handleBillboards)
	mux.HandleFunc("/campaigns/windows", s.handleCampaignWindows)

	return mux
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Legacy batch upload ----

type uploadResponse struct {
	Message   string                   `json:"message"`
	Processed int                      `json:"processed"`
	Failed    []aggregate.EventFailure `json:"failed,omitempty"`
}

func (s *Server) handleReportUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var records []aggregate.UploadRecord
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	var failed []aggregate.EventFailure
	events := make([]aggregate.Event, 0, len(records))
	origIndex := make([]int, 0, len(records))
	for i := range records {
		ev, err := records[i].Normalize()
		if err != nil {
			failed = append(failed, aggregate.EventFailure{
				Index:  i,
				Reason: aggregate.ReasonMalformed,
				Detail: err.Error(),
			})
			continue
		}
		events = append(events, ev)
		origIndex = append(origIndex, i)
	}

	result, err := s.aggregator.ProcessBatch(r.Context(), events)
	if err != nil {
		s.logger.Error("upload batch failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	for _, f := range result.Failed {
		f.Index = origIndex[f.Index]
		failed = append(failed, f)
	}

	s.jsonResponse(w, uploadResponse{
		Message:   "Report uploaded successfully",
		Processed: result.Processed,
		Failed:    failed,
	})
}

// ---- Raw detection staging ----

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ds []*models.Detection
	if err := json.NewDecoder(r.Body).Decode(&ds); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	for _, d := range ds {
		if d.BillboardUUID == "" {
			s.errorResponse(w, "billboard_uuid is required", http.StatusBadRequest)
			return
		}
		if d.EntryTime.IsZero() {
			s.errorResponse(w, "entry_time is required", http.StatusBadRequest)
			return
		}
		if d.ExitTime.IsZero() {
			d.ExitTime = d.EntryTime
		}
		d.ObjectType = models.ParseObjectType(string(d.ObjectType))
	}

	if err := s.detections.Stage(r.Context(), ds); err != nil {
		s.logger.Error("failed to stage detections", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int{"staged": len(ds)})
}

// ---- Report query ----

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	q, err := report.ParseQuery(r.URL.Query())
	if err != nil {
		if errors.Is(err, report.ErrMissingCampaign) {
			s.recordReport("bad_request", start)
			s.errorResponse(w, "UUID is required", http.StatusBadRequest)
			return
		}
		s.recordReport("bad_request", start)
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if cached := s.cache.Get(r.Context(), q); cached != nil {
		s.recordReport("ok", start)
		s.jsonResponse(w, cached)
		return
	}

	rep, err := s.engine.Compute(r.Context(), q)
	if err != nil {
		if errors.Is(err, report.ErrNoData) {
			s.recordReport("no_data", start)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.logger.Error("report computation failed",
			zap.String("campaign_uuid", q.CampaignUUID),
			zap.Error(err))
		s.recordReport("error", start)
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.cache.Put(r.Context(), q, rep)
	s.recordReport("ok", start)
	s.jsonResponse(w, rep)
}

func (s *Server) recordReport(status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordReport(status, time.Since(start))
	}
}

// ---- Administrative purge ----

func (s *Server) handleReportDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Billboards []string `json:"billboards"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.Billboards) == 0 {
		s.errorResponse(w, "billboards list is required", http.StatusBadRequest)
		return
	}

	deleted, err := s.rollups.PurgeBillboards(r.Context(), req.Billboards)
	if err != nil {
		s.logger.Error("failed to purge rollups", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("rollups purged",
		zap.Strings("billboards", req.Billboards),
		zap.Int64("deleted", deleted))
	s.jsonResponse(w, map[string]int64{"deleted": deleted})
}

// ---- Live stats ----

func (s *Server) handleLiveStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	billboard := r.URL.Query().Get("billboard")
	if billboard == "" {
		s.errorResponse(w, "billboard is required", http.StatusBadRequest)
		return
	}

	date := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			s.errorResponse(w, "invalid date", http.StatusBadRequest)
			return
		}
		date = parsed
	}

	stats, err := s.live.Snapshot(r.Context(), billboard, date)
	if err != nil {
		s.logger.Error("failed to read live stats", zap.Error(err))
		s.errorResponse(w, "live stats unavailable", http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, stats)
}

// ---- Billboards ----

func (s *Server) handleBillboards(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.billboards.ListAll(r.Context())
		if err != nil {
			s.logger.Error("failed to list billboards", zap.Error(err))
			s.errorResponse(w, "failed to list", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, list)

	case http.MethodPost:
		var b models.Billboard
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if b.Title == "" {
			s.errorResponse(w, "title is required", http.StatusBadRequest)
			return
		}
		if err := s.billboards.Upsert(r.Context(), &b); err != nil {
			s.errorResponse(w, "failed to save: "+err.Error(), http.StatusBadRequest)
			return
		}
		s.jsonResponse(w, b)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ---- Campaign windows ----

func (s *Server) handleCampaignWindows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		uuid := r.URL.Query().Get("uuid")
		if uuid == "" {
			s.errorResponse(w, "UUID is required", http.StatusBadRequest)
			return
		}
		windows, err := s.campaigns.GetWindows(r.Context(), uuid)
		if err != nil {
			s.logger.Error("failed to list campaign windows", zap.Error(err))
			s.errorResponse(w, "failed to list", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, windows)

	case http.MethodPost:
		var win models.CampaignWindow
		if err := json.NewDecoder(r.Body).Decode(&win); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if win.CampaignUUID == "" || win.BillboardUUID == "" {
			s.errorResponse(w, "campaign_uuid and billboard_uuid are required", http.StatusBadRequest)
			return
		}
		if !win.EndTime.After(win.StartTime) {
			s.errorResponse(w, "end_time must be after start_time", http.StatusBadRequest)
			return
		}
		if err := s.campaigns.UpsertWindow(r.Context(), &win); err != nil {
			s.errorResponse(w, "failed to save: "+err.Error(), http.StatusBadRequest)
			return
		}
		s.jsonResponse(w, win)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ---- Helpers ----

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
