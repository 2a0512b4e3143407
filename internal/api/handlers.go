package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	gwebsocket "github.com/gorilla/websocket" // Alias to avoid name conflict
	"go.uber.org/zap"

	"fleet-gateway/internal/auth"
	"fleet-gateway/internal/billing"
	"fleet-gateway/internal/data"
	"fleet-gateway/internal/dispatch"
	"fleet-gateway/internal/gauge"
	"fleet-gateway/internal/ingest"
	"fleet-gateway/internal/lifecycle"
	"fleet-gateway/internal/maintenance"
	"fleet-gateway/internal/scoring"
	"fleet-gateway/internal/storage"
	"fleet-gateway/internal/websocket"
)

const (
	maxIngestBody   = 1 << 20  // 1 MiB per telemetry payload
	maxSnapshotBody = 32 << 20 // 32 MiB per snapshot or workbook upload
)

const historyOnConnect = 50

var upgrader = gwebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler holds every dependency the HTTP surface needs.
type Handler struct {
	store       *storage.FleetStore
	records     *storage.RecordStore
	pipeline    *ingest.Pipeline
	scorer      *scoring.Scorer
	planner     *dispatch.Planner
	maintenance *maintenance.Engine
	lifecycle   *lifecycle.Engine
	hub         *websocket.Hub
	auth        *auth.Manager
	logger      *zap.Logger
	webDir      string

	billingMu sync.Mutex
	billing   *billing.Consolidator
}

type Deps struct {
	Store       *storage.FleetStore
	Records     *storage.RecordStore
	Pipeline    *ingest.Pipeline
	Scorer      *scoring.Scorer
	Planner     *dispatch.Planner
	Maintenance *maintenance.Engine
	Lifecycle   *lifecycle.Engine
	Hub         *websocket.Hub
	Auth        *auth.Manager
	Logger      *zap.Logger
	WebDir      string
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		store:       d.Store,
		records:     d.Records,
		pipeline:    d.Pipeline,
		scorer:      d.Scorer,
		planner:     d.Planner,
		maintenance: d.Maintenance,
		lifecycle:   d.Lifecycle,
		hub:         d.Hub,
		auth:        d.Auth,
		logger:      d.Logger,
		webDir:      d.WebDir,
		billing:     billing.NewConsolidator(),
	}
}

// HandleDataIngest receives a single telemetry reading.
func (h *Handler) HandleDataIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	res, err := h.pipeline.IngestTelemetry(r.Context(), body, "http", "")
	if err != nil {
		h.logger.Warn("telemetry rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "received",
		"asset_id": res.Point.AssetID,
		"alerts":   res.Alerts,
	})
}

// HandleSnapshot accepts a full GAUGE snapshot as JSON or CSV.
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	var (
		assets  []data.Asset
		rowErrs []data.ParseError
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/csv" {
		assets, rowErrs, err = data.ParseSnapshotCSV(bytes.NewReader(body))
	} else {
		assets, rowErrs, err = data.ParseSnapshot(body)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap := &gauge.Snapshot{FetchedAt: time.Now().UTC(), Assets: assets, RowErrors: rowErrs}
	writeJSON(w, http.StatusOK, h.pipeline.ApplySnapshot(r.Context(), snap, auth.Actor(r.Context())))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid login payload")
		return
	}
	role, err := h.auth.AuthenticateUser(req.Username, req.Password)
	if err != nil {
		h.logger.Info("login failed", zap.String("username", req.Username))
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	token, expires, err := h.auth.GenerateJWT(req.Username, role)
	if err != nil {
		h.logger.Error("issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cannot issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"role":       role,
		"expires_at": expires.UTC(),
	})
}

// HandleAssetData returns every asset with its evaluation and a fleet summary.
func (h *Handler) HandleAssetData(w http.ResponseWriter, r *http.Request) {
	assets := h.store.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"assets":      assets,
		"evaluations": h.scorer.EvaluateAll(assets),
		"summary":     h.scorer.Summarize(assets),
	})
}

func (h *Handler) HandleAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":      asset,
		"evaluation": h.scorer.Evaluate(asset),
		"history":    h.store.Recent(asset.ID, 0),
	})
}

func (h *Handler) HandleEquipmentStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.planner.Board(h.store.List()))
}

func (h *Handler) HandleRecommendations(w http.ResponseWriter, r *http.Request) {
	f := dispatch.Filter{}
	if c := r.URL.Query().Get("category"); c != "" {
		f.Category = data.NormalizeCategory(c)
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	writeJSON(w, http.StatusOK, h.planner.Recommend(h.store.List(), f))
}

func (h *Handler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := h.planner.FleetAlerts(h.store.List())
	if alerts == nil {
		alerts = []data.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) HandleMaintenancePredictions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.maintenance.PredictAll(h.store.List()))
}

func (h *Handler) HandleMaintenancePrediction(w http.ResponseWriter, r *http.Request) {
	asset, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.maintenance.Predict(asset))
}

func (h *Handler) HandleLifecycle(w http.ResponseWriter, r *http.Request) {
	asset, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	pred := h.maintenance.Predict(asset)
	assessment, err := h.lifecycle.Assess(asset, pred.HealthScore)
	if errors.Is(err, lifecycle.ErrMissingAcquisition) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

// HandleBillingImport consolidates one or more uploaded billing workbooks and
// applies the current rates to the fleet.
func (h *Handler) HandleBillingImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxSnapshotBody); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form with workbook files")
		return
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "file not found in request")
		return
	}

	var (
		imported []string
		parsed   [][]billing.Rate
		rates    int
		rowErrs  []billing.RowError
	)
	// every file must read cleanly before any rate reaches the consolidator
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "cannot open "+fh.Filename)
			return
		}
		fileRates, errs, err := billing.ReadWorkbook(f, fh.Filename)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, fh.Filename+": "+err.Error())
			return
		}
		imported = append(imported, fh.Filename)
		parsed = append(parsed, fileRates)
		rates += len(fileRates)
		rowErrs = append(rowErrs, errs...)
	}

	h.billingMu.Lock()
	defer h.billingMu.Unlock()
	var conflicts []billing.Conflict
	for _, fileRates := range parsed {
		conflicts = append(conflicts, h.billing.Add(fileRates)...)
	}

	applied, missing := h.store.ApplyRates(h.billing.Current())
	actor := auth.Actor(r.Context())
	if _, err := h.records.Audit(r.Context(), actor, "import", "billing", strings.Join(imported, ","),
		strconv.Itoa(rates)+" rates"); err != nil {
		h.logger.Warn("audit billing import failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"files":      imported,
		"rates":      rates,
		"row_errors": rowErrs,
		"conflicts":  conflicts,
		"applied":    applied,
		"missing":    missing,
		"totals":     h.billing.Totals(),
	})
}

func (h *Handler) HandleListIdeas(w http.ResponseWriter, r *http.Request) {
	ideas, err := h.records.ListIdeas(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if ideas == nil {
		ideas = []storage.Idea{}
	}
	writeJSON(w, http.StatusOK, ideas)
}

func (h *Handler) HandleCreateIdea(w http.ResponseWriter, r *http.Request) {
	var idea storage.Idea
	if err := json.NewDecoder(io.LimitReader(r.Body, maxIngestBody)).Decode(&idea); err != nil {
		writeError(w, http.StatusBadRequest, "invalid idea payload")
		return
	}
	created, err := h.records.CreateIdea(r.Context(), auth.Actor(r.Context()), idea)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := h.records.ListWorkflows(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if wfs == nil {
		wfs = []storage.Workflow{}
	}
	writeJSON(w, http.StatusOK, wfs)
}

func (h *Handler) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf storage.Workflow
	if err := json.NewDecoder(io.LimitReader(r.Body, maxIngestBody)).Decode(&wf); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow payload")
		return
	}
	created, err := h.records.CreateWorkflow(r.Context(), auth.Actor(r.Context()), wf)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) HandleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status storage.WorkflowStatus `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	wf, err := h.records.UpdateWorkflowStatus(r.Context(), auth.Actor(r.Context()), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := h.records.ListAudit(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"assets":  h.store.Len(),
		"clients": h.hub.ClientCount(r.Context()),
	})
}

// HandleWebSocket upgrades connections and registers clients with the hub.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := websocket.NewClient(h.hub, conn, h.logger)
	// History is queued before registration so the hub cannot have closed Send.
	h.sendInitialData(client)
	h.hub.RegisterClient(r.Context(), client)

	go client.WritePump()
	go client.ReadPump()
}

func (h *Handler) sendInitialData(client *websocket.Client) {
	recent := h.store.RecentAll(historyOnConnect)
	if len(recent) == 0 {
		return
	}
	msg, err := json.Marshal(websocket.Message{Type: "history", Payload: recent})
	if err != nil {
		h.logger.Error("marshal history", zap.Error(err))
		return
	}
	select {
	case client.Send <- msg:
	default:
		h.logger.Warn("websocket client buffer full, history skipped")
	}
}

// ServeWebUI serves the dashboard page.
func (h *Handler) ServeWebUI(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(h.webDir, "index.html"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrInvalidRecord):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
