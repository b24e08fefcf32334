package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"ampnm/core-go/internal/access"
	"ampnm/core-go/internal/health"
	"ampnm/core-go/internal/metrics"
	"ampnm/core-go/internal/model"
	"ampnm/core-go/internal/session"
	"ampnm/core-go/internal/share"
	"ampnm/core-go/internal/topology"
)

// RoleHeader carries the caller's role as established by the fronting auth layer.
const RoleHeader = "X-User-Role"

// MapSession is the map lifecycle and mutation surface (*session.Session).
type MapSession interface {
	State() (session.State, string)
	Open(ctx context.Context, gate access.Gate, mapID string) error
	Close()
	ListMaps(ctx context.Context, gate access.Gate) ([]model.Map, error)
	CreateMap(ctx context.Context, gate access.Gate, name string) (model.Map, error)
	UpdateMap(ctx context.Context, gate access.Gate, id string, u model.MapUpdate) (model.Map, error)
	DeleteMap(ctx context.Context, gate access.Gate, id string) error
	Snapshot(gate access.Gate) (topology.Snapshot, error)
	ExportMap(gate access.Gate) (model.Graph, error)
	ImportMap(ctx context.Context, gate access.Gate, g model.Graph) error
	CreateDevice(ctx context.Context, gate access.Gate, d model.Device) (model.Device, error)
	UpdateDevice(ctx context.Context, gate access.Gate, id string, u model.DeviceUpdate) (model.Device, error)
	MoveDevice(ctx context.Context, gate access.Gate, id string, x, y float64) (model.Device, error)
	DeleteDevice(ctx context.Context, gate access.Gate, id string) error
	CreateConnection(ctx context.Context, gate access.Gate, c model.Connection) (model.Connection, error)
	UpdateConnection(ctx context.Context, gate access.Gate, id string, ct model.ConnectionType) (model.Connection, error)
	DeleteConnection(ctx context.Context, gate access.Gate, id string) error
	CheckNow(ctx context.Context, gate access.Gate, deviceID string) (model.Device, error)
	RefreshAll(ctx context.Context, gate access.Gate) (int, error)
}

// ShareLinks is *share.Manager.
type ShareLinks interface {
	Enable(ctx context.Context, gate access.Gate, mapID string) (share.Link, error)
	Disable(ctx context.Context, gate access.Gate, mapID string) (share.Link, error)
	URL(mapID string) string
	PublicView(ctx context.Context, mapID string) (model.Graph, error)
}

// StatusLogs is *statuslog.Service.
type StatusLogs interface {
	Query(ctx context.Context, gate access.Gate, mapID, deviceID, period string) ([]health.Bucket, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Options struct {
	RequestTimeout time.Duration
	// Readiness checks keyed by dependency name.
	Readiness map[string]ReadinessCheck
}

type Handler struct {
	log       zerolog.Logger
	session   MapSession
	share     ShareLinks
	statusLog StatusLogs
	stream    http.Handler
	metrics   *metrics.Metrics
	timeout   time.Duration
	readiness map[string]ReadinessCheck
}

// NewHandler wires the HTTP surface. stream and m may be nil.
func NewHandler(log zerolog.Logger, s MapSession, sl ShareLinks, logs StatusLogs, stream http.Handler, m *metrics.Metrics, opts Options) *Handler {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Handler{
		log:       log,
		session:   s,
		share:     sl,
		statusLog: logs,
		stream:    stream,
		metrics:   m,
		timeout:   timeout,
		readiness: opts.Readiness,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// Share link target.
	r.With(middleware.Timeout(h.timeout)).Get("/public_map.php", h.handlePublicMapPage)

	// API
	r.Route("/api", func(r chi.Router) {
		r.Use(h.withGate)

		r.Route("/v1", func(r chi.Router) {
			// Long-lived; kept out of the request timeout.
			r.Get("/session/stream", h.handleStream)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(h.timeout))

				r.Route("/maps", func(r chi.Router) {
					r.Get("/", h.handleListMaps)
					r.Post("/", h.handleCreateMap)
					r.Route("/{mapID}", func(r chi.Router) {
						r.Patch("/", h.handleUpdateMap)
						r.Delete("/", h.handleDeleteMap)
						r.Post("/share", h.handleEnableShare)
						r.Delete("/share", h.handleDisableShare)
						r.Get("/status-logs", h.handleStatusLogs)
					})
				})

				r.Get("/public/maps/{mapID}", h.handlePublicMap)

				r.Get("/session", h.handleSessionState)
				r.Post("/session/open", h.handleOpen)
				r.Post("/session/close", h.handleClose)
				r.Get("/session/snapshot", h.handleSnapshot)
				r.Get("/session/export", h.handleExport)
				r.Post("/session/import", h.handleImport)
				r.Post("/session/refresh", h.handleRefreshAll)

				r.Route("/devices", func(r chi.Router) {
					r.Post("/", h.handleCreateDevice)
					r.Route("/{id}", func(r chi.Router) {
						r.Patch("/", h.handleUpdateDevice)
						r.Delete("/", h.handleDeleteDevice)
						r.Put("/position", h.handleMoveDevice)
						r.Post("/check", h.handleCheckNow)
					})
				})

				r.Route("/edges", func(r chi.Router) {
					r.Post("/", h.handleCreateEdge)
					r.Route("/{id}", func(r chi.Router) {
						r.Patch("/", h.handleUpdateEdge)
						r.Delete("/", h.handleDeleteEdge)
					})
				})
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), time.Since(start))
		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

type gateKey struct{}

// withGate resolves the caller's role once per request.
func (h *Handler) withGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, err := access.ParseRole(r.Header.Get(RoleHeader))
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_role", err.Error(), map[string]any{"header": RoleHeader})
			return
		}
		ctx := context.WithValue(r.Context(), gateKey{}, access.NewGate(role))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func gateFrom(r *http.Request) access.Gate {
	g, _ := r.Context().Value(gateKey{}).(access.Gate)
	return g
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

// writeFailure maps domain errors onto the error envelope.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		ve *model.ValidationError
		le *model.LoadError
		re *model.RemoteError
	)
	switch {
	case errors.Is(err, model.ErrPermissionDenied):
		h.writeError(w, http.StatusForbidden, "permission_denied", err.Error(), map[string]any{"role": gateFrom(r).Role().String()})
	case errors.As(err, &ve):
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"field": ve.Field, "reason": ve.Reason})
	case errors.Is(err, model.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, model.ErrSessionClosed):
		h.writeError(w, http.StatusConflict, "session_closed", err.Error(), nil)
	case errors.As(err, &le):
		h.writeError(w, http.StatusServiceUnavailable, "load_failed", err.Error(), map[string]any{"map_id": le.MapID})
	case errors.As(err, &re):
		h.writeError(w, http.StatusBadGateway, "remote_error", re.Message, map[string]any{"action": re.Action, "status": re.Status})
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, "timeout", op+" timed out", nil)
	default:
		h.log.Error().Err(err).Str("operation", op).Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", op+" failed", nil)
	}
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

// decodeBody writes a 400 and returns false when the body is not valid JSON for dst.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSONStrict(r, dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return false
	}
	return true
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]any{}
	for name, check := range h.readiness {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "dependencies not ready", failed)
		return
	}

	st, mapID := h.session.State()
	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true, "session": st.String(), "map_id": mapID})
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		h.writeError(w, http.StatusServiceUnavailable, "stream_unavailable", "frame stream not configured", nil)
		return
	}
	if err := gateFrom(r).Check(access.Read, "stream frames"); err != nil {
		h.writeFailure(w, r, "stream frames", err)
		return
	}
	h.stream.ServeHTTP(w, r)
}

type mapCreate struct {
	Name string `json:"name"`
}

type mapList struct {
	Maps []model.Map `json:"maps"`
}

func (h *Handler) handleListMaps(w http.ResponseWriter, r *http.Request) {
	maps, err := h.session.ListMaps(r.Context(), gateFrom(r))
	if err != nil {
		h.writeFailure(w, r, "list maps", err)
		return
	}
	h.writeJSON(w, http.StatusOK, mapList{Maps: maps})
}

func (h *Handler) handleCreateMap(w http.ResponseWriter, r *http.Request) {
	var req mapCreate
	if !h.decodeBody(w, r, &req) {
		return
	}
	m, err := h.session.CreateMap(r.Context(), gateFrom(r), req.Name)
	if err != nil {
		h.writeFailure(w, r, "create map", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) handleUpdateMap(w http.ResponseWriter, r *http.Request) {
	var req model.MapUpdate
	if !h.decodeBody(w, r, &req) {
		return
	}
	m, err := h.session.UpdateMap(r.Context(), gateFrom(r), chi.URLParam(r, "mapID"), req)
	if err != nil {
		h.writeFailure(w, r, "update map", err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleDeleteMap(w http.ResponseWriter, r *http.Request) {
	if err := h.session.DeleteMap(r.Context(), gateFrom(r), chi.URLParam(r, "mapID")); err != nil {
		h.writeFailure(w, r, "delete map", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEnableShare(w http.ResponseWriter, r *http.Request) {
	link, err := h.share.Enable(r.Context(), gateFrom(r), chi.URLParam(r, "mapID"))
	if err != nil {
		h.writeFailure(w, r, "enable public view", err)
		return
	}
	h.writeJSON(w, http.StatusOK, link)
}

func (h *Handler) handleDisableShare(w http.ResponseWriter, r *http.Request) {
	link, err := h.share.Disable(r.Context(), gateFrom(r), chi.URLParam(r, "mapID"))
	if err != nil {
		h.writeFailure(w, r, "disable public view", err)
		return
	}
	h.writeJSON(w, http.StatusOK, link)
}

type statusLogResponse struct {
	MapID    string          `json:"map_id"`
	DeviceID string          `json:"device_id,omitempty"`
	Period   string          `json:"period"`
	Buckets  []health.Bucket `json:"buckets"`
}

func (h *Handler) handleStatusLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period := q.Get("period")
	if period == "" {
		period = string(health.Period24h)
	}
	mapID := chi.URLParam(r, "mapID")
	buckets, err := h.statusLog.Query(r.Context(), gateFrom(r), mapID, q.Get("device_id"), period)
	if err != nil {
		h.writeFailure(w, r, "status logs", err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusLogResponse{MapID: mapID, DeviceID: q.Get("device_id"), Period: period, Buckets: buckets})
}

func (h *Handler) handlePublicMap(w http.ResponseWriter, r *http.Request) {
	h.servePublicMap(w, r, chi.URLParam(r, "mapID"))
}

func (h *Handler) handlePublicMapPage(w http.ResponseWriter, r *http.Request) {
	h.servePublicMap(w, r, r.URL.Query().Get("map_id"))
}

// servePublicMap needs no role; the store decides whether the map is shared.
func (h *Handler) servePublicMap(w http.ResponseWriter, r *http.Request, mapID string) {
	g, err := h.share.PublicView(r.Context(), mapID)
	if err != nil {
		h.writeFailure(w, r, "public view", err)
		return
	}
	h.writeJSON(w, http.StatusOK, g)
}

type sessionState struct {
	State string `json:"state"`
	MapID string `json:"map_id,omitempty"`
}

type sessionOpen struct {
	MapID string `json:"map_id"`
}

func (h *Handler) handleSessionState(w http.ResponseWriter, r *http.Request) {
	if err := gateFrom(r).Check(access.Read, "view session"); err != nil {
		h.writeFailure(w, r, "view session", err)
		return
	}
	st, mapID := h.session.State()
	h.writeJSON(w, http.StatusOK, sessionState{State: st.String(), MapID: mapID})
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req sessionOpen
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := h.session.Open(r.Context(), gateFrom(r), req.MapID); err != nil {
		h.writeFailure(w, r, "open map", err)
		return
	}
	snap, err := h.session.Snapshot(gateFrom(r))
	if err != nil {
		h.writeFailure(w, r, "open map", err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := gateFrom(r).Check(access.Read, "close map"); err != nil {
		h.writeFailure(w, r, "close map", err)
		return
	}
	h.session.Close()
	h.writeJSON(w, http.StatusOK, sessionState{State: session.Closed.String()})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.session.Snapshot(gateFrom(r))
	if err != nil {
		h.writeFailure(w, r, "snapshot", err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	g, err := h.session.ExportMap(gateFrom(r))
	if err != nil {
		h.writeFailure(w, r, "export map", err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="map-`+g.Map.ID+`.json"`)
	h.writeJSON(w, http.StatusOK, g)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	var g model.Graph
	if !h.decodeBody(w, r, &g) {
		return
	}
	if err := h.session.ImportMap(r.Context(), gateFrom(r), g); err != nil {
		h.writeFailure(w, r, "import map", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"imported": true, "devices": len(g.Devices), "edges": len(g.Connections)})
}

func (h *Handler) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.session.RefreshAll(r.Context(), gateFrom(r))
	if err != nil {
		h.writeFailure(w, r, "refresh all", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"checked": n})
}

type devicePosition struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

func (h *Handler) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req model.Device
	if !h.decodeBody(w, r, &req) {
		return
	}
	d, err := h.session.CreateDevice(r.Context(), gateFrom(r), req)
	if err != nil {
		h.writeFailure(w, r, "create device", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var req model.DeviceUpdate
	if !h.decodeBody(w, r, &req) {
		return
	}
	d, err := h.session.UpdateDevice(r.Context(), gateFrom(r), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeFailure(w, r, "update device", err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *Handler) handleMoveDevice(w http.ResponseWriter, r *http.Request) {
	var req devicePosition
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.X == nil || req.Y == nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "x and y are required", nil)
		return
	}
	d, err := h.session.MoveDevice(r.Context(), gateFrom(r), chi.URLParam(r, "id"), *req.X, *req.Y)
	if err != nil {
		h.writeFailure(w, r, "move device", err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *Handler) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.session.DeleteDevice(r.Context(), gateFrom(r), chi.URLParam(r, "id")); err != nil {
		h.writeFailure(w, r, "delete device", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCheckNow(w http.ResponseWriter, r *http.Request) {
	d, err := h.session.CheckNow(r.Context(), gateFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, r, "check device", err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

type edgeUpdate struct {
	ConnectionType model.ConnectionType `json:"connection_type"`
}

func (h *Handler) handleCreateEdge(w http.ResponseWriter, r *http.Request) {
	var req model.Connection
	if !h.decodeBody(w, r, &req) {
		return
	}
	c, err := h.session.CreateConnection(r.Context(), gateFrom(r), req)
	if err != nil {
		h.writeFailure(w, r, "create edge", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleUpdateEdge(w http.ResponseWriter, r *http.Request) {
	var req edgeUpdate
	if !h.decodeBody(w, r, &req) {
		return
	}
	c, err := h.session.UpdateConnection(r.Context(), gateFrom(r), chi.URLParam(r, "id"), req.ConnectionType)
	if err != nil {
		h.writeFailure(w, r, "update edge", err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	if err := h.session.DeleteConnection(r.Context(), gateFrom(r), chi.URLParam(r, "id")); err != nil {
		h.writeFailure(w, r, "delete edge", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
