package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 基于标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler（用于 /metrics）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterHealthRoutes 健康检查
func (r *Router) RegisterHealthRoutes() {
	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}

// RegisterPillboxRoutes 注册药盒 API
func (r *Router) RegisterPillboxRoutes(h *PillboxHandler) {
	r.Handle("/api/v1/dispense", h.Dispense)
	r.Handle("/api/v1/intakes", h.Intakes)
	r.Handle("/api/v1/pill-intake", h.PillIntake)
	r.Handle("/api/v1/refill-status", h.RefillStatus)
	r.Handle("/api/v1/refill-status/export", h.RefillStatusExport)
	r.Handle("/api/v1/refill-logs", h.RefillLogs)
	r.Handle("/api/v1/alerts", h.Alerts)
	r.Handle("/api/v1/pill-events", h.PillEvents)
	r.Handle("/api/v1/schedules", h.Schedules)

	// /api/v1/alerts/{id}/resolve
	r.Handle("/api/v1/alerts/", func(w http.ResponseWriter, req *http.Request) {
		seg := pathSegments(req.URL.Path, "/api/v1/alerts/")
		if len(seg) != 2 || seg[1] != "resolve" {
			writeJSON(w, http.StatusNotFound, Fail("not found"))
			return
		}
		h.ResolveAlert(w, req, seg[0])
	})

	// /api/v1/schedules/{id}
	r.Handle("/api/v1/schedules/", func(w http.ResponseWriter, req *http.Request) {
		seg := pathSegments(req.URL.Path, "/api/v1/schedules/")
		if len(seg) != 1 {
			writeJSON(w, http.StatusNotFound, Fail("not found"))
			return
		}
		id, err := parseID(seg[0])
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		h.Schedule(w, req, id)
	})

	// /api/v1/patients/{id}/slots
	r.Handle("/api/v1/patients/", func(w http.ResponseWriter, req *http.Request) {
		seg := pathSegments(req.URL.Path, "/api/v1/patients/")
		if len(seg) != 2 || seg[1] != "slots" {
			writeJSON(w, http.StatusNotFound, Fail("not found"))
			return
		}
		id, err := parseID(seg[0])
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		h.PatientSlots(w, req, id)
	})
}
