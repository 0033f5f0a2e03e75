package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"pillbox/internal/clock"
	"pillbox/internal/models"
	"pillbox/internal/service"

	"go.uber.org/zap"
)

// PillboxHandler 药盒相关 API
type PillboxHandler struct {
	svc      *service.Services
	clock    clock.Clock
	location *time.Location
	logger   *zap.Logger
}

func NewPillboxHandler(svc *service.Services, clk clock.Clock, location *time.Location, logger *zap.Logger) *PillboxHandler {
	if location == nil {
		location = time.UTC
	}
	return &PillboxHandler{svc: svc, clock: clk, location: location, logger: logger}
}

// ============================================
// 出药命令
// ============================================

// Dispense POST body {"time":"15:30"|null,"compartment":1,"dose":2}；GET ?compartment=&dose= 立即出药
func (h *PillboxHandler) Dispense(w http.ResponseWriter, r *http.Request) {
	var req service.DispatchRequest
	switch r.Method {
	case http.MethodPost:
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
	case http.MethodGet:
		q := r.URL.Query()
		req.Compartment, _ = strconv.Atoi(q.Get("compartment"))
		req.Dose, _ = strconv.Atoi(q.Get("dose"))
		if t := q.Get("time"); t != "" {
			req.Time = &t
		}
	default:
		methodNotAllowed(w)
		return
	}

	res, err := h.svc.Dispatch.Dispatch(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

// ============================================
// 服药记录
// ============================================

type intakeRequest struct {
	ScheduleID int64   `json:"schedule_id"`
	Date       string  `json:"date"`
	Taken      bool    `json:"taken"`
	TakenTime  *string `json:"taken_time"`
}

// Intakes POST 记录；GET ?schedule_id= 查询
func (h *PillboxHandler) Intakes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req intakeRequest
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
		date := h.clock.Now().In(h.location)
		if req.Date != "" {
			d, err := models.ParseDate(req.Date, h.location)
			if err != nil {
				writeError(w, h.logger, err)
				return
			}
			date = d
		}
		rec, err := h.svc.Intakes.RecordIntake(r.Context(), req.ScheduleID, date, req.Taken, req.TakenTime)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(rec))

	case http.MethodGet:
		id, err := parseID(r.URL.Query().Get("schedule_id"))
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		list, err := h.svc.Intakes.ListIntakes(r.Context(), id)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(list))

	default:
		methodNotAllowed(w)
	}
}

type pillIntakeRequest struct {
	PatientID int64  `json:"patient_id"`
	PillName  string `json:"pill_name"`
	Status    string `json:"status"`
}

// PillIntake POST {patient_id, pill_name, status:"Taken"|"Missed"}
func (h *PillboxHandler) PillIntake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req pillIntakeRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	rec, err := h.svc.Intakes.RecordIntakeByMedication(r.Context(), req.PatientID, req.PillName, req.Status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(rec))
}

// ============================================
// 仓位状态与补药
// ============================================

type slotsRequest struct {
	Slots map[string]models.SlotState `json:"slots"`
	Merge bool                        `json:"merge"`
}

// PatientSlots PUT|GET /api/v1/patients/{id}/slots
func (h *PillboxHandler) PatientSlots(w http.ResponseWriter, r *http.Request, patientID int64) {
	switch r.Method {
	case http.MethodPut:
		var req slotsRequest
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
		st, err := h.svc.Slots.UpdateSlots(r.Context(), patientID, req.Slots, req.Merge)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(st))

	case http.MethodGet:
		st, err := h.svc.Slots.GetSlots(r.Context(), patientID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(st))

	default:
		methodNotAllowed(w)
	}
}

// RefillStatus GET 需要补药的患者
func (h *PillboxHandler) RefillStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	list, err := h.svc.Slots.QueryRefillsNeeded(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(list))
}

// RefillStatusExport GET 导出 xlsx
func (h *PillboxHandler) RefillStatusExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	list, err := h.svc.Slots.QueryRefillsNeeded(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	data, err := GenerateRefillStatusExport(list, h.location)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	filename := "refill_status_" + h.clock.Now().In(h.location).Format("20060102_150405") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type refillLogRequest struct {
	PillName  string `json:"pill_name"`
	Count     *int   `json:"count"`
	PatientID *int64 `json:"patient_id"`
}

// RefillLogs POST 追加；GET 查询
func (h *PillboxHandler) RefillLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req refillLogRequest
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
		if req.Count == nil {
			writeJSON(w, http.StatusBadRequest, FailKind("count is required", models.KindInvalidArgument))
			return
		}
		l, err := h.svc.Refills.LogRefill(r.Context(), req.PillName, *req.Count, req.PatientID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, Ok(l))

	case http.MethodGet:
		list, err := h.svc.Refills.ListRefillLogs(r.Context())
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(list))

	default:
		methodNotAllowed(w)
	}
}

// ============================================
// 提醒
// ============================================

// Alerts GET ?patient_id=&kind=&resolved=
func (h *PillboxHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	var filter models.AlertFilter
	var err error
	if filter.PatientID, err = parseOptionalInt64(q.Get("patient_id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if filter.Resolved, err = parseOptionalBool(q.Get("resolved")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if k := q.Get("kind"); k != "" {
		kind := models.AlertKind(k)
		if !kind.Valid() {
			writeJSON(w, http.StatusBadRequest, FailKind("unknown alert kind "+k, models.KindInvalidArgument))
			return
		}
		filter.Kind = &kind
	}

	list, err := h.svc.Alerts.ListAlerts(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(list))
}

// ResolveAlert POST /api/v1/alerts/{id}/resolve
func (h *PillboxHandler) ResolveAlert(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	a, err := h.svc.Alerts.ResolveAlert(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(a))
}

// PillEvents GET ?limit= 最近的审计事件
func (h *PillboxHandler) PillEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.svc.Audit.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(list))
}
