package httpapi

import (
	"net/http"
	"time"

	"pillbox/internal/models"
)

type scheduleRequest struct {
	PatientID      int64            `json:"patient_id"`
	MedicationName string           `json:"medication_name"`
	Dosage         string           `json:"dosage"`
	Compartment    int              `json:"compartment"`
	Time           string           `json:"time"`
	Frequency      models.Frequency `json:"frequency"`
	Weekdays       []int            `json:"weekdays"`
	StartDate      string           `json:"start_date"`
	EndDate        string           `json:"end_date"`
}

func (h *PillboxHandler) toSchedule(req *scheduleRequest) (*models.Schedule, error) {
	start, err := models.ParseDate(req.StartDate, h.location)
	if err != nil {
		return nil, err
	}
	end, err := models.ParseDate(req.EndDate, h.location)
	if err != nil {
		return nil, err
	}
	s := &models.Schedule{
		PatientID:      req.PatientID,
		MedicationName: req.MedicationName,
		Dosage:         req.Dosage,
		Compartment:    req.Compartment,
		TimeOfDay:      req.Time,
		Frequency:      req.Frequency,
		StartDate:      start,
		EndDate:        end,
	}
	for _, wd := range req.Weekdays {
		if wd < 0 || wd > 6 {
			return nil, invalidWeekday(wd)
		}
		s.Weekdays = append(s.Weekdays, time.Weekday(wd))
	}
	return s, nil
}

// Schedules POST 创建；GET ?patient_id= 查询
func (h *PillboxHandler) Schedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req scheduleRequest
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
		s, err := h.toSchedule(&req)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		created, err := h.svc.Schedules.CreateSchedule(r.Context(), s)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, Ok(created))

	case http.MethodGet:
		pid, err := parseOptionalInt64(r.URL.Query().Get("patient_id"))
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		list, err := h.svc.Schedules.ListSchedules(r.Context(), pid)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(list))

	default:
		methodNotAllowed(w)
	}
}

// Schedule GET|PUT|DELETE /api/v1/schedules/{id}
func (h *PillboxHandler) Schedule(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		s, err := h.svc.Schedules.GetSchedule(r.Context(), id)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(s))

	case http.MethodPut:
		var req scheduleRequest
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
		s, err := h.toSchedule(&req)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		s.ID = id
		updated, err := h.svc.Schedules.UpdateSchedule(r.Context(), s)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(updated))

	case http.MethodDelete:
		if err := h.svc.Schedules.DeleteSchedule(r.Context(), id); err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{"id": id, "deleted": true}))

	default:
		methodNotAllowed(w)
	}
}
