package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/slotsaarthi/opd-token-engine/internal/queue"
	redisclient "github.com/slotsaarthi/opd-token-engine/internal/redis"
)

// Services bundles the engine components the handlers dispatch to.
type Services struct {
	Allocator *queue.Allocator
	Lifecycle *queue.Lifecycle
	Composer  *queue.Composer
	Planner   *queue.Planner
	Repo      queue.Repository
}

func bookTokenHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		if req.PatientName == "" {
			writeError(w, http.StatusBadRequest, "missing_patient_name", "patient_name is required")
			return
		}

		admit := queue.AdmitRequest{
			DoctorID:      doctorID,
			PatientName:   req.PatientName,
			Category:      queue.Category(req.PatientType),
			ScheduledTime: req.ScheduledTime,
		}

		if req.Date != "" {
			day, err := time.ParseInLocation(dateLayout, req.Date, time.Local)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			admit.Date = day
		}

		if req.SlotID != "" {
			slotID, err := uuid.Parse(req.SlotID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
				return
			}
			admit.SlotID = &slotID
		}

		tok, err := svc.Allocator.Admit(r.Context(), admit)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, tokenResponse(tok))
	}
}

func getTokenHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, err := svc.Repo.GetTokenByPublicID(r.Context(), chi.URLParam(r, "tokenID"))
		if err != nil {
			handleQueueError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse(tok))
	}
}

func cancelTokenHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, err := svc.Lifecycle.Cancel(r.Context(), chi.URLParam(r, "tokenID"))
		if err != nil {
			handleQueueError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse(tok))
	}
}

func noShowTokenHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, err := svc.Lifecycle.MarkNoShow(r.Context(), chi.URLParam(r, "tokenID"))
		if err != nil {
			handleQueueError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse(tok))
	}
}

func updateTokenStatusHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Status == "" {
			writeError(w, http.StatusBadRequest, "missing_status", "status is required")
			return
		}

		tok, err := svc.Lifecycle.ForceStatus(r.Context(), chi.URLParam(r, "tokenID"), queue.TokenStatus(req.Status))
		if err != nil {
			handleQueueError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse(tok))
	}
}

func getQueueHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		day, ok := parseDateParam(w, r)
		if !ok {
			return
		}

		snap, err := svc.Composer.Compose(r.Context(), doctorID, day)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		resp := QueueResponse{
			Doctor:   doctorResponse(snap.Doctor),
			Date:     snap.Date.Format(dateLayout),
			Current:  queuedTokenResponse(snap.Current),
			Next:     queuedTokenResponse(snap.Next),
			Waiting:  queuedTokenResponses(snap.Waiting),
			Upcoming: queuedTokenResponses(snap.Upcoming),
			Total:    snap.Total,
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func callNextHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		day, ok := parseDateParam(w, r)
		if !ok {
			return
		}

		result, err := svc.Lifecycle.CallNext(r.Context(), doctorID, day)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, CallNextResponse{
			Completed:  tokenResponse(result.Completed),
			Called:     tokenResponse(result.Called),
			QueueEmpty: result.QueueEmpty,
		})
	}
}

func initializeSlotsHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InitializeSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		var day time.Time
		if req.Date != "" {
			day, err = time.ParseInLocation(dateLayout, req.Date, time.Local)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
		}

		slots, err := svc.Planner.GenerateDailySlots(r.Context(), doctorID, day)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			out = append(out, slotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

func listSlotsHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		day, ok := parseDateParam(w, r)
		if !ok {
			return
		}
		if day.IsZero() {
			day = time.Now()
		}

		slots, err := svc.Repo.FindSlotsForDay(r.Context(), doctorID, day)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			out = append(out, slotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func availabilityHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		day, ok := parseDateParam(w, r)
		if !ok {
			return
		}

		avail, err := svc.Planner.FindAvailableTimes(r.Context(), doctorID, day)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		resp := AvailabilityResponse{
			Doctor:         doctorResponse(avail.Doctor),
			Date:           avail.Date.Format(dateLayout),
			IsWorkingDay:   avail.IsWorkingDay,
			IsToday:        avail.IsToday,
			BookedCount:    avail.BookedCount,
			AvailableCount: avail.AvailableCount(),
		}
		if !avail.IsWorkingDay {
			resp.Message = "doctor does not work on this day"
		}
		for _, t := range avail.Times {
			resp.Slots = append(resp.Slots, TimeSlotAvailability{
				Time:      t.Time,
				Available: t.Available,
				IsPast:    t.Past,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createDoctorHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateDoctorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "missing_name", "name is required")
			return
		}

		days := make([]time.Weekday, 0, len(req.WorkingDays))
		for _, d := range req.WorkingDays {
			if d < 0 || d > 6 {
				writeError(w, http.StatusBadRequest, "invalid_working_days", "working days must be 0 (Sunday) through 6 (Saturday)")
				return
			}
			days = append(days, time.Weekday(d))
		}

		doctor := &queue.Doctor{
			Name:                 req.Name,
			Specialty:            req.Specialty,
			ConsultationDuration: req.ConsultationDuration,
			WorkingDays:          days,
			DayStart:             req.DayStart,
			DayEnd:               req.DayEnd,
		}

		created, err := svc.Repo.CreateDoctor(r.Context(), doctor)
		if err != nil {
			handleQueueError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, doctorResponse(created))
	}
}

func listDoctorsHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.Repo.ListDoctors(r.Context())
		if err != nil {
			handleQueueError(w, err)
			return
		}

		out := make([]DoctorResponse, 0, len(doctors))
		for i := range doctors {
			out = append(out, doctorResponse(&doctors[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getDoctorHandler(svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		doctor, err := svc.Repo.GetDoctorByID(r.Context(), doctorID)
		if err != nil {
			handleQueueError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doctorResponse(doctor))
	}
}

func parseDateParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return time.Time{}, true
	}
	day, err := time.ParseInLocation(dateLayout, raw, time.Local)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return day, true
}

// handleQueueError maps engine error kinds to transport status codes.
func handleQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, queue.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, queue.ErrTokenNotFound):
		writeError(w, http.StatusNotFound, "token_not_found", err.Error())
	case errors.Is(err, queue.ErrNotWorkingDay):
		writeError(w, http.StatusConflict, "not_working_day", err.Error())
	case errors.Is(err, queue.ErrSlotFull):
		writeError(w, http.StatusConflict, "slot_full", err.Error())
	case errors.Is(err, queue.ErrOverflowExhausted):
		writeError(w, http.StatusConflict, "overflow_exhausted", err.Error())
	case errors.Is(err, queue.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.Is(err, queue.ErrSlotDateMismatch):
		writeError(w, http.StatusBadRequest, "slot_date_mismatch", err.Error())
	case errors.Is(err, queue.ErrSlotsExist):
		writeError(w, http.StatusConflict, "slots_already_initialized", err.Error())
	case errors.Is(err, queue.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "already_terminal", err.Error())
	case errors.Is(err, queue.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, queue.ErrInvalidCategory):
		writeError(w, http.StatusBadRequest, "invalid_patient_type", err.Error())
	case errors.Is(err, queue.ErrQueueBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "queue_busy", "queue is busy, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
