package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/slotsaarthi/opd-token-engine/internal/queue"
)

type BookTokenRequest struct {
	DoctorID      string `json:"doctor_id"`
	PatientName   string `json:"patient_name"`
	PatientType   string `json:"patient_type"`
	Date          string `json:"date,omitempty"`           // YYYY-MM-DD, defaults to today
	ScheduledTime string `json:"scheduled_time,omitempty"` // HH:MM
	SlotID        string `json:"slot_id,omitempty"`
}

type TokenResponse struct {
	TokenID       string     `json:"token_id"`
	PatientName   string     `json:"patient_name"`
	PatientType   string     `json:"patient_type"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	SlotID        *uuid.UUID `json:"slot_id,omitempty"`
	Date          string     `json:"date"`
	ScheduledTime string     `json:"scheduled_time"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

type QueuedTokenResponse struct {
	TokenResponse
	WaitMinutes int     `json:"wait_minutes"`
	LiveScore   float64 `json:"live_score"`
}

type QueueResponse struct {
	Doctor   DoctorResponse        `json:"doctor"`
	Date     string                `json:"date"`
	Current  *QueuedTokenResponse  `json:"current_token"`
	Next     *QueuedTokenResponse  `json:"next_token"`
	Waiting  []QueuedTokenResponse `json:"waiting_list"`
	Upcoming []QueuedTokenResponse `json:"upcoming"`
	Total    int                   `json:"total_count"`
}

type CallNextResponse struct {
	Completed  *TokenResponse `json:"completed,omitempty"`
	Called     *TokenResponse `json:"called,omitempty"`
	QueueEmpty bool           `json:"queue_empty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type InitializeSlotsRequest struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date,omitempty"`
}

type SlotResponse struct {
	ID             uuid.UUID `json:"id"`
	DoctorID       uuid.UUID `json:"doctor_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	MaxCapacity    int       `json:"max_capacity"`
	CurrentCount   int       `json:"current_count"`
	EmergencyCount int       `json:"emergency_count"`
	IsFull         bool      `json:"is_full"`
}

type AvailabilityResponse struct {
	Doctor         DoctorResponse         `json:"doctor"`
	Date           string                 `json:"date"`
	IsWorkingDay   bool                   `json:"is_working_day"`
	IsToday        bool                   `json:"is_today"`
	Message        string                 `json:"message,omitempty"`
	BookedCount    int                    `json:"booked_count"`
	AvailableCount int                    `json:"available_count"`
	Slots          []TimeSlotAvailability `json:"slots"`
}

type TimeSlotAvailability struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
	IsPast    bool   `json:"is_past"`
}

type CreateDoctorRequest struct {
	Name                 string  `json:"name"`
	Specialty            *string `json:"specialty,omitempty"`
	ConsultationDuration int     `json:"consultation_duration"`
	WorkingDays          []int   `json:"working_days"`
	DayStart             string  `json:"day_start"`
	DayEnd               string  `json:"day_end"`
}

type DoctorResponse struct {
	ID                   uuid.UUID `json:"id"`
	Name                 string    `json:"name"`
	Specialty            *string   `json:"specialty,omitempty"`
	ConsultationDuration int       `json:"consultation_duration"`
	WorkingDays          []int     `json:"working_days"`
	DayStart             string    `json:"day_start"`
	DayEnd               string    `json:"day_end"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

const dateLayout = "2006-01-02"

func tokenResponse(t *queue.Token) *TokenResponse {
	if t == nil {
		return nil
	}
	return &TokenResponse{
		TokenID:       t.TokenID,
		PatientName:   t.PatientName,
		PatientType:   string(t.Category),
		DoctorID:      t.DoctorID,
		SlotID:        t.SlotID,
		Date:          t.AppointmentDate.Format(dateLayout),
		ScheduledTime: t.ScheduledTime,
		Status:        string(t.Status),
		CreatedAt:     t.CreatedAt,
		ResolvedAt:    t.ResolvedAt,
	}
}

func queuedTokenResponse(t *queue.QueuedToken) *QueuedTokenResponse {
	if t == nil {
		return nil
	}
	return &QueuedTokenResponse{
		TokenResponse: *tokenResponse(&t.Token),
		WaitMinutes:   t.WaitMinutes,
		LiveScore:     t.LiveScore,
	}
}

func queuedTokenResponses(tokens []queue.QueuedToken) []QueuedTokenResponse {
	out := make([]QueuedTokenResponse, 0, len(tokens))
	for i := range tokens {
		out = append(out, *queuedTokenResponse(&tokens[i]))
	}
	return out
}

func doctorResponse(d *queue.Doctor) DoctorResponse {
	days := make([]int, 0, len(d.WorkingDays))
	for _, wd := range d.WorkingDays {
		days = append(days, int(wd))
	}
	return DoctorResponse{
		ID:                   d.ID,
		Name:                 d.Name,
		Specialty:            d.Specialty,
		ConsultationDuration: d.ConsultationDuration,
		WorkingDays:          days,
		DayStart:             d.DayStart,
		DayEnd:               d.DayEnd,
	}
}

func slotResponse(s *queue.Slot) SlotResponse {
	return SlotResponse{
		ID:             s.ID,
		DoctorID:       s.DoctorID,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		MaxCapacity:    s.MaxCapacity,
		CurrentCount:   s.CurrentCount,
		EmergencyCount: s.EmergencyCount,
		IsFull:         s.IsFull,
	}
}
