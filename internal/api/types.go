package api

import (
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type CreateAvailabilityRequest struct {
	Date         string `json:"date" validate:"required"`
	StartTime    string `json:"start_time" validate:"required"`
	EndTime      string `json:"end_time" validate:"required"`
	SlotDuration int    `json:"slot_duration" validate:"omitempty,min=1,max=480"`
}

type CreateAppointmentRequest struct {
	DoctorID int64  `json:"doctor_id" validate:"required,gt=0"`
	Date     string `json:"date" validate:"required"`
	Time     string `json:"time" validate:"required"`
}

type CompleteAppointmentRequest struct {
	Diagnosis       string `json:"diagnosis" validate:"required,max=2000"`
	Recommendations string `json:"recommendations" validate:"max=4000"`
}

type AppointmentResponse struct {
	ID              int64               `json:"id"`
	PatientID       int64               `json:"patient_id"`
	DoctorID        int64               `json:"doctor_id"`
	PatientName     string              `json:"patient_name,omitempty"`
	DoctorName      string              `json:"doctor_name,omitempty"`
	Specialization  string              `json:"specialization,omitempty"`
	ScheduledAt     appointment.Instant `json:"scheduled_at"`
	Status          string              `json:"status"`
	StatusLabel     string              `json:"status_label,omitempty"`
	Diagnosis       *string             `json:"diagnosis,omitempty"`
	Recommendations *string             `json:"recommendations,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// toAppointmentResponse fills StatusLabel only when a display language was asked for.
func toAppointmentResponse(a *appointment.Appointment, parties appointment.Parties, lang string) AppointmentResponse {
	resp := AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		PatientName:     parties.PatientName,
		DoctorName:      parties.DoctorName,
		Specialization:  parties.Specialization,
		ScheduledAt:     a.ScheduledAt,
		Status:          string(a.Status),
		Diagnosis:       a.Diagnosis,
		Recommendations: a.Recommendations,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if lang != "" {
		resp.StatusLabel = a.Status.Label(lang)
	}
	return resp
}

type FreeSlotsResponse struct {
	DoctorID int64               `json:"doctor_id"`
	Date     appointment.Date    `json:"date"`
	Slots    []appointment.Clock `json:"slots"`
}

type DaySlotsResponse struct {
	DoctorID int64              `json:"doctor_id"`
	Date     appointment.Date   `json:"date"`
	Slots    []appointment.Slot `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
