package appointment

import (
	"context"
)

// Directory resolves the patient and doctor records the scheduler references.
type Directory interface {
	GetPatientByID(ctx context.Context, id int64) (*Patient, error)
	GetDoctorByID(ctx context.Context, id int64) (*Doctor, error)
}

// AvailabilityStore holds doctor availability windows.
type AvailabilityStore interface {
	InsertAvailability(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error)
	GetAvailabilityByID(ctx context.Context, id int64) (*AvailabilityWindow, error)
	// ListAvailability returns windows with from <= date <= to, ordered by date and start time.
	ListAvailability(ctx context.Context, doctorID int64, from, to Date) ([]AvailabilityWindow, error)
	DeleteAvailability(ctx context.Context, id int64) error
	PurgeAvailabilityBefore(ctx context.Context, day Date) (int64, error)
}

// NewAppointment is the input to Ledger.CreateAppointment.
type NewAppointment struct {
	PatientID   int64
	DoctorID    int64
	ScheduledAt Instant
}

// Ledger is the appointment store. CreateAppointment assigns the identity
// atomically and rejects a second active appointment on the same doctor
// instant (ErrSlotUnavailable) or the same patient, doctor and day
// (ErrDuplicateBookingSameDay).
type Ledger interface {
	CreateAppointment(ctx context.Context, n NewAppointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error)
	ListAppointmentsByDoctorDay(ctx context.Context, doctorID int64, day Date) ([]Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID int64) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID int64) ([]Appointment, error)
	// UpdateAppointmentStatus moves id from one status to another only if it
	// is still in from; otherwise it returns ErrAppointmentNotFound.
	UpdateAppointmentStatus(ctx context.Context, id int64, from, to Status, notes *ClinicalNotes) (*Appointment, error)
}

// EventLogger records an audit trail of scheduling events.
type EventLogger interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repository contains all storage interactions needed by the service.
type Repository interface {
	Directory
	AvailabilityStore
	Ledger
	EventLogger
}
