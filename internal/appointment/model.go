package appointment

import (
	"strings"
	"time"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Session identifies the authenticated actor behind a call. It is produced by
// the auth layer and passed explicitly into every Service operation.
type Session struct {
	ActorID int64
	Role    Role
}

func (s Session) IsPatient(id int64) bool { return s.Role == RolePatient && s.ActorID == id }
func (s Session) IsDoctor(id int64) bool  { return s.Role == RoleDoctor && s.ActorID == id }

func (s Session) valid() bool {
	return s.ActorID > 0 && (s.Role == RolePatient || s.Role == RoleDoctor)
}

type Patient struct {
	ID        int64
	FirstName string
	LastName  string
	Pesel     *string
	Contact   *string
	CreatedAt time.Time
}

func (p Patient) FullName() string { return strings.TrimSpace(p.FirstName + " " + p.LastName) }

type Doctor struct {
	ID             int64
	FirstName      string
	LastName       string
	Specialization *string
	CreatedAt      time.Time
}

func (d Doctor) FullName() string { return strings.TrimSpace(d.FirstName + " " + d.LastName) }

// AvailabilityWindow is a doctor-declared working interval on one day.
// Windows are never updated in place; replace them with delete and add.
type AvailabilityWindow struct {
	ID           int64     `json:"id"`
	DoctorID     int64     `json:"doctor_id"`
	Date         Date      `json:"date"`
	StartTime    Clock     `json:"start_time"`
	EndTime      Clock     `json:"end_time"`
	SlotDuration int       `json:"slot_duration"`
	CreatedAt    time.Time `json:"created_at"`
}

func (w AvailabilityWindow) Validate() error {
	if w.DoctorID <= 0 {
		return invalid("doctor_id", "is required")
	}
	if w.Date.IsZero() {
		return invalid("date", "is required")
	}
	if !w.StartTime.Valid() || !w.EndTime.ValidEnd() {
		return invalid("time", "must be within one day")
	}
	if w.StartTime >= w.EndTime {
		return invalid("end_time", "must be after start_time")
	}
	if w.SlotDuration <= 0 {
		return invalid("slot_duration", "must be a positive number of minutes")
	}
	return nil
}

// Slots runs the slot generator over the window.
func (w AvailabilityWindow) Slots() ([]Clock, error) {
	return GenerateSlots(w.StartTime, w.EndTime, w.SlotDuration)
}

type Appointment struct {
	ID              int64
	PatientID       int64
	DoctorID        int64
	ScheduledAt     Instant
	Status          Status
	Diagnosis       *string
	Recommendations *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Active reports whether the appointment holds its slot. Completed
// appointments keep their slot, only cancellation frees it.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}

// ClinicalNotes are attached when a visit is completed.
type ClinicalNotes struct {
	Diagnosis       string
	Recommendations string
}

// Slot is a derived candidate start time; it is never persisted.
type Slot struct {
	Time     Clock `json:"time"`
	Occupied bool  `json:"occupied"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *int64
	Payload       []byte
	CreatedAt     time.Time
}
