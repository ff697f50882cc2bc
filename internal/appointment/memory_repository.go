package appointment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository. It enforces the same
// identity and uniqueness guarantees as the Postgres schema under one mutex.
type MemoryRepository struct {
	mu sync.RWMutex

	patients     map[int64]Patient
	doctors      map[int64]Doctor
	availability map[int64]AvailabilityWindow
	appointments map[int64]Appointment
	events       []EventLog

	nextAvailabilityID int64
	nextAppointmentID  int64
	nextEventID        int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:     make(map[int64]Patient),
		doctors:      make(map[int64]Doctor),
		availability: make(map[int64]AvailabilityWindow),
		appointments: make(map[int64]Appointment),
	}
}

// AddPatient registers a directory record.
func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	r.patients[p.ID] = p
}

// AddDoctor registers a directory record.
func (r *MemoryRepository) AddDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	r.doctors[d.ID] = d
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

func (r *MemoryRepository) GetPatientByID(ctx context.Context, id int64) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetDoctorByID(ctx context.Context, id int64) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) InsertAvailability(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.doctors[w.DoctorID]; !ok {
		return nil, ErrDoctorNotFound
	}

	r.nextAvailabilityID++
	w.ID = r.nextAvailabilityID
	w.CreatedAt = time.Now()
	r.availability[w.ID] = w
	return &w, nil
}

func (r *MemoryRepository) GetAvailabilityByID(ctx context.Context, id int64) (*AvailabilityWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.availability[id]
	if !ok {
		return nil, ErrAvailabilityNotFound
	}
	return &w, nil
}

func (r *MemoryRepository) ListAvailability(ctx context.Context, doctorID int64, from, to Date) ([]AvailabilityWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []AvailabilityWindow
	for _, w := range r.availability {
		if w.DoctorID != doctorID || w.Date.Before(from) || w.Date.After(to) {
			continue
		}
		result = append(result, w)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
	return result, nil
}

func (r *MemoryRepository) DeleteAvailability(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.availability[id]; !ok {
		return ErrAvailabilityNotFound
	}
	delete(r.availability, id)
	return nil
}

func (r *MemoryRepository) PurgeAvailabilityBefore(ctx context.Context, day Date) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, w := range r.availability {
		if w.Date.Before(day) {
			delete(r.availability, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CreateAppointment(ctx context.Context, n NewAppointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.patients[n.PatientID]; !ok {
		return nil, ErrPatientNotFound
	}
	if _, ok := r.doctors[n.DoctorID]; !ok {
		return nil, ErrDoctorNotFound
	}

	for _, a := range r.appointments {
		if a.Active() && a.DoctorID == n.DoctorID && a.ScheduledAt == n.ScheduledAt {
			return nil, ErrSlotUnavailable
		}
	}
	for _, a := range r.appointments {
		if a.Active() && a.DoctorID == n.DoctorID && a.PatientID == n.PatientID &&
			a.ScheduledAt.Date == n.ScheduledAt.Date {
			return nil, ErrDuplicateBookingSameDay
		}
	}

	now := time.Now()
	r.nextAppointmentID++
	a := Appointment{
		ID:          r.nextAppointmentID,
		PatientID:   n.PatientID,
		DoctorID:    n.DoctorID,
		ScheduledAt: n.ScheduledAt,
		Status:      StatusScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.appointments[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) filterAppointments(keep func(Appointment) bool, less func(a, b Appointment) bool) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Appointment
	for _, a := range r.appointments {
		if keep(a) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })
	return result
}

func instantBefore(a, b Instant) bool {
	if a.Date != b.Date {
		return a.Date.Before(b.Date)
	}
	return a.Time < b.Time
}

func ascending(a, b Appointment) bool {
	if a.ScheduledAt != b.ScheduledAt {
		return instantBefore(a.ScheduledAt, b.ScheduledAt)
	}
	return a.ID < b.ID
}

func descending(a, b Appointment) bool {
	if a.ScheduledAt != b.ScheduledAt {
		return instantBefore(b.ScheduledAt, a.ScheduledAt)
	}
	return a.ID < b.ID
}

func (r *MemoryRepository) ListAppointmentsByDoctorDay(ctx context.Context, doctorID int64, day Date) ([]Appointment, error) {
	return r.filterAppointments(func(a Appointment) bool {
		return a.DoctorID == doctorID && a.ScheduledAt.Date == day
	}, ascending), nil
}

func (r *MemoryRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID int64) ([]Appointment, error) {
	return r.filterAppointments(func(a Appointment) bool {
		return a.DoctorID == doctorID
	}, ascending), nil
}

func (r *MemoryRepository) ListAppointmentsByPatient(ctx context.Context, patientID int64) ([]Appointment, error) {
	return r.filterAppointments(func(a Appointment) bool {
		return a.PatientID == patientID
	}, descending), nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(ctx context.Context, id int64, from, to Status, notes *ClinicalNotes) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}

	a.Status = to
	if notes != nil {
		diagnosis, recommendations := notes.Diagnosis, notes.Recommendations
		a.Diagnosis = &diagnosis
		a.Recommendations = &recommendations
	}
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextEventID++
	ev.ID = r.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events = append(r.events, ev)
	return nil
}
