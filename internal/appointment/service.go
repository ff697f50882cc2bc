package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/lock"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAvailabilityAdded    = "AVAILABILITY_ADDED"
	EventAvailabilityRemoved  = "AVAILABILITY_REMOVED"
	EventAvailabilityPurged   = "AVAILABILITY_PURGED"
)

var (
	firstDay = Date{Year: 1, Month: time.January, Day: 1}
	lastDay  = Date{Year: 9999, Month: time.December, Day: 31}
)

type Service struct {
	repo   Repository
	locker lock.Locker
	cfg    config.Config
	log    *zap.Logger
}

func NewService(repo Repository, locker lock.Locker, cfg config.Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultSlotDuration <= 0 {
		cfg.DefaultSlotDuration = 30
	}
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    logger.Named("scheduler"),
	}
}

// NewAvailability is a doctor's declaration of working hours on one day.
// A zero DoctorID means the doctor in the session; a zero SlotDuration
// means the configured default.
type NewAvailability struct {
	DoctorID     int64
	Date         Date
	StartTime    Clock
	EndTime      Clock
	SlotDuration int
}

// BookingRequest asks for one slot. A zero PatientID means the patient in the session.
type BookingRequest struct {
	PatientID int64
	DoctorID  int64
	Date      Date
	Time      Clock
}

func dayLockKey(doctorID int64, day Date) string {
	return fmt.Sprintf("doctor:%d:day:%s", doctorID, day)
}

func requireSession(sess Session) error {
	if !sess.valid() {
		return fmt.Errorf("%w: no authenticated actor", ErrForbidden)
	}
	return nil
}

// AddAvailability stores a new availability window for the session's doctor.
func (s *Service) AddAvailability(ctx context.Context, sess Session, in NewAvailability) (*AvailabilityWindow, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	if sess.Role != RoleDoctor {
		return nil, fmt.Errorf("%w: only doctors manage availability", ErrForbidden)
	}
	if in.DoctorID == 0 {
		in.DoctorID = sess.ActorID
	}
	if in.SlotDuration == 0 {
		in.SlotDuration = s.cfg.DefaultSlotDuration
	}

	w := AvailabilityWindow{
		DoctorID:     in.DoctorID,
		Date:         in.Date,
		StartTime:    in.StartTime,
		EndTime:      in.EndTime,
		SlotDuration: in.SlotDuration,
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if !sess.IsDoctor(w.DoctorID) {
		return nil, fmt.Errorf("%w: availability belongs to doctor %d", ErrForbidden, w.DoctorID)
	}

	if _, err := s.repo.GetDoctorByID(ctx, w.DoctorID); err != nil {
		return nil, storageErr("load doctor", err)
	}

	created, err := s.repo.InsertAvailability(ctx, w)
	if err != nil {
		return nil, storageErr("insert availability", err)
	}

	s.logEvent(ctx, nil, EventAvailabilityAdded, map[string]any{
		"availability_id": created.ID,
		"doctor_id":       created.DoctorID,
		"date":            created.Date.String(),
		"start_time":      created.StartTime.String(),
		"end_time":        created.EndTime.String(),
		"slot_duration":   created.SlotDuration,
	})
	s.log.Info("availability added",
		zap.Int64("availability_id", created.ID),
		zap.Int64("doctor_id", created.DoctorID),
		zap.Stringer("date", created.Date),
	)

	return created, nil
}

// DeleteAvailability removes one window. Existing appointments are kept.
func (s *Service) DeleteAvailability(ctx context.Context, sess Session, id int64) error {
	if err := requireSession(sess); err != nil {
		return err
	}
	if id <= 0 {
		return invalid("id", "must be positive")
	}

	w, err := s.repo.GetAvailabilityByID(ctx, id)
	if err != nil {
		return storageErr("load availability", err)
	}
	if !sess.IsDoctor(w.DoctorID) {
		return fmt.Errorf("%w: availability belongs to doctor %d", ErrForbidden, w.DoctorID)
	}

	if err := s.repo.DeleteAvailability(ctx, id); err != nil {
		return storageErr("delete availability", err)
	}

	s.logEvent(ctx, nil, EventAvailabilityRemoved, map[string]any{
		"availability_id": id,
		"doctor_id":       w.DoctorID,
		"date":            w.Date.String(),
	})
	s.log.Info("availability removed", zap.Int64("availability_id", id), zap.Int64("doctor_id", w.DoctorID))

	return nil
}

// ListAvailability returns a doctor's windows between from and to inclusive.
// Zero bounds are open.
func (s *Service) ListAvailability(ctx context.Context, sess Session, doctorID int64, from, to Date) ([]AvailabilityWindow, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	if doctorID <= 0 {
		return nil, invalid("doctor_id", "is required")
	}
	if from.IsZero() {
		from = firstDay
	}
	if to.IsZero() {
		to = lastDay
	}
	if to.Before(from) {
		return nil, invalid("to", "must not be before from")
	}

	windows, err := s.repo.ListAvailability(ctx, doctorID, from, to)
	if err != nil {
		return nil, storageErr("list availability", err)
	}
	return windows, nil
}

// ListDaySlots generates every slot of the doctor's windows on date, in
// window order, and marks the ones held by active appointments.
func (s *Service) ListDaySlots(ctx context.Context, sess Session, doctorID int64, date Date) ([]Slot, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	if doctorID <= 0 {
		return nil, invalid("doctor_id", "is required")
	}
	if date.IsZero() {
		return nil, invalid("date", "is required")
	}

	times, err := s.offeredTimes(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if len(times) == 0 {
		return []Slot{}, nil
	}

	appts, err := s.repo.ListAppointmentsByDoctorDay(ctx, doctorID, date)
	if err != nil {
		return nil, storageErr("list day appointments", err)
	}

	return MarkOccupancy(times, appts), nil
}

// ListFreeSlots returns the bookable times for a doctor on date. A day with
// no availability yields an empty list.
func (s *Service) ListFreeSlots(ctx context.Context, sess Session, doctorID int64, date Date) ([]Clock, error) {
	slots, err := s.ListDaySlots(ctx, sess, doctorID, date)
	if err != nil {
		return nil, err
	}
	return FreeTimes(slots), nil
}

func (s *Service) offeredTimes(ctx context.Context, doctorID int64, date Date) ([]Clock, error) {
	windows, err := s.repo.ListAvailability(ctx, doctorID, date, date)
	if err != nil {
		return nil, storageErr("list availability", err)
	}
	times, err := windowSlots(windows)
	if err != nil {
		return nil, storageErr("generate slots", fmt.Errorf("stored window is invalid: %w", err))
	}
	return times, nil
}

// CreateBooking books one slot for a patient. The occupancy and same-day
// checks run under the doctor-day lock, and the ledger insert rejects any
// conflict that still slips through.
func (s *Service) CreateBooking(ctx context.Context, sess Session, req BookingRequest) (*Appointment, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	if sess.Role != RolePatient {
		return nil, fmt.Errorf("%w: only patients book appointments", ErrForbidden)
	}
	if req.PatientID == 0 {
		req.PatientID = sess.ActorID
	}
	if err := validateBooking(req); err != nil {
		return nil, err
	}
	if !sess.IsPatient(req.PatientID) {
		return nil, fmt.Errorf("%w: cannot book for patient %d", ErrForbidden, req.PatientID)
	}

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, storageErr("load patient", err)
	}
	if _, err := s.repo.GetDoctorByID(ctx, req.DoctorID); err != nil {
		return nil, storageErr("load doctor", err)
	}

	instant := Instant{Date: req.Date, Time: req.Time}
	var created *Appointment

	err := s.locker.WithLock(ctx, dayLockKey(req.DoctorID, req.Date), func(lockCtx context.Context) error {
		times, err := s.offeredTimes(lockCtx, req.DoctorID, req.Date)
		if err != nil {
			return err
		}
		if !containsClock(times, req.Time) {
			return fmt.Errorf("%w: %s is not offered by doctor %d", ErrSlotUnavailable, instant, req.DoctorID)
		}

		// re-check against the ledger, a previously listed slot may be gone
		appts, err := s.repo.ListAppointmentsByDoctorDay(lockCtx, req.DoctorID, req.Date)
		if err != nil {
			return storageErr("list day appointments", err)
		}
		for _, a := range appts {
			if a.Active() && a.ScheduledAt.Time == req.Time {
				return ErrSlotUnavailable
			}
		}
		for _, a := range appts {
			if a.Active() && a.PatientID == req.PatientID {
				return ErrDuplicateBookingSameDay
			}
		}

		appt, err := s.repo.CreateAppointment(lockCtx, NewAppointment{
			PatientID:   req.PatientID,
			DoctorID:    req.DoctorID,
			ScheduledAt: instant,
		})
		if err != nil {
			return storageErr("create appointment", err)
		}
		created = appt

		s.logEvent(lockCtx, &appt.ID, EventAppointmentCreated, map[string]any{
			"patient_id":   req.PatientID,
			"doctor_id":    req.DoctorID,
			"scheduled_at": instant.String(),
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, &StorageError{Op: "lock doctor day", Err: err}
		}
		return nil, storageErr("create booking", err)
	}

	s.log.Info("appointment booked",
		zap.Int64("appointment_id", created.ID),
		zap.Int64("patient_id", created.PatientID),
		zap.Int64("doctor_id", created.DoctorID),
		zap.Stringer("scheduled_at", created.ScheduledAt),
	)

	return created, nil
}

func validateBooking(req BookingRequest) error {
	if req.PatientID <= 0 {
		return invalid("patient_id", "is required")
	}
	if req.DoctorID <= 0 {
		return invalid("doctor_id", "is required")
	}
	if req.Date.IsZero() {
		return invalid("date", "is required")
	}
	if !req.Time.Valid() {
		return invalid("time", "must be within one day")
	}
	return nil
}

func containsClock(times []Clock, c Clock) bool {
	for _, t := range times {
		if t == c {
			return true
		}
	}
	return false
}

// CancelBooking moves a scheduled appointment of the session's patient to cancelled.
func (s *Service) CancelBooking(ctx context.Context, sess Session, id int64) (*Appointment, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}

	appt, err := s.loadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsPatient(appt.PatientID) {
		return nil, fmt.Errorf("%w: appointment %d belongs to another patient", ErrForbidden, id)
	}

	updated, err := s.transition(ctx, appt, StatusCancelled, nil)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, &updated.ID, EventAppointmentCancelled, map[string]any{
		"patient_id": updated.PatientID,
	})
	s.log.Info("appointment cancelled",
		zap.Int64("appointment_id", updated.ID),
		zap.Int64("patient_id", updated.PatientID),
	)

	return updated, nil
}

// CompleteBooking records the visit outcome and moves the appointment to completed.
func (s *Service) CompleteBooking(ctx context.Context, sess Session, id int64, notes ClinicalNotes) (*Appointment, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}

	appt, err := s.loadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsDoctor(appt.DoctorID) {
		return nil, fmt.Errorf("%w: appointment %d belongs to another doctor", ErrForbidden, id)
	}
	// a terminal appointment reports the transition, whatever the notes say
	if err := Transition(appt.Status, StatusCompleted); err != nil {
		return nil, err
	}

	notes.Diagnosis = strings.TrimSpace(notes.Diagnosis)
	notes.Recommendations = strings.TrimSpace(notes.Recommendations)
	if notes.Diagnosis == "" {
		return nil, invalid("diagnosis", "is required")
	}

	updated, err := s.transition(ctx, appt, StatusCompleted, &notes)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, &updated.ID, EventAppointmentCompleted, map[string]any{
		"doctor_id": updated.DoctorID,
	})
	s.log.Info("appointment completed",
		zap.Int64("appointment_id", updated.ID),
		zap.Int64("doctor_id", updated.DoctorID),
	)

	return updated, nil
}

func (s *Service) loadAppointment(ctx context.Context, id int64) (*Appointment, error) {
	if id <= 0 {
		return nil, invalid("id", "must be positive")
	}
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, storageErr("load appointment", err)
	}
	return appt, nil
}

// transition applies a state machine move with a compare-and-set update.
// Losing a race to a concurrent transition is an invalid transition.
func (s *Service) transition(ctx context.Context, appt *Appointment, to Status, notes *ClinicalNotes) (*Appointment, error) {
	if err := Transition(appt.Status, to); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to, notes)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment %d changed concurrently", ErrInvalidTransition, appt.ID)
		}
		return nil, storageErr("update appointment status", err)
	}
	return updated, nil
}

// GetAppointment returns one appointment to its patient or doctor.
func (s *Service) GetAppointment(ctx context.Context, sess Session, id int64) (*Appointment, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}

	appt, err := s.loadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsPatient(appt.PatientID) && !sess.IsDoctor(appt.DoctorID) {
		return nil, fmt.Errorf("%w: appointment %d", ErrForbidden, id)
	}
	return appt, nil
}

// ListAppointments returns the session actor's appointments: a patient's
// newest first, a doctor's in calendar order.
func (s *Service) ListAppointments(ctx context.Context, sess Session) ([]Appointment, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}

	var (
		appts []Appointment
		err   error
	)
	switch sess.Role {
	case RolePatient:
		appts, err = s.repo.ListAppointmentsByPatient(ctx, sess.ActorID)
	case RoleDoctor:
		appts, err = s.repo.ListAppointmentsByDoctor(ctx, sess.ActorID)
	}
	if err != nil {
		return nil, storageErr("list appointments", err)
	}
	return appts, nil
}

// Parties names the patient and doctor of one appointment.
type Parties struct {
	PatientName    string
	DoctorName     string
	Specialization string
}

// DescribeParties resolves display names for appts through the directory,
// keyed by appointment id. Each person is looked up once per call; a missing
// record leaves its name empty.
func (s *Service) DescribeParties(ctx context.Context, appts []Appointment) (map[int64]Parties, error) {
	patients := make(map[int64]*Patient)
	doctors := make(map[int64]*Doctor)
	out := make(map[int64]Parties, len(appts))

	for _, a := range appts {
		p, seen := patients[a.PatientID]
		if !seen {
			found, err := s.repo.GetPatientByID(ctx, a.PatientID)
			if err != nil && !errors.Is(err, ErrPatientNotFound) {
				return nil, storageErr("describe patient", err)
			}
			p = found
			patients[a.PatientID] = p
		}

		d, seen := doctors[a.DoctorID]
		if !seen {
			found, err := s.repo.GetDoctorByID(ctx, a.DoctorID)
			if err != nil && !errors.Is(err, ErrDoctorNotFound) {
				return nil, storageErr("describe doctor", err)
			}
			d = found
			doctors[a.DoctorID] = d
		}

		var parties Parties
		if p != nil {
			parties.PatientName = p.FullName()
		}
		if d != nil {
			parties.DoctorName = d.FullName()
			if d.Specialization != nil {
				parties.Specialization = *d.Specialization
			}
		}
		out[a.ID] = parties
	}
	return out, nil
}

// PurgeExpiredAvailability deletes windows older than the retention period
// counted back from today. It is run by the housekeeper, not by users.
func (s *Service) PurgeExpiredAvailability(ctx context.Context, today Date) (int64, error) {
	cutoff := today.AddDays(-s.cfg.AvailabilityRetention)

	n, err := s.repo.PurgeAvailabilityBefore(ctx, cutoff)
	if err != nil {
		return 0, storageErr("purge availability", err)
	}

	if n > 0 {
		s.logEvent(ctx, nil, EventAvailabilityPurged, map[string]any{
			"before":  cutoff.String(),
			"removed": n,
		})
	}
	s.log.Info("availability purged", zap.Stringer("before", cutoff), zap.Int64("removed", n))

	return n, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID *int64, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.Int64p("appointment_id", appointmentID),
			zap.Error(err),
		)
	}
}
