package appointment

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/lock"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const (
	doctorA  int64 = 1
	doctorB  int64 = 2
	patientX int64 = 10
	patientY int64 = 11
	patientZ int64 = 12
)

var testDay = Date{Year: 2025, Month: 3, Day: 10}

func doctorSession(id int64) Session  { return Session{ActorID: id, Role: RoleDoctor} }
func patientSession(id int64) Session { return Session{ActorID: id, Role: RolePatient} }

func newTestService(t *testing.T) (*Service, *MemoryRepository) {
	t.Helper()
	return newTestServiceWithLocker(t, lock.NewLocalLocker())
}

func newTestServiceWithLocker(t *testing.T, locker lock.Locker) (*Service, *MemoryRepository) {
	t.Helper()

	repo := NewMemoryRepository()
	repo.AddDoctor(Doctor{ID: doctorA, FirstName: "Anna", LastName: "Nowak"})
	repo.AddDoctor(Doctor{ID: doctorB, FirstName: "Jan", LastName: "Kowalski"})
	for _, id := range []int64{patientX, patientY, patientZ} {
		repo.AddPatient(Patient{ID: id, FirstName: "P", LastName: fmt.Sprint(id)})
	}

	cfg := config.Config{DefaultSlotDuration: 30, AvailabilityRetention: 30}
	return NewService(repo, locker, cfg, nil), repo
}

func addWindow(t *testing.T, svc *Service, doctorID int64, day Date, start, end string, duration int) *AvailabilityWindow {
	t.Helper()
	w, err := svc.AddAvailability(context.Background(), doctorSession(doctorID), NewAvailability{
		Date:         day,
		StartTime:    MustClock(start),
		EndTime:      MustClock(end),
		SlotDuration: duration,
	})
	if err != nil {
		t.Fatalf("add availability: %v", err)
	}
	return w
}

func book(svc *Service, patientID, doctorID int64, day Date, at string) (*Appointment, error) {
	return svc.CreateBooking(context.Background(), patientSession(patientID), BookingRequest{
		DoctorID: doctorID,
		Date:     day,
		Time:     MustClock(at),
	})
}

func freeSlots(t *testing.T, svc *Service, doctorID int64, day Date) []string {
	t.Helper()
	free, err := svc.ListFreeSlots(context.Background(), patientSession(patientX), doctorID, day)
	if err != nil {
		t.Fatalf("list free slots: %v", err)
	}
	out := make([]string, len(free))
	for i, c := range free {
		out[i] = c.String()
	}
	return out
}

func TestService_BookCancelRebookScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	addWindow(t, svc, doctorA, testDay, "08:00", "09:00", 30)

	if got := freeSlots(t, svc, doctorA, testDay); !reflect.DeepEqual(got, []string{"08:00", "08:30"}) {
		t.Fatalf("initial free slots: %v", got)
	}

	first, err := book(svc, patientX, doctorA, testDay, "08:00")
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if first.Status != StatusScheduled {
		t.Fatalf("expected scheduled, got %s", first.Status)
	}

	if got := freeSlots(t, svc, doctorA, testDay); !reflect.DeepEqual(got, []string{"08:30"}) {
		t.Fatalf("free slots after booking: %v", got)
	}

	if _, err := book(svc, patientY, doctorA, testDay, "08:00"); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	if _, err := svc.CancelBooking(ctx, patientSession(patientX), first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	second, err := book(svc, patientY, doctorA, testDay, "08:00")
	if err != nil {
		t.Fatalf("rebooking after cancel: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("rebooking must get a new identity")
	}
}

func TestService_ListFreeSlots_NoAvailability(t *testing.T) {
	svc, _ := newTestService(t)

	free, err := svc.ListFreeSlots(context.Background(), patientSession(patientX), doctorA, testDay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if free == nil || len(free) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", free)
	}
}

func TestService_ListFreeSlots_MultipleWindows(t *testing.T) {
	svc, _ := newTestService(t)
	addWindow(t, svc, doctorA, testDay, "12:00", "13:00", 30)
	addWindow(t, svc, doctorA, testDay, "08:00", "08:45", 30)
	addWindow(t, svc, doctorA, testDay.AddDays(1), "08:00", "09:00", 30)
	addWindow(t, svc, doctorB, testDay, "10:00", "11:00", 30)

	if _, err := book(svc, patientX, doctorA, testDay, "12:30"); err != nil {
		t.Fatalf("booking: %v", err)
	}

	got := freeSlots(t, svc, doctorA, testDay)
	if want := []string{"08:00", "12:00"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestService_ListDaySlots_MarksOccupancy(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	addWindow(t, svc, doctorA, testDay, "08:00", "09:30", 30)

	booked, err := book(svc, patientX, doctorA, testDay, "08:30")
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	if _, err := book(svc, patientY, doctorA, testDay, "09:00"); err != nil {
		t.Fatalf("booking: %v", err)
	}
	if _, err := svc.CompleteBooking(ctx, doctorSession(doctorA), booked.ID, ClinicalNotes{Diagnosis: "J06.9"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	slots, err := svc.ListDaySlots(ctx, doctorSession(doctorA), doctorA, testDay)
	if err != nil {
		t.Fatalf("list day slots: %v", err)
	}
	want := []Slot{
		{Time: MustClock("08:00"), Occupied: false},
		{Time: MustClock("08:30"), Occupied: true},
		{Time: MustClock("09:00"), Occupied: true},
	}
	if !reflect.DeepEqual(slots, want) {
		t.Fatalf("got %+v, want %+v", slots, want)
	}
}

func TestService_CreateBooking_SameDayDuplicatePolicy(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	addWindow(t, svc, doctorA, testDay, "08:00", "10:00", 30)
	addWindow(t, svc, doctorA, testDay.AddDays(1), "08:00", "10:00", 30)
	addWindow(t, svc, doctorB, testDay, "08:00", "10:00", 30)

	first, err := book(svc, patientX, doctorA, testDay, "08:00")
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}

	if _, err := book(svc, patientX, doctorA, testDay, "09:00"); !errors.Is(err, ErrDuplicateBookingSameDay) {
		t.Fatalf("expected ErrDuplicateBookingSameDay, got %v", err)
	}
	if _, err := book(svc, patientX, doctorA, testDay.AddDays(1), "09:00"); err != nil {
		t.Fatalf("different day must be accepted: %v", err)
	}
	if _, err := book(svc, patientX, doctorB, testDay, "09:00"); err != nil {
		t.Fatalf("different doctor must be accepted: %v", err)
	}

	if _, err := svc.CancelBooking(ctx, patientSession(patientX), first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := book(svc, patientX, doctorA, testDay, "09:30"); err != nil {
		t.Fatalf("booking after cancelling the same-day appointment must be accepted: %v", err)
	}
}

func TestService_CreateBooking_RejectsTimesNotOffered(t *testing.T) {
	svc, _ := newTestService(t)
	addWindow(t, svc, doctorA, testDay, "08:00", "08:45", 30)

	for _, at := range []string{"08:30", "08:15", "12:00"} {
		if _, err := book(svc, patientX, doctorA, testDay, at); !errors.Is(err, ErrSlotUnavailable) {
			t.Errorf("%s: expected ErrSlotUnavailable, got %v", at, err)
		}
	}
	if _, err := book(svc, patientX, doctorA, testDay.AddDays(1), "08:00"); !errors.Is(err, ErrSlotUnavailable) {
		t.Errorf("day without availability: expected ErrSlotUnavailable, got %v", err)
	}
}

func TestService_CreateBooking_WindowClosingAtMidnight(t *testing.T) {
	svc, _ := newTestService(t)
	addWindow(t, svc, doctorA, testDay, "23:00", "24:00", 30)

	if got := freeSlots(t, svc, doctorA, testDay); !reflect.DeepEqual(got, []string{"23:00", "23:30"}) {
		t.Fatalf("unexpected free slots %v", got)
	}
	if _, err := book(svc, patientX, doctorA, testDay, "23:30"); err != nil {
		t.Fatalf("booking the last slot of the day: %v", err)
	}
	if _, err := book(svc, patientY, doctorA, testDay, "24:00"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("24:00 start: expected validation error, got %v", err)
	}
}

func TestService_CreateBooking_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  BookingRequest
	}{
		{"missing doctor", BookingRequest{Date: testDay, Time: MustClock("08:00")}},
		{"missing date", BookingRequest{DoctorID: doctorA, Time: MustClock("08:00")}},
		{"time out of range", BookingRequest{DoctorID: doctorA, Date: testDay, Time: Clock(-5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateBooking(ctx, patientSession(patientX), tt.req)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_CreateBooking_UnknownParties(t *testing.T) {
	svc, _ := newTestService(t)
	addWindow(t, svc, doctorA, testDay, "08:00", "09:00", 30)

	if _, err := book(svc, 999, doctorA, testDay, "08:00"); !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
	if _, err := book(svc, patientX, 999, testDay, "08:00"); !errors.Is(err, ErrDoctorNotFound) {
		t.Fatalf("expected ErrDoctorNotFound, got %v", err)
	}
}

func TestService_CreateBooking_Authorization(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	addWindow(t, svc, doctorA, testDay, "08:00", "09:00", 30)

	req := BookingRequest{PatientID: patientY, DoctorID: doctorA, Date: testDay, Time: MustClock("08:00")}

	if _, err := svc.CreateBooking(ctx, patientSession(patientX), req); !errors.Is(err, ErrForbidden) {
		t.Fatalf("booking for another patient: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.CreateBooking(ctx, doctorSession(doctorA), req); !errors.Is(err, ErrForbidden) {
		t.Fatalf("doctor booking: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.CreateBooking(ctx, Session{}, req); !errors.Is(err, ErrForbidden) {
		t.Fatalf("anonymous booking: expected ErrForbidden, got %v", err)
	}
}

func TestService_CreateBooking_ConcurrentSameSlot(t *testing.T) {
	svc, repo := newTestService(t)
	assertSingleWinner(t, svc, repo)
}

func TestService_CreateBooking_ConcurrentSameSlotRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redisclient.NewRedisClient(redisclient.Options{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("connect miniredis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	svc, repo := newTestServiceWithLocker(t, redisclient.NewRedisLocker(client, 5*time.Second, 5*time.Second))
	assertSingleWinner(t, svc, repo)

	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected every lock released, found %v", keys)
	}
}

// assertSingleWinner races many patients for one slot and expects exactly
// one booking, with every loser told the slot is unavailable.
func assertSingleWinner(t *testing.T, svc *Service, repo *MemoryRepository) {
	t.Helper()
	addWindow(t, svc, doctorA, testDay, "08:00", "09:00", 30)

	const callers = 25
	for i := int64(0); i < callers; i++ {
		repo.AddPatient(Patient{ID: 100 + i})
	}

	var wg sync.WaitGroup
	errs := make([]error, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = book(svc, 100+int64(i), doctorA, testDay, "08:30")
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, unavailable int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSlotUnavailable):
			unavailable++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || unavailable != callers-1 {
		t.Fatalf("expected 1 success and %d unavailable, got %d and %d", callers-1, ok, unavailable)
	}

	appts, _ := repo.ListAppointmentsByDoctorDay(context.Background(), doctorA, testDay)
	if len(appts) != 1 {
		t.Fatalf("expected exactly one appointment in the ledger, got %d", len(appts))
	}
}

func TestService_CreateBooking_AssignsUniqueIdentities(t *testing.T) {
	svc, repo := newTestService(t)
	addWindow(t, svc, doctorA, testDay, "08:00", "16:00", 15)

	slots := freeSlots(t, svc, doctorA, testDay)
	for i := range slots {
		repo.AddPatient(Patient{ID: 200 + int64(i)})
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]bool)
	for i, at := range slots {
		wg.Add(1)
		go func(i int, at string) {
			defer wg.Done()
			appt, err := book(svc, 200+int64(i), doctorA, testDay, at)
			if err != nil {
				t.Errorf("booking %s: %v", at, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[appt.ID] {
				t.Errorf("duplicate id %d", appt.ID)
			}
			seen[appt.ID] = true
		}(i, at)
	}
	wg.Wait()

	if len(seen) != len(slots) {
		t.Fatalf("expected %d appointments, got %d", len(slots), len(seen))
	}
	if left := freeSlots(t, svc, doctorA, testDay); len(left) != 0 {
		t.Fatalf("expected the day to be full, still free: %v", left)
	}
}

func TestService_StateMachine(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	addWindow(t, svc, doctorA, testDay, "08:00", "10:00", 30)

	completed, err := book(svc, patientX, doctorA, testDay, "08:00")
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	cancelled, err := book(svc, patientY, doctorA, testDay, "08:30")
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	got, err := svc.CompleteBooking(ctx, doctorSession(doctorA), completed.ID, ClinicalNotes{
		Diagnosis:       "  Hypertension ",
		Recommendations: "Low sodium diet",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != StatusCompleted || got.Diagnosis == nil || *got.Diagnosis != "Hypertension" ||
		got.Recommendations == nil || *got.Recommendations != "Low sodium diet" {
		t.Fatalf("unexpected completed appointment: %+v", got)
	}

	if _, err := svc.CancelBooking(ctx, patientSession(patientY), cancelled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	notes := ClinicalNotes{Diagnosis: "again"}
	checks := []struct {
		name string
		call func() error
	}{
		{"complete completed", func() error {
			_, err := svc.CompleteBooking(ctx, doctorSession(doctorA), completed.ID, notes)
			return err
		}},
		{"cancel completed", func() error {
			_, err := svc.CancelBooking(ctx, patientSession(patientX), completed.ID)
			return err
		}},
		{"complete cancelled", func() error {
			_, err := svc.CompleteBooking(ctx, doctorSession(doctorA), cancelled.ID, notes)
			return err
		}},
		{"cancel cancelled", func() error {
			_, err := svc.CancelBooking(ctx, patientSession(patientY), cancelled.ID)
			return err
		}},
	}
	for _, c := range checks {
		if err := c.call(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s: expected ErrInvalidTransition, got %v", c.name, err)
		}
	}

	for id, want := range map[int64]Status{completed.ID: StatusCompleted, cancelled.ID: StatusCancelled} {
		appt, err := svc.GetAppointment(ctx, doctorSession(doctorA), id)
		if err != nil {
			t.Fatalf("get %d: %v", id, err)
		}
		if appt.Status != want {
			t.Errorf("appointment %d: status %s, want %s", id, appt.Status, want)
		}
	}
}

func TestService_CompletedAppointmentKeepsSlot(t *testing.T) {
	svc, _ := newTestService(t)
	addWindow(t, svc, doctorA, testDay, "08:00", "09:00", 30)

	appt, err := book(svc, patientX, doctorA, testDay, "08:00")
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	if _, err := svc.CompleteBooking(context.Background(), doctorSession(doctorA), appt.ID, ClinicalNotes{Diagnosis: "ok"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := book(svc, patientY, doctorA, testDay, "08:00"); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestService_TransitionErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	addWindow(t, svc, doctorA, testDay, "08:00", "09:00", 30)

	appt, err := book(svc, patientX, doctorA, testDay, "08:00")
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	if _, err := svc.CancelBooking(ctx, patientSession(patientX), 4242); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("unknown id: expected ErrAppointmentNotFound, got %v", err)
	}
	if _, err := svc.CancelBooking(ctx, patientSession(patientY), appt.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("other patient cancelling: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.CancelBooking(ctx, doctorSession(doctorA), appt.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("doctor cancelling: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.CompleteBooking(ctx, doctorSession(doctorB), appt.ID, ClinicalNotes{Diagnosis: "x"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("other doctor completing: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.CompleteBooking(ctx, patientSession(patientX), appt.ID, ClinicalNotes{Diagnosis: "x"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("patient completing: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.CompleteBooking(ctx, doctorSession(doctorA), appt.ID, ClinicalNotes{Diagnosis: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty diagnosis: expected validation error, got %v", err)
	}

	if _, err := svc.CancelBooking(ctx, patientSession(patientX), appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	for _, notes := range []ClinicalNotes{{}, {Diagnosis: "flu"}} {
		if _, err := svc.CompleteBooking(ctx, doctorSession(doctorA), appt.ID, notes); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("complete cancelled with %+v: expected ErrInvalidTransition, got %v", notes, err)
		}
	}
}

func TestService_ConcurrentCancelAndComplete(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	addWindow(t, svc, doctorA, testDay, "08:00", "09:00", 30)

	appt, err := book(svc, patientX, doctorA, testDay, "08:00")
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	var wg sync.WaitGroup
	var cancelErr, completeErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, cancelErr = svc.CancelBooking(ctx, patientSession(patientX), appt.ID)
	}()
	go func() {
		defer wg.Done()
		_, completeErr = svc.CompleteBooking(ctx, doctorSession(doctorA), appt.ID, ClinicalNotes{Diagnosis: "x"})
	}()
	wg.Wait()

	if (cancelErr == nil) == (completeErr == nil) {
		t.Fatalf("expected exactly one transition to win, got cancel=%v complete=%v", cancelErr, completeErr)
	}
	for _, err := range []error{cancelErr, completeErr} {
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("loser must fail with ErrInvalidTransition, got %v", err)
		}
	}
}

func TestService_Availability(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	w, err := svc.AddAvailability(ctx, doctorSession(doctorA), NewAvailability{
		Date:      testDay,
		StartTime: MustClock("08:00"),
		EndTime:   MustClock("10:00"),
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if w.SlotDuration != 30 || w.DoctorID != doctorA || w.ID == 0 {
		t.Fatalf("unexpected window: %+v", w)
	}

	invalidWindows := []NewAvailability{
		{Date: testDay, StartTime: MustClock("10:00"), EndTime: MustClock("09:00")},
		{Date: testDay, StartTime: MustClock("10:00"), EndTime: MustClock("10:00")},
		{Date: testDay, StartTime: MustClock("08:00"), EndTime: MustClock("09:00"), SlotDuration: -30},
		{StartTime: MustClock("08:00"), EndTime: MustClock("09:00")},
	}
	for _, in := range invalidWindows {
		if _, err := svc.AddAvailability(ctx, doctorSession(doctorA), in); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%+v: expected validation error, got %v", in, err)
		}
	}

	other := NewAvailability{DoctorID: doctorB, Date: testDay, StartTime: MustClock("08:00"), EndTime: MustClock("09:00")}
	if _, err := svc.AddAvailability(ctx, doctorSession(doctorA), other); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign doctor: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.AddAvailability(ctx, patientSession(patientX), other); !errors.Is(err, ErrForbidden) {
		t.Errorf("patient: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.AddAvailability(ctx, doctorSession(77), NewAvailability{Date: testDay, StartTime: MustClock("08:00"), EndTime: MustClock("09:00")}); !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("unknown doctor: expected ErrDoctorNotFound, got %v", err)
	}

	addWindow(t, svc, doctorA, testDay.AddDays(2), "08:00", "09:00", 30)
	addWindow(t, svc, doctorA, testDay, "07:00", "07:30", 30)

	windows, err := svc.ListAvailability(ctx, patientSession(patientX), doctorA, testDay, testDay.AddDays(1))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(windows) != 2 || windows[0].StartTime != MustClock("07:00") || windows[1].ID != w.ID {
		t.Fatalf("unexpected windows: %+v", windows)
	}
	if all, _ := svc.ListAvailability(ctx, patientSession(patientX), doctorA, Date{}, Date{}); len(all) != 3 {
		t.Fatalf("open range: expected 3 windows, got %d", len(all))
	}
	if _, err := svc.ListAvailability(ctx, patientSession(patientX), doctorA, testDay, testDay.AddDays(-1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("inverted range: expected validation error, got %v", err)
	}

	if err := svc.DeleteAvailability(ctx, doctorSession(doctorB), w.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign delete: expected ErrForbidden, got %v", err)
	}
	if err := svc.DeleteAvailability(ctx, doctorSession(doctorA), w.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteAvailability(ctx, doctorSession(doctorA), w.ID); !errors.Is(err, ErrAvailabilityNotFound) {
		t.Fatalf("second delete: expected ErrAvailabilityNotFound, got %v", err)
	}

	var added, removed int
	for _, ev := range repo.Events() {
		switch ev.EventType {
		case EventAvailabilityAdded:
			added++
		case EventAvailabilityRemoved:
			removed++
		}
	}
	if added != 3 || removed != 1 {
		t.Fatalf("expected 3 added and 1 removed events, got %d and %d", added, removed)
	}
}

func TestService_ListAppointments(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	addWindow(t, svc, doctorA, testDay, "08:00", "10:00", 30)
	addWindow(t, svc, doctorA, testDay.AddDays(1), "08:00", "10:00", 30)
	addWindow(t, svc, doctorB, testDay, "08:00", "10:00", 30)

	mustBook := func(patientID, doctorID int64, day Date, at string) *Appointment {
		t.Helper()
		a, err := book(svc, patientID, doctorID, day, at)
		if err != nil {
			t.Fatalf("booking: %v", err)
		}
		return a
	}
	early := mustBook(patientX, doctorA, testDay, "08:00")
	late := mustBook(patientX, doctorA, testDay.AddDays(1), "09:00")
	mustBook(patientY, doctorA, testDay, "09:30")
	mustBook(patientX, doctorB, testDay, "08:30")

	mine, err := svc.ListAppointments(ctx, patientSession(patientX))
	if err != nil {
		t.Fatalf("list patient: %v", err)
	}
	if len(mine) != 3 || mine[0].ID != late.ID {
		t.Fatalf("expected newest first for the patient, got %+v", mine)
	}

	agenda, err := svc.ListAppointments(ctx, doctorSession(doctorA))
	if err != nil {
		t.Fatalf("list doctor: %v", err)
	}
	if len(agenda) != 3 || agenda[0].ID != early.ID {
		t.Fatalf("expected calendar order for the doctor, got %+v", agenda)
	}

	if _, err := svc.GetAppointment(ctx, patientSession(patientY), early.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("unrelated patient: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.GetAppointment(ctx, doctorSession(doctorB), early.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("unrelated doctor: expected ErrForbidden, got %v", err)
	}
}

func TestService_DescribeParties(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	dermatology := "Dermatology"
	repo.AddDoctor(Doctor{ID: 3, FirstName: "Ola", LastName: "Lis", Specialization: &dermatology})
	addWindow(t, svc, doctorA, testDay, "08:00", "09:00", 30)
	addWindow(t, svc, 3, testDay, "08:00", "09:00", 30)

	first, err := book(svc, patientX, doctorA, testDay, "08:00")
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	second, err := book(svc, patientX, 3, testDay, "08:30")
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	parties, err := svc.DescribeParties(ctx, []Appointment{*first, *second, {ID: 99, PatientID: 999, DoctorID: 999}})
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	want := map[int64]Parties{
		first.ID:  {PatientName: "P 10", DoctorName: "Anna Nowak"},
		second.ID: {PatientName: "P 10", DoctorName: "Ola Lis", Specialization: "Dermatology"},
		99:        {},
	}
	if !reflect.DeepEqual(parties, want) {
		t.Fatalf("got %+v, want %+v", parties, want)
	}
}

func TestService_PurgeExpiredAvailability(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	today := Date{Year: 2025, Month: 6, Day: 1}

	addWindow(t, svc, doctorA, today.AddDays(-31), "08:00", "09:00", 30)
	addWindow(t, svc, doctorA, today.AddDays(-30), "08:00", "09:00", 30)
	addWindow(t, svc, doctorA, today, "08:00", "09:00", 30)

	n, err := svc.PurgeExpiredAvailability(ctx, today)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 window purged, got %d", n)
	}

	left, _ := svc.ListAvailability(ctx, doctorSession(doctorA), doctorA, Date{}, Date{})
	if len(left) != 2 {
		t.Fatalf("expected 2 windows left, got %d", len(left))
	}
}

type failingLedger struct {
	*MemoryRepository
}

func (failingLedger) ListAppointmentsByDoctorDay(context.Context, int64, Date) ([]Appointment, error) {
	return nil, errors.New("connection reset by peer")
}

func TestService_StorageErrorsAreDistinct(t *testing.T) {
	base, repo := newTestService(t)
	addWindow(t, base, doctorA, testDay, "08:00", "09:00", 30)

	svc := NewService(failingLedger{repo}, lock.NewLocalLocker(), config.Config{}, nil)

	_, err := book(svc, patientX, doctorA, testDay, "08:00")
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StorageError, got %T %v", err, err)
	}
	if isBusinessError(err) {
		t.Fatalf("storage failure must not look like a business error: %v", err)
	}

	if _, err := svc.ListFreeSlots(context.Background(), patientSession(patientX), doctorA, testDay); !errors.As(err, &se) {
		t.Fatalf("expected *StorageError from ListFreeSlots, got %v", err)
	}
}

type busyLocker struct{}

func (busyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return fmt.Errorf("%w: %s", lock.ErrNotAcquired, key)
}

func TestService_LockTimeoutIsStorageError(t *testing.T) {
	base, repo := newTestService(t)
	addWindow(t, base, doctorA, testDay, "08:00", "09:00", 30)

	svc := NewService(repo, busyLocker{}, config.Config{}, nil)

	_, err := book(svc, patientX, doctorA, testDay, "08:00")
	var se *StorageError
	if !errors.As(err, &se) || !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("expected storage error wrapping ErrNotAcquired, got %v", err)
	}
}
