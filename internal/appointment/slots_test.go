package appointment

import (
	"errors"
	"reflect"
	"testing"
)

func clocks(t *testing.T, values ...string) []Clock {
	t.Helper()
	out := make([]Clock, len(values))
	for i, v := range values {
		c, err := ParseClock(v)
		if err != nil {
			t.Fatalf("parse %q: %v", v, err)
		}
		out[i] = c
	}
	return out
}

func TestGenerateSlots(t *testing.T) {
	tests := []struct {
		name     string
		start    string
		end      string
		duration int
		want     []string
	}{
		{"exact fit", "08:00", "09:00", 30, []string{"08:00", "08:30"}},
		{"overshooting slot excluded", "08:00", "08:45", 30, []string{"08:00"}},
		{"window shorter than duration", "08:00", "08:20", 30, []string{}},
		{"odd duration", "09:10", "10:00", 20, []string{"09:10", "09:30"}},
		{"until end of day", "23:00", "23:59", 15, []string{"23:00", "23:15", "23:30"}},
		{"closing at midnight", "23:00", "24:00", 30, []string{"23:00", "23:30"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateSlots(MustClock(tt.start), MustClock(tt.end), tt.duration)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := clocks(t, tt.want...)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}

func TestGenerateSlots_Properties(t *testing.T) {
	for start := Clock(0); start < minutesPerDay; start += 37 {
		for end := start + 1; end < minutesPerDay; end += 53 {
			for _, d := range []int{1, 5, 15, 30, 45, 60, 90} {
				slots, err := GenerateSlots(start, end, d)
				if err != nil {
					t.Fatalf("GenerateSlots(%s, %s, %d): %v", start, end, d, err)
				}
				if want := int(end-start) / d; len(slots) != want {
					t.Fatalf("GenerateSlots(%s, %s, %d): got %d slots, want %d", start, end, d, len(slots), want)
				}
				for i, s := range slots {
					if s < start || s.Add(d) > end {
						t.Fatalf("slot %s outside [%s, %s) for duration %d", s, start, end, d)
					}
					if i > 0 && s-slots[i-1] != Clock(d) {
						t.Fatalf("slots %s and %s are not %d minutes apart", slots[i-1], s, d)
					}
				}

				again, _ := GenerateSlots(start, end, d)
				if !reflect.DeepEqual(slots, again) {
					t.Fatalf("GenerateSlots(%s, %s, %d) is not deterministic", start, end, d)
				}
			}
		}
	}
}

func TestGenerateSlots_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		start, end Clock
		duration   int
	}{
		{"zero duration", MustClock("08:00"), MustClock("09:00"), 0},
		{"negative duration", MustClock("08:00"), MustClock("09:00"), -15},
		{"end equals start", MustClock("08:00"), MustClock("08:00"), 30},
		{"end before start", MustClock("09:00"), MustClock("08:00"), 30},
		{"out of range", MustClock("08:00"), Clock(minutesPerDay + 10), 30},
		{"starts at end of day", EndOfDay, EndOfDay, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GenerateSlots(tt.start, tt.end, tt.duration)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestMarkOccupancy(t *testing.T) {
	day := Date{Year: 2025, Month: 3, Day: 10}
	times := clocks(t, "08:00", "08:30", "09:00")
	appts := []Appointment{
		{ID: 1, ScheduledAt: Instant{Date: day, Time: MustClock("08:00")}, Status: StatusScheduled},
		{ID: 2, ScheduledAt: Instant{Date: day, Time: MustClock("08:30")}, Status: StatusCancelled},
		{ID: 3, ScheduledAt: Instant{Date: day, Time: MustClock("09:00")}, Status: StatusCompleted},
		{ID: 4, ScheduledAt: Instant{Date: day, Time: MustClock("08:15")}, Status: StatusScheduled},
	}

	got := MarkOccupancy(times, appts)
	want := []Slot{
		{Time: MustClock("08:00"), Occupied: true},
		{Time: MustClock("08:30"), Occupied: false},
		{Time: MustClock("09:00"), Occupied: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	if free := FreeTimes(got); !reflect.DeepEqual(free, clocks(t, "08:30")) {
		t.Fatalf("free times: got %v", free)
	}
}

func TestMarkOccupancy_DoesNotMutateInput(t *testing.T) {
	times := clocks(t, "08:00", "08:30")
	appts := []Appointment{{ScheduledAt: Instant{Time: MustClock("08:00")}, Status: StatusScheduled}}

	MarkOccupancy(times, appts)

	if !reflect.DeepEqual(times, clocks(t, "08:00", "08:30")) {
		t.Fatalf("slot input changed: %v", times)
	}
	if appts[0].Status != StatusScheduled {
		t.Fatalf("appointment input changed: %+v", appts[0])
	}
}

func TestWindowSlots_ConcatenatesInWindowOrder(t *testing.T) {
	windows := []AvailabilityWindow{
		{StartTime: MustClock("10:00"), EndTime: MustClock("11:00"), SlotDuration: 30},
		{StartTime: MustClock("08:00"), EndTime: MustClock("08:40"), SlotDuration: 20},
		{StartTime: MustClock("10:30"), EndTime: MustClock("11:00"), SlotDuration: 30},
	}

	got, err := windowSlots(windows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := clocks(t, "10:00", "10:30", "08:00", "08:20", "10:30")
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
