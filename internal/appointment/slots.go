package appointment

// GenerateSlots returns the start times of every slot of durationMinutes that
// fits in [start, end). A slot is kept only if it ends no later than end.
func GenerateSlots(start, end Clock, durationMinutes int) ([]Clock, error) {
	if durationMinutes <= 0 {
		return nil, invalid("slot_duration", "must be a positive number of minutes")
	}
	if !start.Valid() || !end.ValidEnd() {
		return nil, invalid("time", "must be within one day")
	}
	if start >= end {
		return nil, invalid("end_time", "must be after start_time")
	}

	slots := make([]Clock, 0, int(end-start)/durationMinutes)
	for t := start; t.Add(durationMinutes) <= end; t = t.Add(durationMinutes) {
		slots = append(slots, t)
	}
	return slots, nil
}

// MarkOccupancy flags each slot whose time matches an active appointment of
// the same day. Cancelled appointments never occupy a slot.
func MarkOccupancy(times []Clock, dayAppointments []Appointment) []Slot {
	taken := make(map[Clock]struct{}, len(dayAppointments))
	for _, a := range dayAppointments {
		if a.Active() {
			taken[a.ScheduledAt.Time] = struct{}{}
		}
	}

	slots := make([]Slot, len(times))
	for i, t := range times {
		_, occupied := taken[t]
		slots[i] = Slot{Time: t, Occupied: occupied}
	}
	return slots
}

// FreeTimes keeps the unoccupied slots, preserving order.
func FreeTimes(slots []Slot) []Clock {
	free := make([]Clock, 0, len(slots))
	for _, s := range slots {
		if !s.Occupied {
			free = append(free, s.Time)
		}
	}
	return free
}

// windowSlots concatenates the generated slots of every window in window
// order. Overlapping windows are not deduplicated.
func windowSlots(windows []AvailabilityWindow) ([]Clock, error) {
	var all []Clock
	for _, w := range windows {
		times, err := w.Slots()
		if err != nil {
			return nil, err
		}
		all = append(all, times...)
	}
	return all, nil
}
