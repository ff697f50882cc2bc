package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type handlers struct {
	svc *appointment.Service
	log *zap.Logger
}

// decode reads a JSON body into dst and runs struct validation on it.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", describeValidation(err))
		return false
	}
	return true
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return id, nil
}

func queryDate(r *http.Request, name string, required bool) (appointment.Date, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			return appointment.Date{}, fmt.Errorf("%s is required", name)
		}
		return appointment.Date{}, nil
	}
	return appointment.ParseDate(raw)
}

func (h *handlers) createAvailability(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())

	var req CreateAvailabilityRequest
	if !decode(w, r, &req) {
		return
	}

	in := appointment.NewAvailability{SlotDuration: req.SlotDuration}
	var err error
	if in.Date, err = appointment.ParseDate(req.Date); err != nil {
		h.handleError(w, r, err)
		return
	}
	if in.StartTime, err = appointment.ParseClock(req.StartTime); err != nil {
		h.handleError(w, r, err)
		return
	}
	if in.EndTime, err = appointment.ParseClock(req.EndTime); err != nil {
		h.handleError(w, r, err)
		return
	}

	window, err := h.svc.AddAvailability(r.Context(), sess, in)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, window)
}

func (h *handlers) deleteAvailability(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_availability_id", err.Error())
		return
	}

	if err := h.svc.DeleteAvailability(r.Context(), sess, id); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listAvailability(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())

	doctorID, err := pathID(r, "doctorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", err.Error())
		return
	}
	from, err := queryDate(r, "from", false)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	to, err := queryDate(r, "to", false)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	windows, err := h.svc.ListAvailability(r.Context(), sess, doctorID, from, to)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if windows == nil {
		windows = []appointment.AvailabilityWindow{}
	}
	writeJSON(w, http.StatusOK, windows)
}

// listSlots returns free slot times, or every slot with its occupancy when all=true.
func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())

	doctorID, err := pathID(r, "doctorID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", err.Error())
		return
	}
	date, err := queryDate(r, "date", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}

	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
		slots, err := h.svc.ListDaySlots(r.Context(), sess, doctorID, date)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, DaySlotsResponse{DoctorID: doctorID, Date: date, Slots: slots})
		return
	}

	free, err := h.svc.ListFreeSlots(r.Context(), sess, doctorID, date)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FreeSlotsResponse{DoctorID: doctorID, Date: date, Slots: free})
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())

	var req CreateAppointmentRequest
	if !decode(w, r, &req) {
		return
	}

	booking := appointment.BookingRequest{DoctorID: req.DoctorID}
	var err error
	if booking.Date, err = appointment.ParseDate(req.Date); err != nil {
		h.handleError(w, r, err)
		return
	}
	if booking.Time, err = appointment.ParseClock(req.Time); err != nil {
		h.handleError(w, r, err)
		return
	}

	appt, err := h.svc.CreateBooking(r.Context(), sess, booking)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeAppointment(w, r, http.StatusCreated, appt)
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())

	appts, err := h.svc.ListAppointments(r.Context(), sess)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp, err := h.describe(r, appts)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) writeAppointment(w http.ResponseWriter, r *http.Request, status int, appt *appointment.Appointment) {
	resp, err := h.describe(r, []appointment.Appointment{*appt})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, status, resp[0])
}

// describe attaches party names and, when ?lang is set, status labels.
func (h *handlers) describe(r *http.Request, appts []appointment.Appointment) ([]AppointmentResponse, error) {
	parties, err := h.svc.DescribeParties(r.Context(), appts)
	if err != nil {
		return nil, err
	}

	lang := r.URL.Query().Get("lang")
	resp := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		resp = append(resp, toAppointmentResponse(&appts[i], parties[appts[i].ID], lang))
	}
	return resp, nil
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), sess, id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeAppointment(w, r, http.StatusOK, appt)
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
		return
	}

	appt, err := h.svc.CancelBooking(r.Context(), sess, id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeAppointment(w, r, http.StatusOK, appt)
}

func (h *handlers) completeAppointment(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFrom(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
		return
	}

	var req CompleteAppointmentRequest
	if !decode(w, r, &req) {
		return
	}

	appt, err := h.svc.CompleteBooking(r.Context(), sess, id, appointment.ClinicalNotes{
		Diagnosis:       req.Diagnosis,
		Recommendations: req.Recommendations,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeAppointment(w, r, http.StatusOK, appt)
}

func (h *handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *appointment.ValidationError
		se *appointment.StorageError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "validation_error", ve.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrAvailabilityNotFound):
		writeError(w, http.StatusNotFound, "availability_not_found", err.Error())
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, appointment.ErrDuplicateBookingSameDay):
		writeError(w, http.StatusConflict, "duplicate_booking_same_day", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.As(err, &se):
		h.log.Error("storage failure", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage is temporarily unavailable, retry later")
	default:
		h.log.Error("unhandled error", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}
