package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	CancelRatio   float64
	CompleteRatio float64
	ReadRatio     float64
	PatientLimit  int
	DoctorLimit   int
	Days          int
	PostgresDSN   string
	JWTSecret     []byte
}

type bookedAppointment struct {
	ID        int64
	PatientID int64
	DoctorID  int64
}

type DataPool struct {
	Patients     []int64
	Doctors      []int64
	Dates        []appointment.Date
	mu           sync.Mutex
	appointments []bookedAppointment
}

func (dp *DataPool) AddAppointment(a bookedAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

// TakeRandomAppointment removes and returns a booked appointment, so each one
// gets at most one cancel or complete attempt.
func (dp *DataPool) TakeRandomAppointment(rng *rand.Rand) (bookedAppointment, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return bookedAppointment{}, false
	}
	idx := rng.Intn(len(dp.appointments))
	a := dp.appointments[idx]
	last := len(dp.appointments) - 1
	dp.appointments[idx] = dp.appointments[last]
	dp.appointments = dp.appointments[:last]
	return a, true
}

func (dp *DataPool) PeekRandomAppointment(rng *rand.Rand) (bookedAppointment, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return bookedAppointment{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	percentile := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], percentile(50), percentile(95)
}

type Metrics struct {
	FreeSlots   OperationMetrics
	Booking     OperationMetrics
	Cancel      OperationMetrics
	Complete    OperationMetrics
	ReadByID    OperationMetrics
	ListOwn     OperationMetrics
	Unavailable int64
	Duplicate   int64
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *zap.Logger
	metrics Metrics

	tokensMu sync.Mutex
	tokens   map[appointment.Session]string
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		logging.MustNew("dev").Fatal("failed to load base config", zap.Error(err))
	}

	logger := logging.MustNew(baseCfg.Env)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("complete", cfg.CompleteRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{ApplicationName: "clinic-simulate", MaxConns: 2})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}

	logger.Info("data pool loaded",
		zap.Int("patients", len(dataPool.Patients)),
		zap.Int("doctors", len(dataPool.Doctors)),
		zap.Int("days", len(dataPool.Dates)),
	)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		tokens: make(map[appointment.Session]string),
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig(baseCfg config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:"+baseCfg.HTTPPort),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.1),
		CompleteRatio: getFloat("SIM_COMPLETE_RATIO", 0.1),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit:  getInt("SIM_PATIENT_LIMIT", 4000),
		DoctorLimit:   getInt("SIM_DOCTOR_LIMIT", 20),
		Days:          getInt("SIM_DAYS", 5),
		PostgresDSN:   baseCfg.PostgresDSN,
		JWTSecret:     []byte(baseCfg.JWTSecret),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.CompleteRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.CompleteRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Days <= 0 {
		return fmt.Errorf("SIM_DAYS must be > 0")
	}
	return nil
}

// loadDataPool picks doctors that have availability in the simulated days,
// so that bookings contend for a small set of slots.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	today := appointment.DateOf(time.Now())
	for d := 0; d < cfg.Days; d++ {
		dataPool.Dates = append(dataPool.Dates, today.AddDays(d))
	}
	lastDay := dataPool.Dates[len(dataPool.Dates)-1]

	rows, err := pool.Query(ctx, `SELECT id FROM patients ORDER BY id LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT DISTINCT doctor_id FROM doctor_availability
		WHERE date BETWEEN $1::date AND $2::date
		ORDER BY doctor_id
		LIMIT $3
	`, today.String(), lastDay.String(), cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Doctors = append(dataPool.Doctors, id)
	}
	rows.Close()

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors with availability in the next %d days", cfg.Days)
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio+s.config.CompleteRatio:
				s.doComplete(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doReadByID(ctx, rng)
				} else {
					s.doListOwn(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) token(sess appointment.Session) (string, error) {
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()

	if tok, ok := s.tokens[sess]; ok {
		return tok, nil
	}
	tok, err := api.IssueToken(s.config.JWTSecret, sess, s.config.Duration+time.Hour)
	if err != nil {
		return "", err
	}
	s.tokens[sess] = tok
	return tok, nil
}

// call sends one request as sess and decodes a JSON response into out when
// the status is 2xx. Transport errors are reported as status 0.
func (s *Simulator) call(ctx context.Context, sess appointment.Session, method, path string, body, out any) (int, string) {
	tok, err := s.token(sess)
	if err != nil {
		return 0, ""
	}

	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, ""
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, ""
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return resp.StatusCode, e.Error
	}
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, ""
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patient := appointment.Session{ActorID: s.pool.Patients[rng.Intn(len(s.pool.Patients))], Role: appointment.RolePatient}
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	day := s.pool.Dates[rng.Intn(len(s.pool.Dates))]

	start := time.Now()
	var free api.FreeSlotsResponse
	status, _ := s.call(ctx, patient, http.MethodGet, fmt.Sprintf("/doctors/%d/slots?date=%s", doctorID, day), nil, &free)
	s.metrics.FreeSlots.Record(time.Since(start), status == http.StatusOK, false)
	if status != http.StatusOK || len(free.Slots) == 0 {
		return
	}

	// the first free slots are what most patients pick, which maximises contention
	pick := free.Slots[rng.Intn(min(3, len(free.Slots)))]

	start = time.Now()
	var appt api.AppointmentResponse
	status, code := s.call(ctx, patient, http.MethodPost, "/appointments", api.CreateAppointmentRequest{
		DoctorID: doctorID,
		Date:     day.String(),
		Time:     pick.String(),
	}, &appt)
	latency := time.Since(start)

	switch code {
	case "slot_unavailable":
		atomic.AddInt64(&s.metrics.Unavailable, 1)
	case "duplicate_booking_same_day":
		atomic.AddInt64(&s.metrics.Duplicate, 1)
	}

	success := status == http.StatusCreated
	if success {
		s.pool.AddAppointment(bookedAppointment{ID: appt.ID, PatientID: appt.PatientID, DoctorID: appt.DoctorID})
	}
	s.metrics.Booking.Record(latency, success, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	a, ok := s.pool.TakeRandomAppointment(rng)
	if !ok {
		return
	}
	patient := appointment.Session{ActorID: a.PatientID, Role: appointment.RolePatient}

	start := time.Now()
	status, _ := s.call(ctx, patient, http.MethodPost, fmt.Sprintf("/appointments/%d/cancel", a.ID), nil, nil)
	s.metrics.Cancel.Record(time.Since(start), status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doComplete(ctx context.Context, rng *rand.Rand) {
	a, ok := s.pool.TakeRandomAppointment(rng)
	if !ok {
		return
	}
	doctor := appointment.Session{ActorID: a.DoctorID, Role: appointment.RoleDoctor}

	start := time.Now()
	status, _ := s.call(ctx, doctor, http.MethodPost, fmt.Sprintf("/appointments/%d/complete", a.ID), api.CompleteAppointmentRequest{
		Diagnosis:       "Z00.0",
		Recommendations: "Follow-up in 6 months",
	}, nil)
	s.metrics.Complete.Record(time.Since(start), status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	a, ok := s.pool.PeekRandomAppointment(rng)
	if !ok {
		return
	}
	patient := appointment.Session{ActorID: a.PatientID, Role: appointment.RolePatient}

	start := time.Now()
	status, _ := s.call(ctx, patient, http.MethodGet, fmt.Sprintf("/appointments/%d", a.ID), nil, nil)
	s.metrics.ReadByID.Record(time.Since(start), status == http.StatusOK, false)
}

func (s *Simulator) doListOwn(ctx context.Context, rng *rand.Rand) {
	sess := appointment.Session{ActorID: s.pool.Patients[rng.Intn(len(s.pool.Patients))], Role: appointment.RolePatient}
	if rng.Intn(2) == 0 {
		sess = appointment.Session{ActorID: s.pool.Doctors[rng.Intn(len(s.pool.Doctors))], Role: appointment.RoleDoctor}
	}

	start := time.Now()
	status, _ := s.call(ctx, sess, http.MethodGet, "/appointments", nil, nil)
	s.metrics.ListOwn.Record(time.Since(start), status == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Free slots", &s.metrics.FreeSlots)
	printOperationReport("Booking", &s.metrics.Booking)
	if n := atomic.LoadInt64(&s.metrics.Unavailable); n > 0 {
		fmt.Printf("  Slot taken by a concurrent booking: %d\n", n)
	}
	if n := atomic.LoadInt64(&s.metrics.Duplicate); n > 0 {
		fmt.Printf("  Same-day duplicate rejected: %d\n\n", n)
	}
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Complete", &s.metrics.Complete)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List own", &s.metrics.ListOwn)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
