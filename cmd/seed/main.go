package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/lock"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

var specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// shifts are the working hours a seeded doctor may declare on a weekday.
var shifts = [][2]string{
	{"08:00", "12:00"},
	{"08:00", "16:00"},
	{"12:00", "18:00"},
	{"14:00", "20:00"},
}

func main() {
	doctors := flag.Int("doctors", 50, "doctors to create")
	patients := flag.Int("patients", 5000, "patients to create")
	days := flag.Int("days", 14, "days of availability to declare, starting today")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.MustNew("dev").Fatal("config load error", zap.Error(err))
	}

	logger := logging.MustNew(cfg.Env)
	defer func() { _ = logger.Sync() }()

	if cfg.PostgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{ApplicationName: "clinic-seed"})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	doctorIDs, err := seedDoctors(ctx, pool, *doctors, logger)
	if err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	patientIDs, err := seedPatients(ctx, pool, *patients, logger)
	if err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}

	svc := appointment.NewService(appointment.NewPgRepository(pool), lock.NewLocalLocker(), cfg, zap.NewNop())
	if err := seedAvailability(ctx, svc, doctorIDs, *days, logger); err != nil {
		logger.Fatal("seed availability", zap.Error(err))
	}

	printSampleTokens(cfg, doctorIDs, patientIDs)
	logger.Info("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, logger *zap.Logger) ([]int64, error) {
	logger.Info("seeding doctors", zap.Int("count", count))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		specialization := specializations[gofakeit.Number(0, len(specializations)-1)]

		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO doctors (first_name, last_name, specialization)
			VALUES ($1, $2, $3)
			RETURNING id
		`, gofakeit.FirstName(), gofakeit.LastName(), specialization).Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, logger *zap.Logger) ([]int64, error) {
	logger.Info("seeding patients", zap.Int("count", count))

	const batchSize = 500

	ids := make([]int64, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			var id int64
			err := tx.QueryRow(ctx, `
				INSERT INTO patients (first_name, last_name, pesel, contact)
				VALUES ($1, $2, $3, $4)
				RETURNING id
			`, gofakeit.FirstName(), gofakeit.LastName(), gofakeit.Numerify("###########"), gofakeit.Email()).Scan(&id)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		logger.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}

	return ids, nil
}

// seedAvailability declares one shift per weekday for every doctor through
// the scheduling service, so seeded windows pass the same validation as real ones.
func seedAvailability(ctx context.Context, svc *appointment.Service, doctorIDs []int64, days int, logger *zap.Logger) error {
	logger.Info("seeding availability", zap.Int("doctors", len(doctorIDs)), zap.Int("days", days))

	today := appointment.DateOf(time.Now())
	durations := []int{15, 20, 30, 30, 45}

	var windows int
	for _, doctorID := range doctorIDs {
		sess := appointment.Session{ActorID: doctorID, Role: appointment.RoleDoctor}
		duration := durations[gofakeit.Number(0, len(durations)-1)]

		for d := 0; d < days; d++ {
			day := today.AddDays(d)
			if wd := time.Date(day.Year, day.Month, day.Day, 0, 0, 0, 0, time.UTC).Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			shift := shifts[gofakeit.Number(0, len(shifts)-1)]

			_, err := svc.AddAvailability(ctx, sess, appointment.NewAvailability{
				Date:         day,
				StartTime:    appointment.MustClock(shift[0]),
				EndTime:      appointment.MustClock(shift[1]),
				SlotDuration: duration,
			})
			if err != nil {
				return fmt.Errorf("doctor %d on %s: %w", doctorID, day, err)
			}
			windows++
		}
	}

	logger.Info("availability seeded", zap.Int("windows", windows))
	return nil
}

func printSampleTokens(cfg config.Config, doctorIDs, patientIDs []int64) {
	if len(doctorIDs) == 0 || len(patientIDs) == 0 {
		return
	}
	secret := []byte(cfg.JWTSecret)

	doctorToken, err := api.IssueToken(secret, appointment.Session{ActorID: doctorIDs[0], Role: appointment.RoleDoctor}, 24*time.Hour)
	if err != nil {
		return
	}
	patientToken, err := api.IssueToken(secret, appointment.Session{ActorID: patientIDs[0], Role: appointment.RolePatient}, 24*time.Hour)
	if err != nil {
		return
	}

	fmt.Printf("doctor %d token:  %s\n", doctorIDs[0], doctorToken)
	fmt.Printf("patient %d token: %s\n", patientIDs[0], patientToken)
}
