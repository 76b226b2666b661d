package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/slotsaarthi/opd-token-engine/internal/db"
	"github.com/slotsaarthi/opd-token-engine/internal/queue"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	repo := queue.NewPgRepository(pool)
	planner := queue.NewPlanner(repo, queue.DefaultPlannerConfig())

	doctors, err := seedDoctors(context.Background(), repo, 25)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}

	if err := seedTodaySlots(context.Background(), planner, doctors); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, repo *queue.PgRepository, count int) ([]queue.Doctor, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
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

	weekdaySets := [][]time.Weekday{
		{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		{time.Monday, time.Wednesday, time.Friday},
		{time.Tuesday, time.Thursday, time.Saturday},
		{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday},
	}

	durations := []int{10, 15, 20, 30}

	created := make([]queue.Doctor, 0, count)
	for i := 0; i < count; i++ {
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]
		d := &queue.Doctor{
			Name:                 "Dr. " + gofakeit.Name(),
			Specialty:            &specialty,
			ConsultationDuration: durations[gofakeit.Number(0, len(durations)-1)],
			WorkingDays:          weekdaySets[gofakeit.Number(0, len(weekdaySets)-1)],
			DayStart:             "09:00",
			DayEnd:               "17:00",
		}

		out, err := repo.CreateDoctor(ctx, d)
		if err != nil {
			return nil, err
		}
		created = append(created, *out)
	}

	log.Println("doctors seeded")
	return created, nil
}

func seedTodaySlots(ctx context.Context, planner *queue.Planner, doctors []queue.Doctor) error {
	today := time.Now()
	seeded := 0

	for _, d := range doctors {
		if !d.WorksOn(today.Weekday()) {
			continue
		}
		slots, err := planner.GenerateDailySlots(ctx, d.ID, today)
		if err != nil {
			return err
		}
		seeded += len(slots)
	}

	log.Printf("slots seeded: %d", seeded)
	return nil
}
