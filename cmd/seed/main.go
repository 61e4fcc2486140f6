package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/hackgods/appointment-scheduling-core/internal/appointment"
	"github.com/hackgods/appointment-scheduling-core/internal/db"
	"github.com/hackgods/appointment-scheduling-core/internal/notification"
	"github.com/hackgods/appointment-scheduling-core/pkg/logging"
)

var timeSlots = []string{
	"09:00-09:30", "09:30-10:00", "10:00-10:30", "10:30-11:00",
	"11:00-11:30", "14:00-14:30", "14:30-15:00", "15:00-15:30",
}

var statuses = []appointment.AppointmentStatus{
	appointment.StatusRequested,
	appointment.StatusScheduled,
	appointment.StatusConfirmed,
	appointment.StatusRescheduled,
	appointment.StatusCompleted,
	appointment.StatusCancelled,
}

func main() {
	_ = godotenv.Load()
	logger := logging.Default().With("service", "seed")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Error("POSTGRES_DSN is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 4)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	doctors := ids(faker, "doc", 10)
	patients := ids(faker, "pat", 200)

	if err := seedPreferences(ctx, notification.NewPgRepository(pool), faker, doctors, patients, logger); err != nil {
		logger.Error("seed preferences", "error", err)
		os.Exit(1)
	}
	if err := seedAppointments(ctx, appointment.NewPgRepository(pool), faker, doctors, patients, 1000, logger); err != nil {
		logger.Error("seed appointments", "error", err)
		os.Exit(1)
	}

	logger.Info("seed complete")
}

func ids(faker *gofakeit.Faker, prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%s", prefix, faker.LetterN(8))
	}
	return out
}

func seedPreferences(ctx context.Context, repo *notification.PgRepository, faker *gofakeit.Faker, doctors, patients []string, logger *logging.Logger) error {
	logger.Info("seeding notification preferences", "doctors", len(doctors), "patients", len(patients))

	voiceTypes := []notification.VoiceType{notification.VoiceTextToSpeech, notification.VoiceRecorded, notification.VoiceBoth}
	save := func(userID string, userType notification.UserType) error {
		pref := notification.DefaultPreference(userID, userType)
		pref.SMS = faker.Bool()
		pref.Voice = faker.Bool()
		pref.VoiceType = voiceTypes[faker.Number(0, len(voiceTypes)-1)]
		pref.DoNotDisturb.Enabled = faker.Bool()
		pref.UpdatedAt = time.Now().UTC()
		_, err := repo.UpsertPreference(ctx, &pref)
		return err
	}

	for _, id := range doctors {
		if err := save(id, notification.UserDoctor); err != nil {
			return err
		}
	}
	for _, id := range patients {
		if err := save(id, notification.UserPatient); err != nil {
			return err
		}
	}
	return nil
}

func seedAppointments(ctx context.Context, repo *appointment.PgRepository, faker *gofakeit.Faker, doctors, patients []string, count int, logger *logging.Logger) error {
	logger.Info("seeding appointments", "count", count)

	today := appointment.Day(time.Now().UTC())
	created, skipped := 0, 0
	for i := 0; i < count; i++ {
		status := statuses[faker.Number(0, len(statuses)-1)]
		offset := faker.Number(1, 30)
		if status == appointment.StatusCompleted {
			offset = -offset
		}
		patient := patients[faker.Number(0, len(patients)-1)]
		now := time.Now().UTC()

		_, err := repo.CreateAppointment(ctx, &appointment.Appointment{
			ID:              uuid.New(),
			PatientID:       patient,
			DoctorID:        doctors[faker.Number(0, len(doctors)-1)],
			AppointmentDate: today.AddDate(0, 0, offset),
			TimeSlot:        timeSlots[faker.Number(0, len(timeSlots)-1)],
			Status:          status,
			Reason:          faker.Sentence(6),
			Notes:           faker.Sentence(10),
			CreatedBy:       patient,
			UpdatedBy:       patient,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if errors.Is(err, appointment.ErrSlotAlreadyBooked) {
			skipped++
			continue
		}
		if err != nil {
			return err
		}
		created++
	}

	logger.Info("appointments seeded", "created", created, "skipped_conflicts", skipped)
	return nil
}
