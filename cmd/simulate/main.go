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

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/appointment-scheduling-core/internal/auth"
	"github.com/hackgods/appointment-scheduling-core/pkg/logging"
)

type SimConfig struct {
	APIBaseURL    string
	JWTSecret     string
	Duration      time.Duration
	Workers       int
	RequestRatio  float64
	ScheduleRatio float64
	ConfirmRatio  float64
	ReadRatio     float64
	Patients      int
	DoctorIDs     []string
	TimeSlots     []string
	Days          int
}

type pendingAppointment struct {
	ID        uuid.UUID
	PatientID string
	DoctorID  string
}

// DataPool tracks the appointments created during the run so later
// operations have something to act on.
type DataPool struct {
	Patients []string

	mu        sync.Mutex
	requested []pendingAppointment
	scheduled []pendingAppointment
}

func (dp *DataPool) AddRequested(a pendingAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.requested = append(dp.requested, a)
}

func (dp *DataPool) AddScheduled(a pendingAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.scheduled = append(dp.scheduled, a)
}

func (dp *DataPool) RandomRequested(rng *rand.Rand) (pendingAppointment, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.requested) == 0 {
		return pendingAppointment{}, false
	}
	return dp.requested[rng.Intn(len(dp.requested))], true
}

func (dp *DataPool) TakeScheduled(rng *rand.Rand) (pendingAppointment, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.scheduled) == 0 {
		return pendingAppointment{}, false
	}
	i := rng.Intn(len(dp.scheduled))
	a := dp.scheduled[i]
	dp.scheduled = append(dp.scheduled[:i], dp.scheduled[i+1:]...)
	return a, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
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

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Request  OperationMetrics
	Schedule OperationMetrics
	Confirm  OperationMetrics
	List     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  *logging.Logger
	adminID string
}

func main() {
	logger := logging.Default().With("service", "simulate")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger.Info("simulator starting",
		"duration", cfg.Duration,
		"workers", cfg.Workers,
		"doctors", len(cfg.DoctorIDs),
		"slots", len(cfg.TimeSlots),
	)

	pool := &DataPool{}
	for i := 0; i < cfg.Patients; i++ {
		pool.Patients = append(pool.Patients, "sim-patient-"+strconv.Itoa(i))
	}

	sim := &Simulator{
		config:  cfg,
		pool:    pool,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		adminID: "sim-admin",
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	_ = godotenv.Load()

	cfg := SimConfig{
		APIBaseURL:    strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		RequestRatio:  getFloat("SIM_REQUEST_RATIO", 0.35),
		ScheduleRatio: getFloat("SIM_SCHEDULE_RATIO", 0.35),
		ConfirmRatio:  getFloat("SIM_CONFIRM_RATIO", 0.15),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.15),
		Patients:      getInt("SIM_PATIENTS", 200),
		DoctorIDs:     getList("SIM_DOCTOR_IDS", nil),
		TimeSlots:     getList("SIM_TIME_SLOTS", []string{"09:00-09:30", "09:30-10:00", "10:00-10:30", "10:30-11:00"}),
		Days:          getInt("SIM_DAYS", 5),
	}

	total := cfg.RequestRatio + cfg.ScheduleRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.RequestRatio /= total
		cfg.ScheduleRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required to mint simulation tokens")
	}
	if len(cfg.DoctorIDs) == 0 {
		return fmt.Errorf("SIM_DOCTOR_IDS must list at least one doctor")
	}
	if len(cfg.TimeSlots) == 0 {
		return fmt.Errorf("SIM_TIME_SLOTS must list at least one slot")
	}
	if cfg.Workers <= 0 || cfg.Patients <= 0 || cfg.Days <= 0 {
		return fmt.Errorf("SIM_WORKERS, SIM_PATIENTS and SIM_DAYS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation", "duration", s.config.Duration, "workers", s.config.Workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		g.Go(func() error {
			s.worker(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.RequestRatio:
			s.doRequest(ctx, rng)
		case r < s.config.RequestRatio+s.config.ScheduleRatio:
			s.doSchedule(ctx, rng)
		case r < s.config.RequestRatio+s.config.ScheduleRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		default:
			s.doList(ctx, rng)
		}
	}
}

// randomDay picks a clinic day in the next SIM_DAYS days, never today.
func (s *Simulator) randomDay(rng *rand.Rand) string {
	return time.Now().UTC().AddDate(0, 0, 1+rng.Intn(s.config.Days)).Format("2006-01-02")
}

func (s *Simulator) doRequest(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	doctorID := s.config.DoctorIDs[rng.Intn(len(s.config.DoctorIDs))]

	var out struct {
		Data struct {
			ID uuid.UUID `json:"id"`
		} `json:"data"`
	}
	status, latency := s.call(ctx, http.MethodPost, "/appointments/request", patientID, auth.RolePatient, map[string]string{
		"doctorId":        doctorID,
		"appointmentDate": s.randomDay(rng),
		"timeSlot":        s.config.TimeSlots[rng.Intn(len(s.config.TimeSlots))],
		"reason":          "simulated visit",
	}, &out)
	s.metrics.Request.Record(latency, status)

	if status == http.StatusCreated && out.Data.ID != uuid.Nil {
		s.pool.AddRequested(pendingAppointment{ID: out.Data.ID, PatientID: patientID, DoctorID: doctorID})
	}
}

// doSchedule deliberately aims many admins at a small set of slots so the
// double booking guard is exercised.
func (s *Simulator) doSchedule(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomRequested(rng)
	if !ok {
		return
	}

	status, latency := s.call(ctx, http.MethodPut, "/appointments/"+appt.ID.String()+"/schedule", s.adminID, auth.RoleAdmin, map[string]string{
		"appointmentDate": s.randomDay(rng),
		"timeSlot":        s.config.TimeSlots[rng.Intn(len(s.config.TimeSlots))],
		"status":          "scheduled",
	}, nil)
	s.metrics.Schedule.Record(latency, status)

	if status == http.StatusOK {
		s.pool.AddScheduled(appt)
	}
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.TakeScheduled(rng)
	if !ok {
		return
	}
	status, latency := s.call(ctx, http.MethodPut, "/appointments/"+appt.ID.String()+"/confirm", appt.PatientID, auth.RolePatient, nil, nil)
	s.metrics.Confirm.Record(latency, status)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	status, latency := s.call(ctx, http.MethodGet, "/appointments/patient", patientID, auth.RolePatient, nil, nil)
	s.metrics.List.Record(latency, status)
}

// call returns 0 as the status when the request never completed.
func (s *Simulator) call(ctx context.Context, method, path, subject, role string, body, out any) (int, time.Duration) {
	token, err := auth.SignToken(s.config.JWTSecret, subject, []string{role}, time.Hour, time.Now())
	if err != nil {
		return 0, 0
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
		return 0, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("simulated request failed", "path", path, "error", err)
		}
		return 0, latency
	}
	defer resp.Body.Close()

	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, latency
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Request", &s.metrics.Request)
	printOperationReport("Schedule", &s.metrics.Schedule)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("List by Patient", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

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
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
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

func getList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
