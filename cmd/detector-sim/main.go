// Command detector-sim is a standalone inference service speaking the same
// HTTP contract as a real PPE model server: POST /api/v1/detect takes a JPEG
// frame and answers with the people found and the equipment seen on each.
// Point DETECTOR_URL at it to exercise the full remote-detection path
// without a GPU box.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxFrameBytes bounds the request body; a 1080p JPEG stays well under this.
const maxFrameBytes = 8 << 20

var (
	inferencesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detector_sim_inferences_total",
		Help: "Frames analyzed since start.",
	})
	peopleReported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detector_sim_people_reported_total",
		Help: "People synthesized across all responses.",
	})
)

// equipmentCatalog is the closed class set the simulator draws from when it
// dresses a person beyond the caller's required list.
var equipmentCatalog = []string{
	"helmet", "safety_vest", "safety_shoes", "gloves", "glasses",
	"face_mask", "hairnet", "apron", "safety_suit",
}

type person struct {
	BBox       bbox     `json:"bbox"`
	Confidence float64  `json:"confidence"`
	Equipment  []string `json:"equipment"`
}

type bbox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type detectResponse struct {
	Model  string   `json:"model"`
	People []person `json:"people"`
}

type simulator struct {
	model     string
	token     string
	latency   time.Duration
	nc        *nats.Conn
	inferSeen int64
}

func main() {
	port := envOr("PORT", "8090")
	sim := &simulator{
		model:   envOr("SIM_MODEL_NAME", "ppe-sim-1"),
		token:   os.Getenv("DETECTOR_TOKEN"),
		latency: time.Duration(envInt("SIM_LATENCY_MS", 30)) * time.Millisecond,
	}

	// NATS is optional telemetry: every inference summary goes out on
	// ppe.inference when a broker is reachable, nothing breaks when not.
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		nc, err := nats.Connect(natsURL, nats.Name("ts-ppe-detector-sim"), nats.MaxReconnects(-1))
		if err != nil {
			log.Printf("[SIM] nats unreachable, telemetry off: %v", err)
		} else {
			sim.nc = nc
			defer nc.Close()
		}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(15 * time.Second))

	r.Get("/health", sim.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/v1/detect", sim.handleDetect)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("[SIM] model %s listening on :%s", sim.model, port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[SIM] server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func (s *simulator) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"model":      s.model,
		"inferences": atomic.LoadInt64(&s.inferSeen),
	})
}

func (s *simulator) handleDetect(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	frame, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil || len(frame) == 0 {
		http.Error(w, "frame body required", http.StatusBadRequest)
		return
	}

	minConfidence := 0.5
	if v := r.URL.Query().Get("min_confidence"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			minConfidence = f
		}
	}
	var required []string
	if v := r.URL.Query().Get("required"); v != "" {
		required = strings.Split(v, ",")
	}

	if s.latency > 0 {
		jitter := time.Duration(rand.Int63n(int64(s.latency)))
		time.Sleep(s.latency/2 + jitter)
	}

	people := s.synthesize(required, minConfidence)
	atomic.AddInt64(&s.inferSeen, 1)
	inferencesTotal.Inc()
	peopleReported.Add(float64(len(people)))
	s.publishTelemetry(len(frame), people)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detectResponse{Model: s.model, People: people})
}

// synthesize invents zero to four people. Each person wears the required
// classes minus an occasional gap, plus sometimes one extra from the
// catalog, mirroring what a real model reports on a busy site.
func (s *simulator) synthesize(required []string, minConfidence float64) []person {
	count := rand.Intn(5)
	targetRate := 0.60 + rand.Float64()*0.35
	people := make([]person, 0, count)
	for i := 0; i < count; i++ {
		p := person{
			BBox:       randomBBox(),
			Confidence: 0.50 + rand.Float64()*0.48,
			Equipment:  dressUp(required, targetRate),
		}
		if p.Confidence < minConfidence {
			continue
		}
		people = append(people, p)
	}
	return people
}

func randomBBox() bbox {
	x := rand.Float64() * 0.7
	y := rand.Float64() * 0.6
	w := 0.10 + rand.Float64()*0.15
	h := 0.20 + rand.Float64()*0.25
	if x+w > 1 {
		w = 1 - x
	}
	if y+h > 1 {
		h = 1 - y
	}
	return bbox{X: x, Y: y, W: w, H: h}
}

func dressUp(required []string, targetRate float64) []string {
	eq := make([]string, 0, len(required)+1)
	for _, class := range required {
		if rand.Float64() < targetRate {
			eq = append(eq, class)
		}
	}
	if rand.Float64() < 0.3 {
		extra := equipmentCatalog[rand.Intn(len(equipmentCatalog))]
		if !contains(eq, extra) {
			eq = append(eq, extra)
		}
	}
	return eq
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

func (s *simulator) publishTelemetry(frameBytes int, people []person) {
	if s.nc == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"model":       s.model,
		"frame_bytes": frameBytes,
		"people":      len(people),
		"ts":          time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.nc.Publish("ppe.inference", payload); err != nil {
		log.Printf("[SIM] telemetry publish: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
