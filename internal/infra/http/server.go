package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"llm-finetune/internal/domain/model"
	"llm-finetune/internal/infra/logging"
)

// JobSource exposes the last job snapshot held in memory.
type JobSource interface {
	Job() (model.FinetuneJob, bool)
}

// Server serves health, metrics and the held job snapshot while a job is watched.
type Server struct {
	addr   string
	jobs   JobSource
	log    *zerolog.Logger
	server *http.Server
}

func NewServer(addr string, jobs JobSource, logger *zerolog.Logger) *Server {
	return &Server{addr: addr, jobs: jobs, log: logging.Component(logger, "HTTPServer")}
}

// Router builds the chi mux; exported for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/job", s.handleJob)
	return r
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Str("addr", s.addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

type jobView struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	BaseModel      string     `json:"base_model"`
	FineTunedModel string     `json:"fine_tuned_model,omitempty"`
	TrainingFile   string     `json:"training_file"`
	TrainedTokens  int64      `json:"trained_tokens,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.Error(w, "no job", http.StatusNotFound)
		return
	}
	job, ok := s.jobs.Job()
	if !ok {
		http.Error(w, "no job", http.StatusNotFound)
		return
	}
	v := jobView{
		ID:             job.ID,
		Status:         string(job.Status),
		BaseModel:      job.BaseModel,
		FineTunedModel: job.FineTunedModel,
		TrainingFile:   job.TrainingFile,
		TrainedTokens:  job.TrainedTokens,
		CreatedAt:      job.CreatedAt,
		FinishedAt:     job.FinishedAt,
	}
	if job.Error != nil {
		v.Error = job.Error.Message
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode job")
	}
}
