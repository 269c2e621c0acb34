// Package httpapi exposes the screening pipeline and trial store over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/careforge/trialscreen/internal/screening"
	"github.com/careforge/trialscreen/internal/trialstore"
)

// Screener runs a full eligibility screening for one patient and one trial.
type Screener interface {
	Screen(ctx context.Context, req screening.ScreeningRequest) (screening.ScreeningOutcome, error)
}

// Store is the subset of the trial store the API needs.
type Store interface {
	PutTrial(ctx context.Context, trialID string, docs []trialstore.TrialDocument) error
	GetTrialByID(ctx context.Context, trialID string) (screening.TrialDocuments, error)
	ListTrials(ctx context.Context) ([]trialstore.TrialSummary, error)
	DeleteTrial(ctx context.Context, trialID string) error
	SaveScreening(ctx context.Context, outcome screening.ScreeningOutcome) error
	GetScreening(ctx context.Context, screeningID string) (screening.ScreeningOutcome, error)
}

// PDFRenderer turns a markdown screening report into a PDF document.
type PDFRenderer interface {
	Render(ctx context.Context, report string) ([]byte, error)
}

type Server struct {
	pipeline Screener
	store    Store
	renderer PDFRenderer
	log      *logrus.Logger
}

func NewServer(pipeline Screener, store Store, renderer PDFRenderer, log *logrus.Logger) http.Handler {
	if log == nil {
		log = logrus.New()
	}
	s := &Server{
		pipeline: pipeline,
		store:    store,
		renderer: renderer,
		log:      log,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/screen", s.handleScreen)
	mux.HandleFunc("/v1/screenings/", s.handleScreenings)
	mux.HandleFunc("/v1/trials", s.handleTrials)
	mux.HandleFunc("/v1/trials/", s.handleTrialByID)
	mux.HandleFunc("/v1/health", s.handleHealth)
	return s.withRequestID(mux)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
		}).Info("request received")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"message": message,
		},
	})
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte("{}"), nil
	}
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	return blob, nil
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	blob, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}
	var req struct {
		PatientData   map[string]any `json:"patient_data"`
		TrialProtocol string         `json:"trial_protocol"`
		TrialID       string         `json:"trial_id"`
	}
	if err := json.Unmarshal(blob, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	outcome, err := s.pipeline.Screen(r.Context(), screening.ScreeningRequest{
		PatientData:   req.PatientData,
		TrialProtocol: req.TrialProtocol,
		TrialID:       strings.TrimSpace(req.TrialID),
	})
	if err != nil {
		switch {
		case errors.Is(err, screening.ErrTrialNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusRequestTimeout, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	if s.store != nil {
		if err := s.store.SaveScreening(r.Context(), outcome); err != nil {
			// Persistence is best effort; the caller still gets the outcome.
			s.log.WithError(err).WithField("screening_id", outcome.ScreeningID).
				Warn("failed to persist screening outcome")
		}
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleScreenings(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "screening store not configured")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/screenings/")
	wantPDF := false
	if strings.HasSuffix(path, "/report.pdf") {
		wantPDF = true
		path = strings.TrimSuffix(path, "/report.pdf")
	}
	screeningID := strings.Trim(path, "/")
	if screeningID == "" || strings.Contains(screeningID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	outcome, err := s.store.GetScreening(r.Context(), screeningID)
	if err != nil {
		if errors.Is(err, trialstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "screening not found: "+screeningID)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !wantPDF {
		writeJSON(w, http.StatusOK, outcome)
		return
	}
	if s.renderer == nil {
		writeError(w, http.StatusNotImplemented, "pdf rendering not configured")
		return
	}
	pdf, err := s.renderer.Render(r.Context(), outcome.ReportMarkdown)
	if err != nil {
		s.log.WithError(err).WithField("screening_id", screeningID).Error("pdf render failed")
		writeError(w, http.StatusInternalServerError, "rendering report: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+screeningID+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (s *Server) handleTrials(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "trial store not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		trials, err := s.store.ListTrials(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"trials": trials})
	case http.MethodPost:
		blob, err := readBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "reading request body: "+err.Error())
			return
		}
		var req struct {
			TrialID   string                     `json:"trial_id"`
			Documents []trialstore.TrialDocument `json:"documents"`
		}
		if err := json.Unmarshal(blob, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		req.TrialID = strings.TrimSpace(req.TrialID)
		if req.TrialID == "" {
			writeError(w, http.StatusBadRequest, "trial_id is required")
			return
		}
		if len(req.Documents) == 0 {
			writeError(w, http.StatusBadRequest, "at least one document is required")
			return
		}
		if err := s.store.PutTrial(r.Context(), req.TrialID, req.Documents); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":        true,
			"trial_id":  req.TrialID,
			"documents": len(req.Documents),
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTrialByID(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "trial store not configured")
		return
	}
	trialID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/trials/"), "/")
	if trialID == "" || strings.Contains(trialID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		docs, err := s.store.GetTrialByID(r.Context(), trialID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(docs.Documents) == 0 {
			writeError(w, http.StatusNotFound, "trial not found: "+trialID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"trial_id":  trialID,
			"documents": docs.Documents,
			"metadatas": docs.Metadatas,
		})
	case http.MethodDelete:
		if err := s.store.DeleteTrial(r.Context(), trialID); err != nil {
			if errors.Is(err, trialstore.ErrNotFound) {
				writeError(w, http.StatusNotFound, "trial not found: "+trialID)
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "healthy"})
}
