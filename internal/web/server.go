// Package web provides a simple web UI for browsing persisted grid runs.
package web

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/metalagman/gridca/internal/db"
)

// Server provides the web UI handlers and state.
type Server struct {
	store *db.Store
}

// NewServer creates a new web server over the run store.
func NewServer(store *db.Store) (*Server, error) {
	return &Server{store: store}, nil
}

//go:embed templates/*.html
var templatesFS embed.FS

// Routes returns the router for the web UI.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /runs/{id}", s.handleRun)
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	tmpl, err := template.ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	runs, err := s.store.ListRuns(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := tmpl.Execute(w, runs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type runPage struct {
	RunID string
	Ticks []db.TickRecord
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	tmpl, err := template.ParseFS(templatesFS, "templates/run.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	id := r.PathValue("id")
	ticks, err := s.store.ListTicks(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(ticks) == 0 {
		http.NotFound(w, r)
		return
	}

	if err := tmpl.Execute(w, runPage{RunID: id, Ticks: ticks}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
