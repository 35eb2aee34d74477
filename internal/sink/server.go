package sink

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sitepulse/sitepulse-go/internal/wire"
)

type Server struct {
	store  *Store
	logger *log.Logger
}

func NewServer(store *Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{store: store, logger: logger}
}

// Router registers the collection routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/track", s.handleTrack).Methods(http.MethodPost)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

// handleTrack ingests one payload. The body is decoded as JSON regardless of
// content type: the beacon transport can only send text/plain.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var payload wire.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if len(payload.Actions) == 0 && payload.CurrentPage == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	receivedAt := time.Now()
	inserted, skewed, err := s.store.InsertPayload(payload, receivedAt)
	if err != nil {
		s.logger.Printf("Database error: %v", err)
		http.Error(w, "Failed to store payload", http.StatusInternalServerError)
		return
	}
	if skewed {
		s.logger.Printf("clock skew corrected for session %s (sent_at %d, received %d)",
			payload.SessionID, payload.SentAt, receivedAt.UnixMilli())
	}
	if dup := len(payload.Actions) - inserted; dup > 0 {
		s.logger.Printf("collapsed %d duplicate action(s) for session %s", dup, payload.SessionID)
	}
	w.WriteHeader(http.StatusNoContent) // success, no body
}
