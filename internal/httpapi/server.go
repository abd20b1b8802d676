package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"memoryd/internal/queue"
	"memoryd/internal/retrieval"
)

// segmentationDispatcher is the narrow interface the HTTP layer needs from
// the job dispatcher: enqueue a segmentation job once a push trips the
// fence. Defined locally (structural typing) so this package never imports
// internal/jobs.
type segmentationDispatcher interface {
	DispatchSegmentation(ctx context.Context, cid uuid.UUID, fenceCount int) error
}

// Server exposes memoryd's thin JSON HTTP surface: the six operations of
// add_message, retrieve_memory (+raw), context_pre_retrieve, and
// recent_memory (+raw).
type Server struct {
	queue       *queue.Queue
	coordinator *retrieval.Coordinator
	dispatcher  segmentationDispatcher
	mux         *http.ServeMux
}

// NewServer builds a Server wired to the given queue, retrieval coordinator,
// and segmentation dispatcher.
func NewServer(q *queue.Queue, coordinator *retrieval.Coordinator, dispatcher segmentationDispatcher) *Server {
	s := &Server{queue: q, coordinator: coordinator, dispatcher: dispatcher, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /add_message", s.handleAddMessage)
	s.mux.HandleFunc("POST /retrieve_memory", s.handleRetrieveMemory)
	s.mux.HandleFunc("POST /retrieve_memory/raw", s.handleRetrieveMemoryRaw)
	s.mux.HandleFunc("POST /context_pre_retrieve", s.handleContextPreRetrieve)
	s.mux.HandleFunc("POST /recent_memory", s.handleRecentMemory)
	s.mux.HandleFunc("POST /recent_memory/raw", s.handleRecentMemoryRaw)
}
