package frontend

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/alpacahq/peersync/models"
	"github.com/alpacahq/peersync/store"
	"github.com/alpacahq/peersync/utils/log"
)

type errorMessage struct {
	Error string `json:"error"`
}

// unsynced lists the records whose current version wasn't acknowledged yet.
func (s *Server) unsynced(rw http.ResponseWriter, r *http.Request) {
	records, err := s.store.GetUnsynced(r.Context())
	if err != nil {
		log.Error("failed to get unsynced records: %v", err)
		writeJSON(rw, http.StatusInternalServerError, errorMessage{Error: "failed to get unsynced records"})
		return
	}
	if records == nil {
		records = []models.Record{}
	}
	writeJSON(rw, http.StatusOK, records)
}

// markSynced acknowledges the current version of a record.
func (s *Server) markSynced(rw http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.MarkSynced(r.Context(), id)
	switch {
	case err == nil:
		rw.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrNotFound):
		writeJSON(rw, http.StatusNotFound, errorMessage{Error: "record not found"})
	default:
		log.Error("failed to mark record %s synced: %v", id, err)
		writeJSON(rw, http.StatusInternalServerError, errorMessage{Error: "failed to mark record synced"})
	}
}
