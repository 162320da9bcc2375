package routes

import (
	"net/http"

	"github.com/petervdpas/goopcall/internal/storage"
)

func registerHistoryRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/call/history?limit=N: finished attempts, newest first.
	handleGet(mux, "/api/call/history", func(w http.ResponseWriter, r *http.Request) {
		if d.History == nil {
			writeJSON(w, []storage.HistoryEntry{})
			return
		}
		entries, err := d.History.Recent(r.Context(), queryInt(r, "limit", 50))
		if err != nil {
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, entries)
	})
}
