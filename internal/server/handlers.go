package server

import (
	"encoding/json"
	"net/http"

	"github.com/proximityhq/proximity/internal/catalog"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes the §6 error envelope: {"detail": "<message>"}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"app_count":  s.catalog.Count(),
		"last_catalog_refresh": s.catalog.LastRefresh(),
	})
}

func (s *Server) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	var apps []*catalog.CatalogApp
	if q != "" {
		apps = s.catalog.Search(q)
	} else {
		apps = s.catalog.List()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":        len(apps),
		"applications": apps,
	})
}

func (s *Server) handleGetCatalogApp(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	app, ok := s.catalog.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "catalog app not found")
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleSearchCatalog(w http.ResponseWriter, r *http.Request) {
	apps := s.catalog.Search(r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":        len(apps),
		"applications": apps,
	})
}

func (s *Server) handleCatalogReload(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "reloaded",
		"app_count": s.catalog.Count(),
	})
}
