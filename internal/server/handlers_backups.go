package server

import (
	"net/http"

	"github.com/proximityhq/proximity/internal/store"
)

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.store.ListBackups(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if backups == nil {
		backups = []*store.Backup{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"backups": backups})
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	backup, err := s.lifecycle.Backup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, backup)
}

func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	app, err := s.lifecycle.Restore(r.Context(), r.PathValue("id"), r.PathValue("bid"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, app)
}

func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	backup, err := s.store.GetBackup(r.PathValue("bid"))
	if err != nil {
		writeError(w, http.StatusNotFound, "backup not found")
		return
	}
	if backup.AppID != r.PathValue("id") {
		writeError(w, http.StatusNotFound, "backup not found")
		return
	}
	if err := s.store.DeleteBackup(backup.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
