package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/proximityhq/proximity/internal/lifecycle"
	"github.com/proximityhq/proximity/internal/pipeline"
	"github.com/proximityhq/proximity/internal/store"
)

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.store.ListApps(r.URL.Query().Get("host_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if apps == nil {
		apps = []*store.App{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"apps": apps, "total": len(apps)})
}

type deployRequest struct {
	CatalogID   string            `json:"catalog_id"`
	HostID      string            `json:"host_id"`
	Hostname    string            `json:"hostname"`
	Node        string            `json:"node"`
	Environment map[string]string `json:"environment"`
	Config      *store.Resources  `json:"config"`
}

func (s *Server) handleCreateApp(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CatalogID == "" || req.Hostname == "" {
		writeError(w, http.StatusBadRequest, "catalog_id and hostname are required")
		return
	}

	hostID := req.HostID
	if hostID == "" {
		h, err := s.store.GetDefaultHost()
		if err != nil {
			writeError(w, http.StatusBadRequest, "host_id is required: no default host configured")
			return
		}
		hostID = h.ID
	}

	app, err := s.pipeline.Deploy(r.Context(), pipeline.DeployRequest{
		CatalogID: req.CatalogID,
		HostID:    hostID,
		NodeName:  req.Node,
		Hostname:  req.Hostname,
		Env:       req.Environment,
		Resources: req.Config,
	})
	if err != nil {
		writeDeployError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, app)
}

func writeDeployError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleGetApp(w http.ResponseWriter, r *http.Request) {
	app, err := s.store.GetApp(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "app not found")
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleDeleteApp(w http.ResponseWriter, r *http.Request) {
	policy := store.DeletePolicyRetain
	if r.URL.Query().Get("cascade") == "true" {
		policy = store.DeletePolicyCascade
	}
	if _, err := s.lifecycle.Delete(r.Context(), r.PathValue("id"), policy); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type actionRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleAppAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Action {
	case "start", "stop", "restart", "delete":
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported action %q", req.Action))
		return
	}

	app, err := s.lifecycle.Action(r.Context(), r.PathValue("id"), req.Action)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	if app == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	}
	writeJSON(w, http.StatusOK, app)
}

type cloneRequest struct {
	NewHostname string `json:"new_hostname"`
}

func (s *Server) handleCloneApp(w http.ResponseWriter, r *http.Request) {
	var req cloneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NewHostname == "" {
		writeError(w, http.StatusBadRequest, "new_hostname is required")
		return
	}

	app, err := s.lifecycle.Clone(r.Context(), r.PathValue("id"), req.NewHostname)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, app)
}

func (s *Server) handleUpdateApp(w http.ResponseWriter, r *http.Request) {
	app, err := s.lifecycle.Update(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleResizeApp(w http.ResponseWriter, r *http.Request) {
	var resources store.Resources
	if err := json.NewDecoder(r.Body).Decode(&resources); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	app, err := s.lifecycle.Resize(r.Context(), r.PathValue("id"), resources)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleAppLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entries, err := s.store.ListDeploymentLog(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if tailStr := r.URL.Query().Get("tail"); tailStr != "" {
		n, err := strconv.Atoi(tailStr)
		if err == nil && n > 0 && n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}
	if entries == nil {
		entries = []*store.DeploymentLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": entries})
}

func (s *Server) handleAppStats(w http.ResponseWriter, r *http.Request) {
	app, err := s.store.GetApp(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "app not found")
		return
	}
	if app.VMID == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": app.Status})
		return
	}

	detail, err := s.pxm.StatusDetail(r.Context(), app.VMID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("querying proxmox: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       detail.Status,
		"cpu":          detail.CPU,
		"memory_used":  detail.Mem,
		"memory_total": detail.MaxMem,
		"uptime_s":     detail.Uptime,
	})
}

// writeLifecycleError maps internal/lifecycle's typed errors to the §6/§7
// status codes: a busy or illegal-transition conflict is 409, an unknown
// App (store.ErrNotFound) is 404, anything else from the Lifecycle
// Controller is surfaced as a 400.
func writeLifecycleError(w http.ResponseWriter, err error) {
	var busy *lifecycle.ConflictBusyError
	var status *lifecycle.ConflictStatusError
	switch {
	case errors.As(err, &busy), errors.As(err, &status):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
