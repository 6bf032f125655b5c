package dashboard

import (
	"encoding/json"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"
)

// handleConfigGet returns the currently loaded manifest for a registered
// project, identified by its ?projectPath= query parameter.
func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	dir := stringParam(r, "projectPath", "")
	if dir == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "projectPath query parameter is required"})
		return
	}
	m, ok := s.projects.get(dir)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "project not registered"})
		return
	}

	project, errs := m.Current()
	resp := map[string]interface{}{"project": project}
	if errs != nil && errs.HasErrors() {
		resp["errors"] = errs.GetSummary()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleConfigPut overwrites a registered project's manifest on disk with
// the supplied YAML-compatible JSON document. The project's own
// config.Manager watcher picks up the write and reloads it, so the
// response only confirms the write succeeded.
func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	dir := stringParam(r, "projectPath", "")
	if dir == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "projectPath query parameter is required"})
		return
	}
	m, ok := s.projects.get(dir)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "project not registered"})
		return
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid config body: " + err.Error()})
		return
	}

	current, _ := m.Current()
	encoded, err := yaml.Marshal(raw)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := os.WriteFile(current.SourcePath(), encoded, 0o644); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "writing manifest: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "written, reload pending"})
}
