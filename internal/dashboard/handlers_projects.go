package dashboard

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type addProjectRequest struct {
	ProjectPath string `json:"projectPath"`
}

func (s *Server) handleProjectsList(w http.ResponseWriter, r *http.Request) {
	dirs := s.projects.list()
	out := make([]map[string]interface{}, 0, len(dirs))
	for _, dir := range dirs {
		entry := map[string]interface{}{"projectPath": dir}
		if m, ok := s.projects.get(dir); ok {
			if project, errs := m.Current(); project != nil {
				entry["name"] = project.Project.Name
				entry["valid"] = errs == nil || !errs.HasErrors()
			}
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProjectsAdd(w http.ResponseWriter, r *http.Request) {
	var req addProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectPath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "projectPath is required"})
		return
	}

	m, err := s.projects.add(req.ProjectPath)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	project, errs := m.Current()
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"projectPath": req.ProjectPath,
		"name":        project.Project.Name,
		"valid":       errs == nil || !errs.HasErrors(),
	})
}

func (s *Server) handleProjectsRemove(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if !s.projects.remove(path) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "project not registered"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
