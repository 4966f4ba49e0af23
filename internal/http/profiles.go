package httpx

import "net/http"

func (r *Router) handleListProfiles(w http.ResponseWriter, req *http.Request) {
	profiles, err := r.profiles.List(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (r *Router) handleCreateProfile(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, req, &payload) {
		return
	}
	created, err := r.profiles.Create(req.Context(), payload.Name)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (r *Router) handleProfileTeams(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "id")
	if !ok {
		return
	}
	teams, err := r.profiles.Teams(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (r *Router) handleSelectProfile(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "id")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": r.profiles.RecordSelection(req.Context(), id)})
}

func (r *Router) handleDeleteProfile(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "id")
	if !ok {
		return
	}
	if err := r.profiles.Delete(req.Context(), id); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
