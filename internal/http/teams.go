package httpx

import (
	"net/http"

	"github.com/splax/teambuilder/internal/service/team"
)

func (r *Router) handleCreateTeam(w http.ResponseWriter, req *http.Request) {
	var payload team.CreateRequest
	if !decodeBody(w, req, &payload) {
		return
	}
	created, err := r.teams.Create(req.Context(), payload)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (r *Router) handleGetTeam(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "id")
	if !ok {
		return
	}
	found, err := r.teams.Get(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (r *Router) handleRenameTeam(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "id")
	if !ok {
		return
	}
	var payload struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, req, &payload) {
		return
	}
	renamed, err := r.teams.Rename(req.Context(), id, payload.Name)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, renamed)
}

func (r *Router) handleDeleteTeam(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "id")
	if !ok {
		return
	}
	if err := r.teams.Delete(req.Context(), id); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleSelectTeam(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "id")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": r.teams.RecordSelection(req.Context(), id)})
}

func (r *Router) handleTeamPokemonNames(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "id")
	if !ok {
		return
	}
	names, err := r.teams.PokemonNames(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (r *Router) handleTeamMembers(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "id")
	if !ok {
		return
	}
	members, err := r.teams.Members(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (r *Router) handleAddMember(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "id")
	if !ok {
		return
	}
	pokemonID, ok := pathID(w, req, "pokemonId")
	if !ok {
		return
	}
	member, err := r.teams.AddMember(req.Context(), id, pokemonID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (r *Router) handleRemoveMember(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "id")
	if !ok {
		return
	}
	pokemonID, ok := pathID(w, req, "pokemonId")
	if !ok {
		return
	}
	if err := r.teams.RemoveMember(req.Context(), id, pokemonID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
