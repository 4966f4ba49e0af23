package httpx

import (
	"errors"
	"net/http"

	"github.com/splax/teambuilder/internal/service/profile"
	"github.com/splax/teambuilder/internal/service/team"
)

type errorClass struct {
	target error
	status int
	code   string
}

var errorClasses = []errorClass{
	{team.ErrCapacityExceeded, http.StatusBadRequest, "capacity_exceeded"},
	{team.ErrCompositionInvalid, http.StatusBadRequest, "composition_invalid"},
	{team.ErrInvalidName, http.StatusBadRequest, "invalid_request"},
	{profile.ErrInvalidName, http.StatusBadRequest, "invalid_request"},
	{team.ErrProfileNotFound, http.StatusNotFound, "profile_not_found"},
	{profile.ErrNotFound, http.StatusNotFound, "profile_not_found"},
	{team.ErrPokemonNotFound, http.StatusNotFound, "pokemon_not_found"},
	{team.ErrNotFound, http.StatusNotFound, "team_not_found"},
	{team.ErrNotMember, http.StatusNotFound, "member_not_found"},
	{team.ErrDuplicateName, http.StatusConflict, "duplicate_team_name"},
	{team.ErrAlreadyMember, http.StatusConflict, "already_member"},
}

// classify maps a service error to its HTTP status and code.
func classify(err error) (int, string, bool) {
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.status, c.code, true
		}
	}
	return http.StatusInternalServerError, "internal", false
}

// writeServiceError reports err to the client. Unknown errors are logged and
// answered with a generic message.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	status, code, known := classify(err)
	if !known {
		r.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		writeErrorCode(w, status, code, "internal server error")
		return
	}
	writeErrorCode(w, status, code, err.Error())
}
