package cache

import "strconv"

// Keys shared by the read paths and the writes that invalidate them.
const (
	AllProfilesKey = "allProfiles"
	AllPokemonKey  = "allPokemon"
)

// TeamKey caches one team with its members.
func TeamKey(teamID string) string { return "team:" + teamID }

// ProfileTeamsKey caches the teams of one profile.
func ProfileTeamsKey(profileID string) string { return "profile:" + profileID + ":teams" }

// TopTeamsKey caches a popularity listing of size n.
func TopTeamsKey(n int) string { return "teams:top:" + strconv.Itoa(n) }

// Outcome labels a read for logs.
func Outcome(loaded bool) string {
	if loaded {
		return "miss"
	}
	return "hit"
}
