package domain

import "testing"

func TestNormalizeTeamName(t *testing.T) {
	cases := map[string]string{
		"Team A":       "team a",
		"  team a  ":   "team a",
		"\tSTARTER\n":  "starter",
		"":             "",
		"Mixed Case 2": "mixed case 2",
	}
	for in, want := range cases {
		if got := NormalizeTeamName(in); got != want {
			t.Fatalf("NormalizeTeamName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTeamPokemonIDs(t *testing.T) {
	team := Team{Members: []TeamMember{{PokemonID: "a"}, {PokemonID: "b"}}}
	ids := team.PokemonIDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}
