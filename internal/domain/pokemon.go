package domain

// Pokemon is an entry of the fixed catalog.
type Pokemon struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	PokedexNumber int    `json:"pokedexNumber"`
	SelectedCount int    `json:"selectedCount"`
}
