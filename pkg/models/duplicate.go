package models

import "time"

// DuplicateCandidate is an existing catalog sale that plausibly describes
// the same physical sale as a checked candidate. Ephemeral, never persisted.
type DuplicateCandidate struct {
	Sale           Sale    `json:"sale"`
	DistanceMeters float64 `json:"distance_meters"`
	Similarity     float64 `json:"similarity"`
	Reason         string  `json:"reason"`
}

// NegativeMatch is a human-confirmed statement that two sales are distinct
// despite looking similar. The pair is canonicalized so SaleIDA < SaleIDB
// and the unordered pair has exactly one row.
type NegativeMatch struct {
	SaleIDA   string    `json:"sale_id_a" db:"sale_id_a"`
	SaleIDB   string    `json:"sale_id_b" db:"sale_id_b"`
	CreatedBy *string   `json:"created_by,omitempty" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CanonicalPair orders two sale IDs deterministically so an unordered pair
// always maps to the same (a, b) row.
func CanonicalPair(idA, idB string) (string, string) {
	if idA > idB {
		return idB, idA
	}
	return idA, idB
}
