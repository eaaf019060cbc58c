package asset

// Metadata describes an asset as reported by the indexer.
type Metadata struct {
	ID         ID      `json:"id"`         // ID is the asset identifier
	Owner      Address `json:"owner"`      // Owner is the current leaf owner
	Delegate   Address `json:"delegate"`   // Delegate may act for the owner (zero if none)
	Tree       Address `json:"tree"`       // Tree is the Merkle tree holding the leaf
	Name       string  `json:"name"`       // Name is the display name
	Symbol     string  `json:"symbol"`     // Symbol is the collection symbol
	URI        string  `json:"uri"`        // URI points at off-ledger metadata
	Compressed bool    `json:"compressed"` // Compressed is true for Merkle-tree leaves
	Burnt      bool    `json:"burnt"`      // Burnt is true once the leaf was removed
}
