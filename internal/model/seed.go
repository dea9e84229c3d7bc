package model

// SeedSource says where a seed's bars came from. It is advisory only.
type SeedSource string

const (
	SeedFromAPI  SeedSource = "api"
	SeedFromMock SeedSource = "mock"
)

// Seed is the historical series a pair starts from, oldest bar first.
type Seed struct {
	Pair   Pair       `json:"pair"`
	Bars   []Bar      `json:"bars"`
	Source SeedSource `json:"source"`
	// Reason is set when Source is mock and explains why the API was not used.
	Reason string `json:"reason,omitempty"`
}
