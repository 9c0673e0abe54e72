package domain

type Interest string

const (
	InterestDating     Interest = "dating"
	InterestStartup    Interest = "startup"
	InterestEmployment Interest = "employment"
	InterestFriendship Interest = "friendship"
)

type LocationMode string

const (
	LocationAnywhere LocationMode = "anywhere"
	LocationNearby   LocationMode = "nearby"
)

// Region is resolved externally from coordinates before the filter is
// declared. Equality is opaque string equality, no fuzzy matching.
type Region struct {
	State   string `json:"state"`
	Country string `json:"country"`
}

// MatchFilter is a connection's declared pairing preference. A filter with
// Location == anywhere may still carry the region it was resolved in.
type MatchFilter struct {
	Interest Interest     `json:"interest"`
	Location LocationMode `json:"locationType"`
	Region   Region       `json:"region"`
}

// Compatible reports whether two filters may be paired. Symmetric in its
// operands: interests must be equal, and unless both sides accept anywhere,
// both must resolve to the same region.
func (f MatchFilter) Compatible(o MatchFilter) bool {
	if f.Interest != o.Interest {
		return false
	}
	if f.Location == LocationAnywhere && o.Location == LocationAnywhere {
		return true
	}
	return f.Region == o.Region
}
