package domain

// DerivedAccount references an account derived by the custody collaborator.
// The bridge only knows its derivation path and the resulting address, never
// the key material. Instances are never mutated, a re-derivation produces a
// new one.
type DerivedAccount struct {
	AccountId AccountId
	Path      string
	PubKey    []byte
}

func (a DerivedAccount) Address() string {
	return a.AccountId.Address
}
