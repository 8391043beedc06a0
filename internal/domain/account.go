package domain

import "time"

// AccountKind distinguishes how a trading account relates to the user's
// master wallet on a venue.
type AccountKind string

const (
	AccountKindPrimary   AccountKind = "primary"
	AccountKindDelegated AccountKind = "delegated-signer"
	AccountKindSub       AccountKind = "sub-account"
)

// TradingAccount is a venue-scoped credential record owned by exactly one
// user. Delegated signers carry the master address they act for in Metadata.
type TradingAccount struct {
	ID           string
	Owner        string
	Venue        Venue
	Address      string
	Kind         AccountKind
	EncryptedKey []byte // optional; see crypto.EncryptKey
	LastNonce    *int64
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MasterAddress returns the parent address for delegated signers, or the
// account's own address otherwise.
func (a TradingAccount) MasterAddress() string {
	if a.Kind == AccountKindDelegated {
		if m := a.Metadata["master_address"]; m != "" {
			return m
		}
	}
	return a.Address
}

// AccountPatch carries the mutable TradingAccount fields. Nil fields are
// left untouched by Update.
type AccountPatch struct {
	LastNonce *int64
	Metadata  map[string]string
}
