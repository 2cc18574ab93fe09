package types

import (
	"github.com/google/uuid"
)

// addressNamespace seeds deterministic component addresses.
var addressNamespace = uuid.MustParse("6f1c7a52-9a3e-4c35-b0d8-2f1e9e7a4c10")

// DeriveAddress returns the stable address for a named engine component,
// e.g. "collateral", "pool", "market/ETH-USD".
func DeriveAddress(name string) uuid.UUID {
	return uuid.NewSHA1(addressNamespace, []byte(name))
}

// RequireAddress rejects the zero address.
func RequireAddress(addr uuid.UUID, what string) error {
	if addr == uuid.Nil {
		return ErrInvalidAddress.Wrapf("%s is the zero address", what)
	}
	return nil
}
