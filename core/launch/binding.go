// Package launch implements magic token issuance and redemption for product launches.
//
// A launch token is a single-use, short-lived opaque string that lets a user open
// an external product from the console. Issuing a token binds it to the product,
// the requesting tenant/user and the client fingerprint (user agent and IP).
// Redeeming consumes the token exactly once and rejects any fingerprint mismatch.
//
// # Lifecycle
//
//	issuer := launch.NewIssuer(products, usages, store)
//	url, err := issuer.Issue(ctx, launch.IssueRequest{ProductID: 7, TenantID: 3, ...})
//	// redirect the browser to url; the product calls back with ?magic_token=...
//
//	verifier := launch.NewVerifier(products, store)
//	res, err := verifier.Redeem(ctx, launch.RedeemRequest{Token: tok, UserAgent: ua, ClientIP: ip})
//
// The token lives in the ephemeral store under Key(token) for the configured TTL
// (DefaultTTL, 10 seconds). There is no "used" flag: the store's get-and-delete is
// the only thing preventing a second redemption.
package launch

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// KeyPrefix namespaces launch bindings in the ephemeral store.
const KeyPrefix = "p_access:"

// Key returns the ephemeral store key for token.
func Key(token string) string {
	return KeyPrefix + token
}

// Binding is the record stored alongside an issued token. The JSON field names
// are fixed; changing them invalidates tokens that are in flight.
type Binding struct {
	ProductID uint64  `json:"pid"`
	UserAgent string  `json:"ua"`
	ClientIP  string  `json:"ip"`
	TenantID  uint64  `json:"tid"`
	UserID    *uint64 `json:"uid"`
}

// Encode serializes b.
func (b *Binding) Encode() ([]byte, error) {
	return json.Marshal(b)
}

// DecodeBinding parses a stored binding. Unknown fields are rejected.
func DecodeBinding(data []byte) (*Binding, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var b Binding
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("launch: decode binding: %w", err)
	}
	if b.ProductID == 0 {
		return nil, fmt.Errorf("launch: decode binding: missing product id")
	}
	return &b, nil
}
