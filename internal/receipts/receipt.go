// Package receipts implements the Receipt Signer: TAP EIP-712 receipts and
// legacy per-allocation Scalar receipts, coexisting for the migration window.
package receipts

import (
	"encoding/hex"
	"encoding/json"
	"math/big"

	"github.com/graphops/query-gateway/internal/models"
)

// Kind distinguishes the two coexisting receipt schemes.
type Kind int

const (
	KindLegacy Kind = iota
	KindTAP
)

// Receipt is the sum type `Legacy{value, opaque_bytes} | Tap{signed_message}`
// from the data model.
type Receipt struct {
	kind       Kind
	allocation models.IndexerID
	value      *big.Int

	legacyTicket [164]byte
	tapMessage   *TapMessage
	tapSignature [65]byte
}

// Value returns the receipt's GRT-denominated value.
func (r Receipt) Value() *big.Int { return new(big.Int).Set(r.value) }

// Allocation returns the allocation address the receipt commits to.
func (r Receipt) Allocation() models.IndexerID { return r.allocation }

// HeaderName returns the HTTP header the Forwarder attaches this receipt
// under.
func (r Receipt) HeaderName() string {
	if r.kind == KindTAP {
		return "Tap-Receipt"
	}
	return "Scalar-Receipt"
}

// Serialize renders the receipt for the wire.
// Legacy receipts are hex-encoded minus their trailing 32-byte signature
// fragment; TAP receipts are a JSON EIP-712 signed message.
func (r Receipt) Serialize() (string, error) {
	if r.kind == KindTAP {
		signed := tapSignedMessage{
			Domain:    r.tapMessage.domain,
			Message:   *r.tapMessage,
			Signature: "0x" + hex.EncodeToString(r.tapSignature[:]),
		}
		b, err := json.Marshal(signed)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return hex.EncodeToString(r.legacyTicket[:len(r.legacyTicket)-32]), nil
}

// IsLegacy reports whether this is a legacy Scalar receipt.
func (r Receipt) IsLegacy() bool { return r.kind == KindLegacy }

type tapSignedMessage struct {
	Domain    eip712Domain `json:"domain"`
	Message   TapMessage   `json:"message"`
	Signature string       `json:"signature"`
}
