package receipts

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/graphops/query-gateway/internal/models"
)

// Signer creates and records TAP and legacy receipts, unifying tapSigner and
// legacySigner behind a single façade used by the Forwarder.
type Signer struct {
	tap    *tapSigner
	legacy *legacySigner
}

// NewSigner constructs a Signer. tapKey signs TAP receipts under the domain
// fixed to (chainID, verifier); legacyKey signs legacy Scalar receipts.
func NewSigner(tapKey *ecdsa.PrivateKey, chainID uint64, verifier models.IndexerID, legacyKey *ecdsa.PrivateKey) *Signer {
	return &Signer{
		tap:    newTapSigner(tapKey, chainID, verifier),
		legacy: newLegacySigner(legacyKey),
	}
}

// CreateTap signs a new TAP receipt for allocation and fee.
func (s *Signer) CreateTap(allocation models.IndexerID, fee *big.Int) (*Receipt, error) {
	return s.tap.createReceipt(allocation, fee)
}

// CreateLegacy borrows a ticket from allocation's pool and signs it.
func (s *Signer) CreateLegacy(allocation models.IndexerID, fee *big.Int) (*Receipt, error) {
	return s.legacy.createReceipt(allocation, fee)
}

// Record reports a receipt's terminal status. It is a no-op for TAP
// receipts; for legacy receipts it releases the ticket back to its pool.
func (s *Signer) Record(receipt *Receipt, status ReceiptStatus) {
	if receipt == nil || !receipt.IsLegacy() {
		return
	}
	s.legacy.recordReceipt(receipt.allocation, receipt.legacyTicket, status)
}

// Create dispatches to CreateTap or CreateLegacy based on whether the
// indexer requires the legacy scheme.
func (s *Signer) Create(allocation models.IndexerID, fee *big.Int, legacy bool) (*Receipt, error) {
	if legacy {
		return s.CreateLegacy(allocation, fee)
	}
	return s.CreateTap(allocation, fee)
}
