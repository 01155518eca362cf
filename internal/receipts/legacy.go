package receipts

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	"github.com/graphops/query-gateway/internal/models"
)

// ReceiptStatus is the terminal outcome reported to Record for a legacy
// receipt, used to decide whether its ticket is recycled.
type ReceiptStatus int

const (
	ReceiptStatusSuccess ReceiptStatus = iota
	ReceiptStatusFailure
)

// legacyTicketSize is the opaque wire size of a legacy receipt:
// allocation(20) + value(16) + nonce(8) + reserved(88) + signature(32).
const legacyTicketSize = 164

// receiptPool is a per-allocation pool of legacy ticket bytes. Its own lock
// serializes commit/release so cross-allocation calls never contend.
type receiptPool struct {
	mu         sync.Mutex
	allocation models.IndexerID
	key        *ecdsa.PrivateKey
	free       [][legacyTicketSize]byte
	nonce      uint64
}

func newReceiptPool(allocation models.IndexerID, key *ecdsa.PrivateKey) *receiptPool {
	return &receiptPool{allocation: allocation, key: key}
}

// commit borrows a ticket from the free list, or mints a new one, and signs
// it for fee.
func (p *receiptPool) commit(fee *big.Int) ([legacyTicketSize]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ticket [legacyTicketSize]byte
	if n := len(p.free); n > 0 {
		ticket = p.free[n-1]
		p.free = p.free[:n-1]
	}

	copy(ticket[0:20], p.allocation[:])

	valueBytes := fee.FillBytes(make([]byte, 16))
	copy(ticket[20:36], valueBytes)

	p.nonce++
	binary.BigEndian.PutUint64(ticket[36:44], p.nonce)

	// Reserved region ticket[44:132] left zeroed; signature fragment over the
	// committed fields occupies the trailing 32 bytes.
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(ticket[0:132])
	digest := hasher.Sum(nil)
	sig, err := crypto.Sign(digest, p.key)
	if err != nil {
		return ticket, fmt.Errorf("failed to sign legacy receipt: %w", err)
	}
	copy(ticket[132:164], sig[:32])

	return ticket, nil
}

// release returns ticket to the free list for recycling, regardless of
// status: the legacy contract's own replay protection, not this pool, is
// what prevents double-spend.
func (p *receiptPool) release(ticket [legacyTicketSize]byte, status ReceiptStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, ticket)
}

// legacySigner issues and records legacy Scalar receipts, lazily creating a
// pool per allocation and keeping it for the process lifetime.
type legacySigner struct {
	mu    sync.RWMutex
	key   *ecdsa.PrivateKey
	pools map[models.IndexerID]*receiptPool
}

func newLegacySigner(key *ecdsa.PrivateKey) *legacySigner {
	return &legacySigner{key: key, pools: make(map[models.IndexerID]*receiptPool)}
}

func (s *legacySigner) poolFor(allocation models.IndexerID) *receiptPool {
	s.mu.RLock()
	pool, ok := s.pools[allocation]
	s.mu.RUnlock()
	if ok {
		return pool
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pool, ok := s.pools[allocation]; ok {
		return pool
	}
	pool = newReceiptPool(allocation, s.key)
	s.pools[allocation] = pool
	return pool
}

func (s *legacySigner) createReceipt(allocation models.IndexerID, fee *big.Int) (*Receipt, error) {
	pool := s.poolFor(allocation)
	ticket, err := pool.commit(fee)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		kind:         KindLegacy,
		allocation:   allocation,
		value:        new(big.Int).Set(fee),
		legacyTicket: ticket,
	}, nil
}

func (s *legacySigner) recordReceipt(allocation models.IndexerID, ticket [legacyTicketSize]byte, status ReceiptStatus) {
	s.mu.RLock()
	pool, ok := s.pools[allocation]
	s.mu.RUnlock()
	if !ok {
		return
	}
	pool.release(ticket, status)
}
