package receipts

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/graphops/query-gateway/internal/models"
)

// eip712Domain is the fixed-at-construction TAP signing domain
// `{name:"TAP", version:"1", chain_id, verifying_contract}`.
type eip712Domain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           uint64 `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// TapMessage is the EIP-712 struct signed over for a TAP receipt.
type TapMessage struct {
	domain       eip712Domain
	AllocationID string `json:"allocation_id"`
	TimestampNs  uint64 `json:"timestamp_ns"`
	Nonce        uint64 `json:"nonce"`
	Value        string `json:"value"`
}

var tapTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Receipt": {
		{Name: "allocation_id", Type: "address"},
		{Name: "timestamp_ns", Type: "uint64"},
		{Name: "nonce", Type: "uint64"},
		{Name: "value", Type: "uint256"},
	},
}

// tapSigner produces EIP-712 signed TAP receipts.
type tapSigner struct {
	key      *ecdsa.PrivateKey
	address  models.IndexerID
	chainID  uint64
	verifier string
	domain   eip712Domain
}

func newTapSigner(key *ecdsa.PrivateKey, chainID uint64, verifier models.IndexerID) *tapSigner {
	return &tapSigner{
		key:      key,
		address:  models.IndexerID(crypto.PubkeyToAddress(key.PublicKey)),
		chainID:  chainID,
		verifier: verifier.Hex(),
		domain: eip712Domain{
			Name:              "TAP",
			Version:           "1",
			ChainID:           chainID,
			VerifyingContract: verifier.Hex(),
		},
	}
}

// createReceipt signs a new TAP receipt for allocation and fee. The nonce is
// drawn from a CSPRNG and the timestamp is the current UNIX time in
// nanoseconds.
func (s *tapSigner) createReceipt(allocation models.IndexerID, fee *big.Int) (*Receipt, error) {
	var nonceBuf [8]byte
	if _, err := rand.Read(nonceBuf[:]); err != nil {
		return nil, fmt.Errorf("failed to draw receipt nonce: %w", err)
	}
	nonce := binary.BigEndian.Uint64(nonceBuf[:])

	msg := &TapMessage{
		domain:       s.domain,
		AllocationID: allocation.Hex(),
		TimestampNs:  uint64(time.Now().UnixNano()),
		Nonce:        nonce,
		Value:        fee.String(),
	}

	typedData := apitypes.TypedData{
		Types:       tapTypes,
		PrimaryType: "Receipt",
		Domain: apitypes.TypedDataDomain{
			Name:              s.domain.Name,
			Version:           s.domain.Version,
			ChainId:           math.NewHexOrDecimal256(int64(s.chainID)),
			VerifyingContract: s.domain.VerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"allocation_id": allocation.Hex(),
			"timestamp_ns":  fmt.Sprintf("%d", msg.TimestampNs),
			"nonce":         fmt.Sprintf("%d", msg.Nonce),
			"value":         fee.String(),
		},
	}

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash EIP-712 receipt: %w", err)
	}

	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign receipt: %w", err)
	}

	r := &Receipt{
		kind:       KindTAP,
		allocation: allocation,
		value:      new(big.Int).Set(fee),
		tapMessage: msg,
	}
	copy(r.tapSignature[:], sig)
	return r, nil
}
