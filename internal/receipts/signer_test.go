package receipts

import (
	"encoding/json"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphops/query-gateway/internal/ethereum"
)

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func mustAddress(t *testing.T, s string) ethereum.Address {
	t.Helper()
	addr, err := ethereum.AddressFromHex(s)
	require.NoError(t, err)
	return addr
}

func newTestLegacySigner(t *testing.T) *legacySigner {
	t.Helper()
	key, err := crypto.ToECDSA(bytesOf(0xcd, 32))
	require.NoError(t, err)
	return newLegacySigner(key)
}

func newTestTapSigner(t *testing.T) *tapSigner {
	t.Helper()
	key, err := crypto.ToECDSA(bytesOf(0xcd, 32))
	require.NoError(t, err)
	verifier := mustAddress(t, "0x177b557b12f22bb17a9d73dcc994d978dd6f5f89")
	return newTapSigner(key, 1, verifier)
}

func TestSigner_CreateLegacy(t *testing.T) {
	allocation := mustAddress(t, "0x89b23fea4e46d40e8a4c6cca723e2a03fdd4bec2")
	fee := big.NewInt(1000)

	t.Run("creates a non-empty ticket with the requested fee", func(t *testing.T) {
		signer := newTestLegacySigner(t)

		receipt, err := signer.createReceipt(allocation, fee)

		require.NoError(t, err)
		assert.Equal(t, 0, fee.Cmp(receipt.Value()))
		assert.True(t, receipt.IsLegacy())
	})

	t.Run("reuses an existing pool for the same allocation", func(t *testing.T) {
		signer := newTestLegacySigner(t)
		_, err := signer.createReceipt(allocation, fee)
		require.NoError(t, err)

		receipt, err := signer.createReceipt(allocation, fee)

		require.NoError(t, err)
		assert.Equal(t, 0, fee.Cmp(receipt.Value()))
	})

	t.Run("released tickets are recycled into the next commit", func(t *testing.T) {
		signer := newTestLegacySigner(t)
		first, err := signer.createReceipt(allocation, fee)
		require.NoError(t, err)
		signer.recordReceipt(allocation, first.legacyTicket, ReceiptStatusFailure)

		second, err := signer.createReceipt(allocation, fee)

		require.NoError(t, err)
		assert.Empty(t, signer.pools[allocation].free)
		assert.Equal(t, first.legacyTicket[:36], second.legacyTicket[:36])
		assert.NotEqual(t, first.legacyTicket[36:44], second.legacyTicket[36:44])
	})
}

func TestSigner_CreateTap(t *testing.T) {
	allocation := mustAddress(t, "0x89b23fea4e46d40e8a4c6cca723e2a03fdd4bec2")

	t.Run("signs a TAP receipt carrying the requested fee", func(t *testing.T) {
		signer := newTestTapSigner(t)
		fee := big.NewInt(1000)

		receipt, err := signer.createReceipt(allocation, fee)

		require.NoError(t, err)
		assert.Equal(t, 0, fee.Cmp(receipt.Value()))
		assert.Equal(t, allocation, receipt.Allocation())
		assert.False(t, receipt.IsLegacy())
	})

	t.Run("domain is fixed at construction", func(t *testing.T) {
		signer := newTestTapSigner(t)

		assert.Equal(t, "TAP", signer.domain.Name)
		assert.Equal(t, "1", signer.domain.Version)
		assert.Equal(t, uint64(1), signer.domain.ChainID)
	})
}

func TestTapReceipt_SignatureVerifies(t *testing.T) {
	key, err := crypto.ToECDSA(bytesOf(0xcd, 32))
	require.NoError(t, err)
	verifier := mustAddress(t, "0x177b557b12f22bb17a9d73dcc994d978dd6f5f89")
	signer := newTapSigner(key, 1, verifier)
	allocation := mustAddress(t, "0x89b23fea4e46d40e8a4c6cca723e2a03fdd4bec2")

	receipt, err := signer.createReceipt(allocation, big.NewInt(1000))
	require.NoError(t, err)

	typedData := apitypes.TypedData{
		Types:       tapTypes,
		PrimaryType: "Receipt",
		Domain: apitypes.TypedDataDomain{
			Name:              "TAP",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(1),
			VerifyingContract: verifier.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"allocation_id": receipt.tapMessage.AllocationID,
			"timestamp_ns":  fmt.Sprintf("%d", receipt.tapMessage.TimestampNs),
			"nonce":         fmt.Sprintf("%d", receipt.tapMessage.Nonce),
			"value":         receipt.tapMessage.Value,
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	require.NoError(t, err)

	pub, err := crypto.SigToPub(digest, receipt.tapSignature[:])
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(*pub))
	assert.Equal(t, "1000", receipt.tapMessage.Value)
	assert.Equal(t, allocation.Hex(), receipt.tapMessage.AllocationID)
}

func TestReceipt_Serialize(t *testing.T) {
	allocation := mustAddress(t, "0x89b23fea4e46d40e8a4c6cca723e2a03fdd4bec2")

	t.Run("legacy receipts omit the trailing signature fragment on the wire", func(t *testing.T) {
		signer := newTestLegacySigner(t)
		receipt, err := signer.createReceipt(allocation, big.NewInt(1000))
		require.NoError(t, err)

		wire, err := receipt.Serialize()

		require.NoError(t, err)
		assert.Len(t, wire, (legacyTicketSize-32)*2)
		assert.Equal(t, "Scalar-Receipt", receipt.HeaderName())
	})

	t.Run("TAP receipts serialize as a JSON signed message", func(t *testing.T) {
		signer := newTestTapSigner(t)
		receipt, err := signer.createReceipt(allocation, big.NewInt(1000))
		require.NoError(t, err)

		wire, err := receipt.Serialize()

		require.NoError(t, err)
		var decoded struct {
			Domain struct {
				Name string `json:"name"`
			} `json:"domain"`
			Message struct {
				Value string `json:"value"`
			} `json:"message"`
			Signature string `json:"signature"`
		}
		require.NoError(t, json.Unmarshal([]byte(wire), &decoded))
		assert.Equal(t, "TAP", decoded.Domain.Name)
		assert.Equal(t, "1000", decoded.Message.Value)
		assert.NotEmpty(t, decoded.Signature)
		assert.Equal(t, "Tap-Receipt", receipt.HeaderName())
	})
}
