package http

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	solgate "github.com/solgate-labs/solgate"
	"github.com/solgate-labs/solgate/paywall"
	"github.com/solgate-labs/solgate/pricing"
	"github.com/solgate-labs/solgate/protocol"
)

// The full pipeline with real protocol components: gin middleware,
// orchestrator, fallback client against a facilitator stub that rejects
// everything, and local verification of a genuinely signed transaction.
func TestPaywallEndToEnd(t *testing.T) {
	payerKey, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	mint := solana.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU")
	merchant := solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")

	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(solgate.VerifyResult{IsValid: false, InvalidReason: "unexpected_verify_error"})
	}))
	defer facilitator.Close()

	cfg := protocol.RequirementConfig{
		Network:        "solana-devnet",
		Asset:          mint.String(),
		PayTo:          merchant.String(),
		FacilitatorURL: facilitator.URL,
		MimeType:       "application/json",
	}
	local, err := protocol.NewLocalVerifier(cfg, nil)
	require.NoError(t, err)
	remote := protocol.NewFacilitator(protocol.FacilitatorConfig{URL: facilitator.URL}, nil)
	client := protocol.NewFallbackClient(cfg, remote, local, nil)

	engine := pricing.NewEngine(pricing.Config{AssetDecimals: 6}, stubBalances{}, nil)
	orch := paywall.New(paywall.Config{
		DefaultPriceAtomic: 10_000,
		FacilitatorURL:     facilitator.URL,
	}, engine, client, nil)

	r := gin.New()
	r.GET("/data", Paywall(orch), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"weather": "sunny"})
	})

	// First pass: no proof, expect a challenge matching the configuration.
	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	r.ServeHTTP(first, req)

	require.Equal(t, http.StatusPaymentRequired, first.Code)
	var challenge solgate.PaymentRequiredResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &challenge))
	require.Len(t, challenge.Challenge.Accepts, 1)
	accepted := challenge.Challenge.Accepts[0]
	assert.Equal(t, mint.String(), accepted.Asset)
	assert.Equal(t, merchant.String(), accepted.PayTo)
	assert.Equal(t, "10000", accepted.MaxAmountRequired)

	// Retry with a correctly signed, correctly amounted transfer.
	proof := signedProof(t, payerKey, mint, merchant, 10_000)
	second := httptest.NewRecorder()
	paid := httptest.NewRequest(http.MethodGet, "/data", nil)
	paid.Header.Set(HeaderPayment, proof)
	r.ServeHTTP(second, paid)

	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, proof, second.Header().Get(HeaderReceipt))
	assert.Contains(t, second.Body.String(), "sunny")

	// A wrongly amounted retry is rejected with the challenge re-issued.
	bad := signedProof(t, payerKey, mint, merchant, 9_999)
	third := httptest.NewRecorder()
	underpaid := httptest.NewRequest(http.MethodGet, "/data", nil)
	underpaid.Header.Set(HeaderPayment, bad)
	r.ServeHTTP(third, underpaid)

	require.Equal(t, http.StatusPaymentRequired, third.Code)
	var rejected solgate.PaymentRequiredResponse
	require.NoError(t, json.Unmarshal(third.Body.Bytes(), &rejected))
	assert.Equal(t, string(solgate.KindAmountMismatch), rejected.InvalidReason)
	require.Len(t, rejected.Challenge.Accepts, 1)
}

func signedProof(t *testing.T, payerKey solana.PrivateKey, mint, merchant solana.PublicKey, amount uint64) string {
	t.Helper()

	owner := payerKey.PublicKey()
	source, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)
	dest, _, err := solana.FindAssociatedTokenAddress(merchant, mint)
	require.NoError(t, err)

	ix, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(6).
		SetSourceAccount(source).
		SetMintAccount(mint).
		SetDestinationAccount(dest).
		SetOwnerAccount(owner).
		ValidateAndBuild()
	require.NoError(t, err)

	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{}, solana.TransactionPayer(owner))
	require.NoError(t, err)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(owner) {
			return &payerKey
		}
		return nil
	})
	require.NoError(t, err)

	txBase64, err := tx.ToBase64()
	require.NoError(t, err)

	env := solgate.PaymentEnvelope{
		X402Version: solgate.X402Version,
		Scheme:      solgate.SchemeExact,
		Network:     "solana-devnet",
		Payload:     solgate.ExactPayload{Transaction: txBase64},
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}
