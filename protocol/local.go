package protocol

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"strconv"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"go.uber.org/zap"

	solgate "github.com/solgate-labs/solgate"
)

// LocalVerifier independently verifies a submitted payment transaction
// without any network dependency: it decodes the transaction, matches the
// transfer instruction's mint, amount, and derived token accounts against
// the requirement, and checks the payer's ed25519 signature. Verification
// is a pure function of its inputs.
type LocalVerifier struct {
	network string
	mint    solana.PublicKey
	payTo   solana.PublicKey
	log     *zap.Logger
}

// NewLocalVerifier creates a LocalVerifier for the configured merchant.
func NewLocalVerifier(cfg RequirementConfig, log *zap.Logger) (*LocalVerifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalVerifier{
		network: cfg.Network,
		mint:    solana.MustPublicKeyFromBase58(cfg.Asset),
		payTo:   solana.MustPublicKeyFromBase58(cfg.PayTo),
		log:     log,
	}, nil
}

// tokenTransfer is the decoded SPL transfer instruction under inspection.
// mint is nil for the legacy Transfer form, which carries no mint account.
type tokenTransfer struct {
	source      solana.PublicKey
	destination solana.PublicKey
	owner       solana.PublicKey
	mint        *solana.PublicKey
	amount      uint64
}

// Verify checks the proof against the requirement. Every failure mode maps
// to a distinct *solgate.VerificationError kind.
func (v *LocalVerifier) Verify(env *solgate.PaymentEnvelope, req solgate.PaymentRequirements) (*solgate.VerifyResult, error) {
	switch env.Scheme {
	case solgate.SchemeExact:
	default:
		return nil, solgate.NewVerificationError(solgate.KindSchemeMismatch,
			"unsupported scheme %q", env.Scheme)
	}
	if env.Network != req.Network {
		return nil, solgate.NewVerificationError(solgate.KindSchemeMismatch,
			"network %q does not match required %q", env.Network, req.Network)
	}

	tx, err := DecodeTransaction(env.Payload.Transaction)
	if err != nil {
		return nil, err
	}

	transfer, err := findTokenTransfer(tx)
	if err != nil {
		return nil, err
	}

	required, err := strconv.ParseUint(req.MaxAmountRequired, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("requirement carries non-numeric amount %q: %w", req.MaxAmountRequired, err)
	}
	// Exact equality, no tolerance.
	if transfer.amount != required {
		return nil, solgate.NewVerificationError(solgate.KindAmountMismatch,
			"transfer amount %d does not equal required %d", transfer.amount, required)
	}

	if transfer.mint != nil && !transfer.mint.Equals(v.mint) {
		return nil, solgate.NewVerificationError(solgate.KindAccountMismatch,
			"transfer mint %s is not the required asset %s", transfer.mint, v.mint)
	}

	// The source and destination must be the associated token accounts
	// derived from (payer, mint) and (payTo, mint). Raw account fields are
	// never trusted on their own.
	expectedSource, _, err := solana.FindAssociatedTokenAddress(transfer.owner, v.mint)
	if err != nil {
		return nil, fmt.Errorf("derive source token account: %w", err)
	}
	expectedDest, _, err := solana.FindAssociatedTokenAddress(v.payTo, v.mint)
	if err != nil {
		return nil, fmt.Errorf("derive destination token account: %w", err)
	}
	if !transfer.source.Equals(expectedSource) {
		return nil, solgate.NewVerificationError(solgate.KindAccountMismatch,
			"source %s is not the payer's associated token account", transfer.source)
	}
	if !transfer.destination.Equals(expectedDest) {
		return nil, solgate.NewVerificationError(solgate.KindAccountMismatch,
			"destination %s is not the merchant's associated token account", transfer.destination)
	}

	sig, err := payerSignature(tx, transfer.owner)
	if err != nil {
		return nil, err
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize message for signature check: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(transfer.owner[:]), message, sig[:]) {
		return nil, solgate.NewVerificationError(solgate.KindInvalidSignature,
			"signature attributed to %s does not verify", transfer.owner)
	}

	return &solgate.VerifyResult{
		IsValid:          true,
		Payer:            transfer.owner.String(),
		ViaLocalFallback: true,
	}, nil
}

// findTokenTransfer locates the SPL token transfer instruction addressed to
// the Token or Token-2022 program. Both the legacy Transfer and the
// TransferChecked forms are recognized; the u64 amount sits little-endian
// right after the one-byte discriminator in either form.
func findTokenTransfer(tx *solana.Transaction) (*tokenTransfer, error) {
	keys := tx.Message.AccountKeys

	account := func(inst solana.CompiledInstruction, pos int) (solana.PublicKey, bool) {
		if pos >= len(inst.Accounts) {
			return solana.PublicKey{}, false
		}
		idx := int(inst.Accounts[pos])
		if idx >= len(keys) {
			return solana.PublicKey{}, false
		}
		return keys[idx], true
	}

	for _, inst := range tx.Message.Instructions {
		progIdx := int(inst.ProgramIDIndex)
		if progIdx >= len(keys) {
			continue
		}
		prog := keys[progIdx]
		if !prog.Equals(solana.TokenProgramID) && !prog.Equals(solana.Token2022ProgramID) {
			continue
		}

		data := []byte(inst.Data)
		if len(data) < 9 {
			continue
		}
		amount := binary.LittleEndian.Uint64(data[1:9])

		switch data[0] {
		case token.Instruction_TransferChecked:
			// Accounts: [source, mint, destination, owner, ...signers]
			source, ok1 := account(inst, 0)
			mint, ok2 := account(inst, 1)
			dest, ok3 := account(inst, 2)
			owner, ok4 := account(inst, 3)
			if !ok1 || !ok2 || !ok3 || !ok4 {
				return nil, solgate.NewVerificationError(solgate.KindTransactionDecode,
					"transfer instruction references accounts outside the transaction")
			}
			return &tokenTransfer{source: source, destination: dest, owner: owner, mint: &mint, amount: amount}, nil

		case token.Instruction_Transfer:
			// Accounts: [source, destination, owner, ...signers]
			source, ok1 := account(inst, 0)
			dest, ok2 := account(inst, 1)
			owner, ok3 := account(inst, 2)
			if !ok1 || !ok2 || !ok3 {
				return nil, solgate.NewVerificationError(solgate.KindTransactionDecode,
					"transfer instruction references accounts outside the transaction")
			}
			return &tokenTransfer{source: source, destination: dest, owner: owner, amount: amount}, nil
		}
	}

	return nil, solgate.NewVerificationError(solgate.KindNoTransferInstruction,
		"no token transfer instruction addressed to the token program")
}

// payerSignature returns the signature slot attributed to the payer's public
// key. Signatures align positionally with the first NumRequiredSignatures
// account keys of the message.
func payerSignature(tx *solana.Transaction, payer solana.PublicKey) (solana.Signature, error) {
	numRequired := int(tx.Message.Header.NumRequiredSignatures)
	if numRequired > len(tx.Message.AccountKeys) {
		numRequired = len(tx.Message.AccountKeys)
	}

	for i := 0; i < numRequired; i++ {
		if !tx.Message.AccountKeys[i].Equals(payer) {
			continue
		}
		if i >= len(tx.Signatures) {
			break
		}
		sig := tx.Signatures[i]
		if sig.IsZero() {
			break
		}
		return sig, nil
	}

	return solana.Signature{}, solgate.NewVerificationError(solgate.KindMissingSignature,
		"no signature attributed to payer %s", payer)
}
