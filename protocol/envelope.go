package protocol

import (
	"encoding/base64"
	"encoding/json"
	"regexp"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/xeipuuv/gojsonschema"

	solgate "github.com/solgate-labs/solgate"
)

// envelopeSchema pins the shape of the proof envelope before any field is
// trusted. Unknown schemes pass here and are rejected by the verifier, so a
// scheme mismatch stays distinguishable from a malformed envelope.
const envelopeSchema = `{
	"type": "object",
	"required": ["x402Version", "scheme", "network", "payload"],
	"properties": {
		"x402Version": {"type": "integer", "minimum": 1},
		"scheme": {"type": "string", "minLength": 1},
		"network": {"type": "string", "minLength": 1},
		"payload": {
			"type": "object",
			"required": ["transaction"],
			"properties": {
				"transaction": {"type": "string", "minLength": 1}
			}
		}
	}
}`

var (
	envelopeSchemaLoader = gojsonschema.NewStringLoader(envelopeSchema)
	base64Pattern        = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)
)

// DecodeEnvelope decodes and validates the caller-supplied payment proof
// header. Every failure is a malformed-proof verification error; the
// envelope content is still untrusted after decoding.
func DecodeEnvelope(header string) (*solgate.PaymentEnvelope, error) {
	if header == "" {
		return nil, solgate.NewVerificationError(solgate.KindMalformedProof, "payment header is empty")
	}
	if !base64Pattern.MatchString(header) {
		return nil, solgate.NewVerificationError(solgate.KindMalformedProof, "payment header is not valid base64")
	}

	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, solgate.WrapVerificationError(solgate.KindMalformedProof, err, "base64 decoding failed")
	}

	result, err := gojsonschema.Validate(envelopeSchemaLoader, gojsonschema.NewBytesLoader(decoded))
	if err != nil {
		return nil, solgate.WrapVerificationError(solgate.KindMalformedProof, err, "payment envelope is not valid JSON")
	}
	if !result.Valid() {
		return nil, solgate.NewVerificationError(solgate.KindMalformedProof,
			"payment envelope rejected by schema: %s", result.Errors()[0].String())
	}

	var env solgate.PaymentEnvelope
	if err := json.Unmarshal(decoded, &env); err != nil {
		return nil, solgate.WrapVerificationError(solgate.KindMalformedProof, err, "payment envelope decoding failed")
	}
	return &env, nil
}

// DecodeTransaction decodes the base64 serialized transaction embedded in a
// proof envelope.
func DecodeTransaction(txBase64 string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return nil, solgate.WrapVerificationError(solgate.KindTransactionDecode, err, "transaction is not valid base64")
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, solgate.WrapVerificationError(solgate.KindTransactionDecode, err, "transaction deserialization failed")
	}
	return tx, nil
}

// PayerFromEnvelope extracts the transfer owner's address from a proof
// without verifying anything else. Used to establish a payer identity for
// pricing when the caller supplies no explicit one.
func PayerFromEnvelope(env *solgate.PaymentEnvelope) (string, error) {
	tx, err := DecodeTransaction(env.Payload.Transaction)
	if err != nil {
		return "", err
	}
	transfer, err := findTokenTransfer(tx)
	if err != nil {
		return "", err
	}
	return transfer.owner.String(), nil
}
