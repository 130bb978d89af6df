package balance

import (
	"context"
	"errors"
	"strconv"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// ChainClient reads SPL token account balances in atomic units.
type ChainClient interface {
	TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// RPCClient implements ChainClient against a Solana JSON-RPC endpoint.
type RPCClient struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
}

// NewRPCClient creates an RPCClient for the given endpoint.
func NewRPCClient(endpoint string) *RPCClient {
	return &RPCClient{
		client:     rpc.New(endpoint),
		commitment: rpc.CommitmentConfirmed,
	}
}

// TokenAccountBalance returns the atomic token balance of the given token
// account. A token account that does not exist on chain is balance zero,
// not an error.
func (c *RPCClient) TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := c.client.GetTokenAccountBalance(ctx, account, c.commitment)
	if err != nil {
		if isAccountNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	if out == nil || out.Value == nil {
		return 0, nil
	}
	return strconv.ParseUint(out.Value.Amount, 10, 64)
}

// isAccountNotFound detects the RPC error returned for token accounts that
// have never been created.
func isAccountNotFound(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return strings.Contains(rpcErr.Message, "could not find account")
	}
	return false
}
