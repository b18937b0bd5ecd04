package ledger

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
)

// Router dispatches ledger reads to the client configured for a network.
type Router struct {
	clients map[string]Client
}

func NewRouter() *Router {
	return &Router{clients: make(map[string]Client)}
}

// Register binds a network key to a client. Later registrations replace
// earlier ones.
func (r *Router) Register(network string, client Client) {
	r.clients[network] = client
}

func (r *Router) client(network string) (Client, error) {
	client, ok := r.clients[network]
	if !ok {
		return nil, fmt.Errorf("no ledger client registered for network %q", network)
	}
	return client, nil
}

// NextNonce resolves the signer's next sequential nonce on a network.
func (r *Router) NextNonce(ctx context.Context, network, signer, contract string) (uint64, error) {
	client, err := r.client(network)
	if err != nil {
		return 0, err
	}
	return client.GetTransactionNonce(ctx, signer, contract)
}

// Balance resolves the signer's token balance on a network.
func (r *Router) Balance(ctx context.Context, network, address, token string) (*uint256.Int, error) {
	client, err := r.client(network)
	if err != nil {
		return nil, err
	}
	return client.GetBalance(ctx, address, token)
}
