package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/multisig-custody/backend/internal/models"
)

var ErrNoConnector = errors.New("no broadcast connector for chain")

// Connector submits a fully signed transaction to a chain network and
// returns the transaction hash.
type Connector interface {
	Broadcast(ctx context.Context, tx *models.SignedTransaction) (string, error)
}

// Registry maps chain names to connectors.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

func (r *Registry) Register(chain string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[strings.ToLower(chain)] = c
}

func (r *Registry) For(chain string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[strings.ToLower(chain)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoConnector, chain)
	}
	return c, nil
}

func (r *Registry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chains := make([]string, 0, len(r.connectors))
	for c := range r.connectors {
		chains = append(chains, c)
	}
	sort.Strings(chains)
	return chains
}
