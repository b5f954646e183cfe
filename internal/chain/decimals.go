package chain

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type DecimalsSource interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// TokenDecimals memoizes token precision for the process lifetime. Decimals are
// immutable on-chain, so entries are never evicted. Two callers resolving the
// same unseen token at once may both hit the source; the second write is a no-op.
type TokenDecimals struct {
	source DecimalsSource

	mu    sync.RWMutex
	cache map[common.Address]uint8
}

func NewTokenDecimals(source DecimalsSource) *TokenDecimals {
	return &TokenDecimals{
		source: source,
		cache:  make(map[common.Address]uint8),
	}
}

func (t *TokenDecimals) Get(ctx context.Context, token common.Address) (uint8, error) {
	t.mu.RLock()
	decimals, ok := t.cache[token]
	t.mu.RUnlock()
	if ok {
		return decimals, nil
	}

	decimals, err := t.source.Decimals(ctx, token)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	t.cache[token] = decimals
	t.mu.Unlock()

	return decimals, nil
}
