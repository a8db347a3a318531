package api

import (
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

var errReplayed = errors.New("signed request already used")

// replayGuard remembers the EIP-712 digest of every accepted signed request.
// An entry outlives the latest deadline the server would accept, so a digest
// can only be forgotten once its request is expired anyway.
type replayGuard struct {
	mu   sync.Mutex
	seen *expirable.LRU[common.Hash, struct{}]
}

func newReplayGuard(maxAge time.Duration) *replayGuard {
	return &replayGuard{
		seen: expirable.NewLRU[common.Hash, struct{}](0, nil, maxAge+time.Minute),
	}
}

// consume records digest and fails if it was recorded before
func (g *replayGuard) consume(digest []byte) error {
	key := common.BytesToHash(digest)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen.Contains(key) {
		return errReplayed
	}
	g.seen.Add(key, struct{}{})
	return nil
}
