package dfs

import (
	"time"

	"github.com/google/uuid"
)

// Clock reads the time for confirmation metrics and ledger timestamps.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Tokens hands out execution tokens. A token ties a wallet response to the
// Execute call still waiting for it; a response whose token was given up is
// stale and discarded.
type Tokens interface {
	Next(op Op) string
}

// RandomTokens prefixes a random UUID with the operation so tokens read well
// in logs.
type RandomTokens struct{}

func (RandomTokens) Next(op Op) string { return string(op) + "-" + uuid.NewString() }
