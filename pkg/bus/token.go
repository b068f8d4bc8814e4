package bus

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

// tokenStore holds the process-wide master access token. A zero master
// token disables the override.
type tokenStore struct {
	mu     sync.Mutex
	master uint64
}

// admit applies the access-token rule: a zero device token means no
// protection; otherwise the request must carry either the device token or
// the master token.
func (t *tokenStore) admit(deviceToken, requestToken uint64) bool {
	if deviceToken == 0 {
		return true
	}
	if requestToken == deviceToken {
		return true
	}
	t.mu.Lock()
	master := t.master
	t.mu.Unlock()
	return master != 0 && requestToken == master
}

// SetMasterToken installs the process-wide master token. Zero clears it.
func (b *Bus) SetMasterToken(token uint64) {
	b.tokens.mu.Lock()
	b.tokens.master = token
	b.tokens.mu.Unlock()
}

// MasterToken returns the current master token.
func (b *Bus) MasterToken() uint64 {
	b.tokens.mu.Lock()
	defer b.tokens.mu.Unlock()
	return b.tokens.master
}

// GenerateToken mints a random non-zero 64-bit access token.
func GenerateToken() uint64 {
	for {
		id := uuid.New()
		if token := binary.BigEndian.Uint64(id[:8]); token != 0 {
			return token
		}
	}
}
