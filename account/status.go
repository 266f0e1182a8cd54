package account

import (
	"context"

	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/crypto"
)

// Status is a read-only snapshot of the account.
type Status struct {
	AccountExists bool              `json:"account_exists"`
	Unlocked      bool              `json:"unlocked"`
	Generation    uint64            `json:"generation"`
	IdentityReady bool              `json:"identity_ready"`
	Identity      *backend.Identity `json:"identity,omitempty"`
}

// Status reports the account state. It takes the same locks as
// CreateIdentity, one at a time.
func (m *Manager) Status(ctx context.Context) Status {
	var st Status

	m.storeMu.Lock()
	st.AccountExists = m.store.Exists(crypto.KeypairEntry)
	st.Unlocked = m.store.IsUnlocked()
	m.storeMu.Unlock()

	st.Generation = m.bundle.Generations().Identity

	if ident, err := m.ownIdentity(ctx); err == nil {
		st.IdentityReady = true
		st.Identity = &ident
	}
	return st
}
