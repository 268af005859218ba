package deployer

import (
	"fmt"
	"strings"

	"github.com/0gfoundation/gated-faucet/internal/store"
)

// Mode selects how the faucet is deployed.
type Mode int

const (
	// ModePlain deploys the faucet directly with constructor arguments.
	ModePlain Mode = iota + 1
	// ModeUpgradeableProxy deploys an implementation behind an ERC1967 UUPS
	// proxy and initializes it through the proxy.
	ModeUpgradeableProxy
)

// ParseMode accepts "plain" and "upgradeable-proxy" ("proxy" and "uups" are
// accepted as shorthands).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain":
		return ModePlain, nil
	case "upgradeable-proxy", "proxy", "uups":
		return ModeUpgradeableProxy, nil
	}
	return 0, fmt.Errorf("unknown deploy mode %q", s)
}

func (m Mode) String() string {
	switch m {
	case ModePlain:
		return "plain"
	case ModeUpgradeableProxy:
		return "upgradeable-proxy"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Role is the record entry the faucet step writes in this mode.
func (m Mode) Role() store.Role {
	if m == ModeUpgradeableProxy {
		return store.RoleFaucetProxy
	}
	return store.RoleFaucet
}
