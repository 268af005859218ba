package deployer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/gated-faucet/internal/chain"
	"github.com/0gfoundation/gated-faucet/internal/store"
)

// RoleStatus is the on-chain state behind one recorded role.
type RoleStatus struct {
	Role     store.Role
	Address  common.Address
	Deployed bool // code present at Address
	// Implementation is read from the EIP-1967 slot for faucetProxy.
	Implementation common.Address
}

// Status checks every recorded role against the chain.
func Status(ctx context.Context, ledger chain.Ledger, rec *store.Record) ([]RoleStatus, error) {
	r := runner{ledger: ledger}
	out := []RoleStatus{}
	for _, role := range rec.Roles() {
		addr, _ := rec.Get(role)
		code, err := ledger.CodeAt(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", role, err)
		}
		st := RoleStatus{Role: role, Address: addr, Deployed: len(code) > 0}
		if role == store.RoleFaucetProxy && st.Deployed {
			if st.Implementation, err = r.implementationOf(ctx, addr); err != nil {
				return nil, fmt.Errorf("%s implementation: %w", role, err)
			}
		}
		out = append(out, st)
	}
	return out, nil
}
