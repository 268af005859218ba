package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
)

// Role is the logical name of a deployed contract's purpose.
type Role string

const (
	RoleAccessToken Role = "accessToken"
	RoleFaucet      Role = "faucet"
	RoleFaucetProxy Role = "faucetProxy"
)

// canonicalRoles are always present in the persisted file, null when unset.
var canonicalRoles = []Role{RoleAccessToken, RoleFaucet, RoleFaucetProxy}

// legacyKeys maps key names written by older deploy scripts onto the
// canonical schema. They are read, never written.
var legacyKeys = map[string]Role{
	"earlyAccessNFT":     RoleAccessToken,
	"EarlyAccessNFT":     RoleAccessToken,
	"faucetProxyAddress": RoleFaucetProxy,
	"FaucetProxy":        RoleFaucetProxy,
	"faucetAddress":      RoleFaucet,
}

const chainIDKey = "chainId"

// Record maps roles to on-chain addresses. The zero value is an empty record.
type Record struct {
	ChainID uint64
	roles   map[Role]common.Address
}

// NewRecord returns an empty record bound to chainID (0 = unknown).
func NewRecord(chainID uint64) *Record {
	return &Record{ChainID: chainID, roles: make(map[Role]common.Address)}
}

// Get returns the address stored for role.
func (r *Record) Get(role Role) (common.Address, error) {
	addr, ok := r.roles[role]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrMissingRole, role)
	}
	return addr, nil
}

// Has reports whether role is populated.
func (r *Record) Has(role Role) bool {
	_, ok := r.roles[role]
	return ok
}

// Set stores addr under role. The two faucet roles are mutually exclusive:
// writing one drops the other.
func (r *Record) Set(role Role, addr common.Address) {
	if r.roles == nil {
		r.roles = make(map[Role]common.Address)
	}
	switch role {
	case RoleFaucet:
		delete(r.roles, RoleFaucetProxy)
	case RoleFaucetProxy:
		delete(r.roles, RoleFaucet)
	}
	r.roles[role] = addr
}

// Delete removes role from the record.
func (r *Record) Delete(role Role) {
	delete(r.roles, role)
}

// Roles returns the populated roles in sorted order.
func (r *Record) Roles() []Role {
	roles := lo.Keys(r.roles)
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// FaucetAddress resolves whichever faucet role the deployment produced.
func (r *Record) FaucetAddress() (Role, common.Address, error) {
	if addr, ok := r.roles[RoleFaucetProxy]; ok {
		return RoleFaucetProxy, addr, nil
	}
	if addr, ok := r.roles[RoleFaucet]; ok {
		return RoleFaucet, addr, nil
	}
	return "", common.Address{}, fmt.Errorf("%w: %s or %s", ErrMissingRole, RoleFaucetProxy, RoleFaucet)
}

// CheckChain fails when the record is bound to a chain other than id. An
// unbound record (ChainID 0) matches any chain.
func (r *Record) CheckChain(id uint64) error {
	if r.ChainID != 0 && id != 0 && r.ChainID != id {
		return fmt.Errorf("%w: record %d, connected %d", ErrChainMismatch, r.ChainID, id)
	}
	return nil
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	out := NewRecord(r.ChainID)
	for role, addr := range r.roles {
		out.roles[role] = addr
	}
	return out
}

// Map returns role → checksummed address for populated roles.
func (r *Record) Map() map[string]string {
	return lo.MapEntries(r.roles, func(role Role, addr common.Address) (string, string) {
		return string(role), addr.Hex()
	})
}

// MarshalJSON writes the canonical flat schema:
//
//	{"accessToken": "0x..", "chainId": 1, "faucet": null, "faucetProxy": "0x.."}
func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(canonicalRoles)+1)
	for _, role := range canonicalRoles {
		out[string(role)] = nil
	}
	for role, addr := range r.roles {
		out[string(role)] = addr.Hex()
	}
	if r.ChainID != 0 {
		out[chainIDKey] = r.ChainID
	}
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.roles = make(map[Role]common.Address)
	r.ChainID = 0

	// Canonical keys win over legacy aliases, so apply aliases first.
	keys := lo.Keys(raw)
	sort.Slice(keys, func(i, j int) bool {
		_, li := legacyKeys[keys[i]]
		_, lj := legacyKeys[keys[j]]
		if li != lj {
			return li
		}
		return keys[i] < keys[j]
	})

	for _, key := range keys {
		val := raw[key]
		if key == chainIDKey {
			id, err := parseChainID(val)
			if err != nil {
				return fmt.Errorf("chainId: %w", err)
			}
			r.ChainID = id
			continue
		}
		role := Role(key)
		if alias, ok := legacyKeys[key]; ok {
			role = alias
		}
		var s *string
		if err := json.Unmarshal(val, &s); err != nil {
			return fmt.Errorf("role %s: %w", key, err)
		}
		if s == nil || *s == "" {
			continue
		}
		if !common.IsHexAddress(*s) {
			return fmt.Errorf("role %s: invalid address %q", key, *s)
		}
		r.roles[role] = common.HexToAddress(*s)
	}
	if r.Has(RoleFaucet) && r.Has(RoleFaucetProxy) {
		return ErrConflictingRoles
	}
	return nil
}

func parseChainID(val json.RawMessage) (uint64, error) {
	var n uint64
	if err := json.Unmarshal(val, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(val, &s); err != nil {
		return 0, err
	}
	return strconv.ParseUint(s, 10, 64)
}
