package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ImplementationSlot is the EIP-1967 storage slot holding a proxy's
// implementation address: bytes32(uint256(keccak256("eip1967.proxy.implementation")) - 1).
var ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

// ERC1967Proxy constructor: (address implementation, bytes data) payable.
// The data is delegate-called into the implementation during construction,
// which is how the initializer runs atomically with the proxy deployment.
const erc1967ProxyABI = `[{
	"type": "constructor",
	"inputs": [
		{"name": "implementation", "type": "address"},
		{"name": "_data",          "type": "bytes"}
	],
	"stateMutability": "payable"
}]`

// UUPS entry points implemented by the logic contract (OpenZeppelin v5).
const uupsABI = `[
	{"type":"function","name":"upgradeToAndCall","inputs":[{"name":"newImplementation","type":"address"},{"name":"data","type":"bytes"}],"outputs":[],"stateMutability":"payable"},
	{"type":"function","name":"proxiableUUID","inputs":[],"outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view"},
	{"type":"function","name":"UPGRADE_INTERFACE_VERSION","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"}
]`

var (
	// ProxyConstructorABI is used when a full ERC1967Proxy artifact ships
	// without an ABI, or to pack constructor args independently of it.
	ProxyConstructorABI = mustABI(erc1967ProxyABI)
	// UUPSABI addresses the upgrade functions through the proxy.
	UUPSABI = mustABI(uupsABI)
)

func mustABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// AddressFromSlot extracts the right-aligned address stored in a 32-byte slot.
func AddressFromSlot(word []byte) common.Address {
	return common.BytesToAddress(common.LeftPadBytes(word, 32)[12:])
}
