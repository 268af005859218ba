// Package contracts loads compiled contract artifacts and holds the fixed
// ABIs the orchestrator needs to talk to proxies.
package contracts

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Conventional Foundry artifact names.
const (
	AccessTokenName = "EarlyAccessNFT"
	FaucetName      = "Faucet"
	ProxyName       = "ERC1967Proxy"
)

// Artifact is a compiled contract: its ABI plus creation bytecode.
type Artifact struct {
	Name     string
	ABI      abi.ABI
	Bytecode []byte
}

// HasMethod reports whether the ABI exposes a function called name.
func (a *Artifact) HasMethod(name string) bool {
	_, ok := a.ABI.Methods[name]
	return ok
}

// foundryArtifact is the subset of forge's out/<File>.sol/<Name>.json we read.
type foundryArtifact struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode struct {
		Object string `json:"object"`
	} `json:"bytecode"`
}

// LoadArtifact reads a Foundry artifact from path.
func LoadArtifact(path string) (*Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	var fa foundryArtifact
	if err := json.Unmarshal(raw, &fa); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return NewArtifact(name, string(fa.ABI), fa.Bytecode.Object)
}

// NewArtifact builds an artifact from an ABI JSON string and hex bytecode.
func NewArtifact(name, abiJSON, bytecodeHex string) (*Artifact, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse %s ABI: %w", name, err)
	}
	code, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(bytecodeHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode %s bytecode: %w", name, err)
	}
	return &Artifact{Name: name, ABI: parsed, Bytecode: code}, nil
}

// Artifacts resolves contracts inside a forge "out" directory.
type Artifacts struct {
	Dir string
}

// Path returns <dir>/<name>.sol/<name>.json.
func (a Artifacts) Path(name string) string {
	return filepath.Join(a.Dir, name+".sol", name+".json")
}

// Load reads the named artifact.
func (a Artifacts) Load(name string) (*Artifact, error) {
	return LoadArtifact(a.Path(name))
}

// LoadFrom reads an artifact from an explicit file when given, falling back
// to the conventional location for name.
func (a Artifacts) LoadFrom(path, name string) (*Artifact, error) {
	if path != "" {
		return LoadArtifact(path)
	}
	return a.Load(name)
}
