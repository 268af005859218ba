package deployer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0gfoundation/gated-faucet/internal/chain"
	"github.com/0gfoundation/gated-faucet/internal/chain/chaintest"
	"github.com/0gfoundation/gated-faucet/internal/config"
	"github.com/0gfoundation/gated-faucet/internal/contracts"
	"github.com/0gfoundation/gated-faucet/internal/store"
)

const (
	tokenABI = `[
		{"type":"constructor","inputs":[{"name":"name","type":"string"},{"name":"symbol","type":"string"}],"stateMutability":"nonpayable"},
		{"type":"function","name":"mintTo","inputs":[{"name":"to","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"name","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"}
	]`

	// Initializer-only faucet, as compiled for UUPS.
	uupsFaucetABI = `[
		{"type":"function","name":"initialize","inputs":[{"name":"nft","type":"address"},{"name":"claimAmount","type":"uint256"},{"name":"cooldown","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"claim","inputs":[{"name":"to","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"fundFaucet","inputs":[],"outputs":[],"stateMutability":"payable"},
		{"type":"function","name":"balance","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
		{"type":"function","name":"version","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"}
	]`

	plainFaucetABI = `[
		{"type":"constructor","inputs":[{"name":"nft","type":"address"},{"name":"claimAmount","type":"uint256"},{"name":"cooldown","type":"uint256"}],"stateMutability":"nonpayable"},
		{"type":"function","name":"claim","inputs":[{"name":"to","type":"address"}],"outputs":[],"stateMutability":"nonpayable"}
	]`
)

var errBoom = errors.New("boom")

// ── helpers ───────────────────────────────────────────────────────────────────

func mustArtifact(t *testing.T, name, abiJSON string) *contracts.Artifact {
	t.Helper()
	art, err := contracts.NewArtifact(name, abiJSON, "0x6001600055")
	require.NoError(t, err)
	return art
}

func testArtifacts(t *testing.T, faucetABI string) Artifacts {
	return Artifacts{
		AccessToken: mustArtifact(t, contracts.AccessTokenName, tokenABI),
		Faucet:      mustArtifact(t, contracts.FaucetName, faucetABI),
		Proxy:       mustArtifact(t, contracts.ProxyName, `[]`),
	}
}

func testPlan(mode Mode) Plan {
	return Plan{
		Token:  TokenParams{Name: "EarlyAccessNFTTest", Symbol: "TEANFT"},
		Faucet: FaucetParams{ClaimAmount: big.NewInt(1_000_000_000_000_000), CooldownSeconds: 20, Mode: mode},
	}
}

func newTestStore(t *testing.T) *store.FileStore {
	t.Helper()
	return store.NewFileStore(filepath.Join(t.TempDir(), "deployments.json"), nil)
}

// failOn returns a hook that fails exactly the given label.
func failOn(label string, err error) func(string) error {
	return func(l string) error {
		if l == label {
			return err
		}
		return nil
	}
}

// nth is the address the fake ledger assigns to the sender's nth creation.
func nth(l *chaintest.Ledger, nonce uint64) common.Address {
	return crypto.CreateAddress(l.From, nonce)
}

type failingSaver struct{}

func (failingSaver) Save(context.Context, *store.Record) error { return errBoom }

// ── mode ──────────────────────────────────────────────────────────────────────

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		role store.Role
	}{
		{"plain", ModePlain, store.RoleFaucet},
		{"upgradeable-proxy", ModeUpgradeableProxy, store.RoleFaucetProxy},
		{" UUPS ", ModeUpgradeableProxy, store.RoleFaucetProxy},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.role, got.Role())
	}
	_, err := ParseMode("beacon")
	assert.Error(t, err)
}

// ── deploy ────────────────────────────────────────────────────────────────────

func TestDeploy_UpgradeableProxy(t *testing.T) {
	ledger := chaintest.New()
	st := newTestStore(t)
	o := NewOrchestrator(ledger, st, testArtifacts(t, uupsFaucetABI), time.Second, nil)

	rec := store.NewRecord(0)
	res, err := o.Deploy(context.Background(), rec, testPlan(ModeUpgradeableProxy))
	require.NoError(t, err)
	require.Len(t, res.Steps, 2)

	token, impl, proxy := nth(ledger, 0), nth(ledger, 1), nth(ledger, 2)
	assert.Equal(t, []string{
		"create:EarlyAccessNFT", "wait:create:EarlyAccessNFT",
		"create:Faucet", "wait:create:Faucet",
		"create:ERC1967Proxy", "wait:create:ERC1967Proxy",
		"storage",
	}, ledger.Calls())

	assert.Equal(t, StepDeployAccessToken, res.Steps[0].Step)
	assert.Equal(t, token, res.Steps[0].Address)
	assert.Equal(t, store.RoleFaucetProxy, res.Steps[1].Role)
	assert.Equal(t, proxy, res.Steps[1].Address)
	assert.Equal(t, impl, res.Steps[1].Implementation)
	assert.Len(t, res.Steps[1].TxHashes, 2)

	saved, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(31337), saved.ChainID)
	got, _ := saved.Get(store.RoleAccessToken)
	assert.Equal(t, token, got)
	got, _ = saved.Get(store.RoleFaucetProxy)
	assert.Equal(t, proxy, got)
	assert.False(t, saved.Has(store.RoleFaucet))
	assert.Equal(t, saved.Map(), rec.Map())
}

func TestDeploy_Plain(t *testing.T) {
	ledger := chaintest.New()
	st := newTestStore(t)
	o := NewOrchestrator(ledger, st, testArtifacts(t, plainFaucetABI), time.Second, nil)

	rec := store.NewRecord(0)
	_, err := o.Deploy(context.Background(), rec, testPlan(ModePlain))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"create:EarlyAccessNFT", "wait:create:EarlyAccessNFT",
		"create:Faucet", "wait:create:Faucet",
	}, ledger.Calls())
	got, err := rec.Get(store.RoleFaucet)
	require.NoError(t, err)
	assert.Equal(t, nth(ledger, 1), got)
	assert.False(t, rec.Has(store.RoleFaucetProxy))
}

func TestDeploy_PlainWithInitializerOnlyArtifact(t *testing.T) {
	ledger := chaintest.New()
	o := NewOrchestrator(ledger, newTestStore(t), testArtifacts(t, uupsFaucetABI), time.Second, nil)

	res, err := o.Deploy(context.Background(), store.NewRecord(0), testPlan(ModePlain))
	require.NoError(t, err)
	assert.Contains(t, ledger.Calls(), "call:initialize")
	assert.Len(t, res.Steps[1].TxHashes, 2)
}

func TestDeploy_AccessTokenFailurePersistsNothing(t *testing.T) {
	ledger := chaintest.New()
	ledger.SubmitErr = failOn("create:EarlyAccessNFT", errBoom)
	st := newTestStore(t)
	o := NewOrchestrator(ledger, st, testArtifacts(t, uupsFaucetABI), time.Second, nil)

	rec := store.NewRecord(0)
	_, err := o.Deploy(context.Background(), rec, testPlan(ModeUpgradeableProxy))

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepDeployAccessToken, se.Step)
	assert.ErrorIs(t, err, chain.ErrSubmission)
	assert.Contains(t, err.Error(), "boom")

	_, err = st.Load()
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, rec.Roles())
}

func TestDeploy_FaucetRevertKeepsAccessToken(t *testing.T) {
	ledger := chaintest.New()
	ledger.Outcome = failOn("create:ERC1967Proxy", chain.ErrReverted)
	st := newTestStore(t)
	o := NewOrchestrator(ledger, st, testArtifacts(t, uupsFaucetABI), time.Second, nil)

	rec := store.NewRecord(0)
	res, err := o.Deploy(context.Background(), rec, testPlan(ModeUpgradeableProxy))

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepDeployFaucet, se.Step)
	assert.Equal(t, []store.Role{store.RoleAccessToken}, se.DependsOn)
	assert.ErrorIs(t, err, chain.ErrReverted)
	assert.Contains(t, err.Error(), "depends on accessToken")
	require.Len(t, res.Steps, 1)

	saved, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, []store.Role{store.RoleAccessToken}, saved.Roles())
	assert.Equal(t, []store.Role{store.RoleAccessToken}, rec.Roles())
}

func TestDeploy_UnconfirmedIsNotAFailure(t *testing.T) {
	ledger := chaintest.New()
	ledger.Outcome = failOn("create:Faucet", chain.ErrUnconfirmed)
	o := NewOrchestrator(ledger, newTestStore(t), testArtifacts(t, plainFaucetABI), time.Second, nil)

	rec := store.NewRecord(0)
	_, err := o.Deploy(context.Background(), rec, testPlan(ModePlain))
	require.ErrorIs(t, err, chain.ErrUnconfirmed)
	assert.NotErrorIs(t, err, chain.ErrReverted)
	assert.NotErrorIs(t, err, chain.ErrSubmission)
	assert.False(t, rec.Has(store.RoleFaucet))
}

func TestDeploy_ResumeSkipsLiveAccessToken(t *testing.T) {
	ledger := chaintest.New()
	token := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	ledger.SetCode(token, []byte{0x60, 0x01})
	st := newTestStore(t)
	o := NewOrchestrator(ledger, st, testArtifacts(t, uupsFaucetABI), time.Second, nil)

	rec := store.NewRecord(31337)
	rec.Set(store.RoleAccessToken, token)
	plan := testPlan(ModeUpgradeableProxy)
	plan.Resume = true

	res, err := o.Deploy(context.Background(), rec, plan)
	require.NoError(t, err)
	assert.True(t, res.Steps[0].Skipped)
	assert.Equal(t, "code", ledger.Calls()[0])
	assert.NotContains(t, ledger.Calls(), "create:EarlyAccessNFT")

	got, _ := rec.Get(store.RoleAccessToken)
	assert.Equal(t, token, got)
	assert.True(t, rec.Has(store.RoleFaucetProxy))
}

func TestDeploy_ResumeRedeploysDeadAccessToken(t *testing.T) {
	ledger := chaintest.New()
	stale := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	o := NewOrchestrator(ledger, newTestStore(t), testArtifacts(t, plainFaucetABI), time.Second, nil)

	rec := store.NewRecord(0)
	rec.Set(store.RoleAccessToken, stale)
	plan := testPlan(ModePlain)
	plan.Resume = true

	res, err := o.Deploy(context.Background(), rec, plan)
	require.NoError(t, err)
	assert.False(t, res.Steps[0].Skipped)
	got, _ := rec.Get(store.RoleAccessToken)
	assert.Equal(t, nth(ledger, 0), got)
}

func TestDeploy_ResumeRejectsOtherChain(t *testing.T) {
	ledger := chaintest.New()
	o := NewOrchestrator(ledger, newTestStore(t), testArtifacts(t, plainFaucetABI), time.Second, nil)

	plan := testPlan(ModePlain)
	plan.Resume = true
	_, err := o.Deploy(context.Background(), store.NewRecord(11155111), plan)
	assert.ErrorIs(t, err, store.ErrChainMismatch)
	assert.Empty(t, ledger.Calls())
}

func TestDeploy_FreshRunDropsStaleFaucet(t *testing.T) {
	ledger := chaintest.New()
	ledger.Outcome = failOn("create:Faucet", chain.ErrReverted)
	st := newTestStore(t)

	old := store.NewRecord(31337)
	old.Set(store.RoleAccessToken, common.HexToAddress("0x1111111111111111111111111111111111111111"))
	old.Set(store.RoleFaucetProxy, common.HexToAddress("0x2222222222222222222222222222222222222222"))
	require.NoError(t, st.Save(context.Background(), old))

	o := NewOrchestrator(ledger, st, testArtifacts(t, uupsFaucetABI), time.Second, nil)
	_, err := o.Deploy(context.Background(), old, testPlan(ModeUpgradeableProxy))
	require.ErrorIs(t, err, chain.ErrReverted)

	saved, err := st.Load()
	require.NoError(t, err)
	got, _ := saved.Get(store.RoleAccessToken)
	assert.Equal(t, nth(ledger, 0), got)
	assert.False(t, saved.Has(store.RoleFaucetProxy), "faucet built on the old token must not survive")
}

func TestDeploy_SaveFailureLeavesRecordUntouched(t *testing.T) {
	ledger := chaintest.New()
	o := NewOrchestrator(ledger, failingSaver{}, testArtifacts(t, plainFaucetABI), time.Second, nil)

	rec := store.NewRecord(0)
	_, err := o.Deploy(context.Background(), rec, testPlan(ModePlain))

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepDeployAccessToken, se.Step)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), nth(ledger, 0).Hex())
	assert.Empty(t, rec.Roles())
}

func TestDeploy_PreconditionsBeforeAnyRemoteCall(t *testing.T) {
	ledger := chaintest.New()
	arts := testArtifacts(t, uupsFaucetABI)
	arts.Proxy = nil
	o := NewOrchestrator(ledger, newTestStore(t), arts, time.Second, nil)

	_, err := o.Deploy(context.Background(), store.NewRecord(0), testPlan(ModeUpgradeableProxy))
	assert.ErrorIs(t, err, config.ErrPreconditionMissing)

	plan := testPlan(ModePlain)
	plan.Faucet.ClaimAmount = nil
	_, err = o.Deploy(context.Background(), store.NewRecord(0), plan)
	assert.Error(t, err)

	assert.Empty(t, ledger.Calls())
}

// ── upgrade ───────────────────────────────────────────────────────────────────

var (
	proxyAddr   = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	oldImplAddr = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
)

// upgradeFixture is a ledger holding a deployed faucet proxy on oldImplAddr.
// The view handler answers as a UUPS implementation whose version is
// reported by whichever implementation the proxy currently points at.
func upgradeFixture(t *testing.T) (*chaintest.Ledger, *store.Record) {
	t.Helper()
	ledger := chaintest.New()
	ledger.SetCode(proxyAddr, []byte{0x60})
	ledger.SetImplementation(proxyAddr, oldImplAddr)

	ledger.View = func(addr common.Address, method string, _ []any) ([]any, error) {
		switch method {
		case "proxiableUUID":
			return []any{[32]byte(contracts.ImplementationSlot)}, nil
		case "version":
			word, _ := ledger.StorageAt(context.Background(), addr, contracts.ImplementationSlot)
			if contracts.AddressFromSlot(word) == oldImplAddr {
				return []any{"1"}, nil
			}
			return []any{"2"}, nil
		}
		return nil, fmt.Errorf("unexpected view %s", method)
	}

	rec := store.NewRecord(31337)
	rec.Set(store.RoleAccessToken, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"))
	rec.Set(store.RoleFaucetProxy, proxyAddr)
	return ledger, rec
}

func TestUpgrade_SwapsImplementation(t *testing.T) {
	ledger, rec := upgradeFixture(t)
	before := rec.Map()
	u := NewUpgrader(ledger, time.Second, nil)

	res, err := u.Upgrade(context.Background(), rec, UpgradePlan{
		Implementation: mustArtifact(t, contracts.FaucetName, uupsFaucetABI),
		Probe:          "version",
	})
	require.NoError(t, err)

	assert.Equal(t, proxyAddr, res.Proxy)
	assert.Equal(t, oldImplAddr, res.Previous)
	assert.Equal(t, nth(ledger, 0), res.Implementation)
	assert.NotEqual(t, common.Hash{}, res.UpgradeTx)
	assert.Equal(t, []any{"2"}, res.Probe)

	word, _ := ledger.StorageAt(context.Background(), proxyAddr, contracts.ImplementationSlot)
	assert.Equal(t, res.Implementation, contracts.AddressFromSlot(word))
	assert.Equal(t, before, rec.Map(), "record must keep the proxy as the stable address")
}

func TestUpgrade_MissingProxyMakesNoRemoteCalls(t *testing.T) {
	ledger := chaintest.New()
	rec := store.NewRecord(0)
	rec.Set(store.RoleAccessToken, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"))

	_, err := NewUpgrader(ledger, time.Second, nil).Upgrade(context.Background(), rec, UpgradePlan{
		Implementation: mustArtifact(t, contracts.FaucetName, uupsFaucetABI),
	})

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepUpgradeFaucet, se.Step)
	assert.ErrorIs(t, err, ErrDependencyMissing)
	assert.ErrorIs(t, err, store.ErrMissingRole)
	assert.Empty(t, ledger.Calls())
}

func TestUpgrade_PlainFaucetIsExplained(t *testing.T) {
	ledger := chaintest.New()
	rec := store.NewRecord(0)
	rec.Set(store.RoleFaucet, proxyAddr)

	_, err := NewUpgrader(ledger, time.Second, nil).Upgrade(context.Background(), rec, UpgradePlan{
		Implementation: mustArtifact(t, contracts.FaucetName, uupsFaucetABI),
	})
	require.ErrorIs(t, err, ErrDependencyMissing)
	assert.Contains(t, err.Error(), "plain mode")
	assert.Empty(t, ledger.Calls())
}

func TestUpgrade_RevertLeavesPriorImplementation(t *testing.T) {
	ledger, rec := upgradeFixture(t)
	ledger.Outcome = failOn("call:upgradeToAndCall", chain.ErrReverted)
	u := NewUpgrader(ledger, time.Second, nil)

	res, err := u.Upgrade(context.Background(), rec, UpgradePlan{
		Implementation: mustArtifact(t, contracts.FaucetName, uupsFaucetABI),
		Probe:          "version",
	})
	require.ErrorIs(t, err, chain.ErrReverted)
	require.NotNil(t, res)
	assert.NotEqual(t, common.Hash{}, res.UpgradeTx)

	word, _ := ledger.StorageAt(context.Background(), proxyAddr, contracts.ImplementationSlot)
	assert.Equal(t, oldImplAddr, contracts.AddressFromSlot(word))
	out, err := ledger.ReadView(context.Background(), proxyAddr,
		mustArtifact(t, contracts.FaucetName, uupsFaucetABI).ABI, "version")
	require.NoError(t, err)
	assert.Equal(t, []any{"1"}, out)
}

func TestUpgrade_RevertingReinitializerKeepsPriorVersion(t *testing.T) {
	reinit := []any{
		common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		big.NewInt(2_000_000_000_000_000),
		big.NewInt(60),
	}
	for _, tc := range []struct {
		name  string
		setup func(*chaintest.Ledger)
	}{
		{"rejected at estimation", func(l *chaintest.Ledger) {
			l.SubmitErr = failOn("call:upgradeToAndCall", chain.ErrReverted)
		}},
		{"reverted on chain", func(l *chaintest.Ledger) {
			l.Outcome = failOn("call:upgradeToAndCall", chain.ErrReverted)
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ledger, rec := upgradeFixture(t)
			tc.setup(ledger)
			impl := mustArtifact(t, contracts.FaucetName, uupsFaucetABI)

			res, err := NewUpgrader(ledger, time.Second, nil).Upgrade(context.Background(), rec, UpgradePlan{
				Implementation: impl,
				Call:           "initialize",
				CallArgs:       reinit,
				Probe:          "version",
			})
			require.ErrorIs(t, err, chain.ErrReverted)
			var se *StepError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, StepUpgradeFaucet, se.Step)
			require.NotNil(t, res)
			assert.Equal(t, oldImplAddr, res.Previous)

			got, _ := rec.Get(store.RoleFaucetProxy)
			assert.Equal(t, proxyAddr, got)
			out, err := ledger.ReadView(context.Background(), proxyAddr, impl.ABI, "version")
			require.NoError(t, err)
			assert.Equal(t, []any{"1"}, out)
		})
	}
}

func TestUpgrade_RevertingProxiableUUID(t *testing.T) {
	ledger, rec := upgradeFixture(t)
	ledger.View = func(common.Address, string, []any) ([]any, error) {
		return nil, fmt.Errorf("proxiableUUID: %w", chain.ErrReverted)
	}

	_, err := NewUpgrader(ledger, time.Second, nil).Upgrade(context.Background(), rec, UpgradePlan{
		Implementation: mustArtifact(t, contracts.FaucetName, uupsFaucetABI),
	})
	require.ErrorIs(t, err, ErrIncompatibleImplementation)
	assert.ErrorIs(t, err, chain.ErrReverted)
	assert.NotContains(t, ledger.Calls(), "call:upgradeToAndCall")
}

func TestUpgrade_IncompatibleImplementation(t *testing.T) {
	ledger, rec := upgradeFixture(t)
	ledger.View = func(common.Address, string, []any) ([]any, error) {
		return nil, errors.New("execution reverted")
	}

	_, err := NewUpgrader(ledger, time.Second, nil).Upgrade(context.Background(), rec, UpgradePlan{
		Implementation: mustArtifact(t, contracts.FaucetName, uupsFaucetABI),
	})
	require.ErrorIs(t, err, ErrIncompatibleImplementation)
	assert.NotContains(t, ledger.Calls(), "call:upgradeToAndCall")
}

func TestUpgrade_BadReinitializerArgumentsCaughtLocally(t *testing.T) {
	ledger, rec := upgradeFixture(t)

	_, err := NewUpgrader(ledger, time.Second, nil).Upgrade(context.Background(), rec, UpgradePlan{
		Implementation: mustArtifact(t, contracts.FaucetName, uupsFaucetABI),
		Call:           "initialize",
		CallArgs:       []any{"not-an-address"},
	})
	require.ErrorIs(t, err, ErrIncompatibleImplementation)
	assert.Empty(t, ledger.Calls())
}

// ── status ────────────────────────────────────────────────────────────────────

func TestStatus(t *testing.T) {
	ledger, rec := upgradeFixture(t)

	got, err := Status(context.Background(), ledger, rec)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, store.RoleAccessToken, got[0].Role)
	assert.False(t, got[0].Deployed)
	assert.Equal(t, store.RoleFaucetProxy, got[1].Role)
	assert.True(t, got[1].Deployed)
	assert.Equal(t, oldImplAddr, got[1].Implementation)
}
