package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	proxyAddr = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	plainAddr = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "deployments.json")
	return NewFileStore(path, NewFileLocker(path))
}

func TestLoad_MissingFileIsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load()
	require.ErrorIs(t, err, ErrNotFound)

	rec, err := s.LoadOrEmpty(31337)
	require.NoError(t, err)
	assert.Empty(t, rec.Roles())
	assert.Equal(t, uint64(31337), rec.ChainID)
}

func TestSaveLoad_RoundTripCanonicalSchema(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := NewRecord(11155111)
	rec.Set(RoleAccessToken, tokenAddr)
	rec.Set(RoleFaucetProxy, proxyAddr)
	require.NoError(t, s.Save(ctx, rec))

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Equal(t, tokenAddr.Hex(), flat["accessToken"])
	assert.Equal(t, proxyAddr.Hex(), flat["faucetProxy"])
	assert.Contains(t, flat, "faucet")
	assert.Nil(t, flat["faucet"])
	assert.EqualValues(t, 11155111, flat["chainId"])

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, rec.Map(), got.Map())
	assert.Equal(t, uint64(11155111), got.ChainID)

	addr, err := s.Get(RoleFaucetProxy)
	require.NoError(t, err)
	assert.Equal(t, proxyAddr, addr)
}

func TestSave_WritesChecksummedAddresses(t *testing.T) {
	s := newTestStore(t)
	rec := NewRecord(0)
	rec.Set(RoleAccessToken, tokenAddr)
	require.NoError(t, s.Save(context.Background(), rec))

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	assert.NotContains(t, string(raw), "chainId")
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	rec := NewRecord(0)
	rec.Set(RoleAccessToken, tokenAddr)
	require.NoError(t, s.Save(context.Background(), rec))
	require.NoError(t, s.Save(context.Background(), rec))

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "stray temp file %s", e.Name())
	}
}

func TestGet_MissingRole(t *testing.T) {
	rec := NewRecord(0)
	rec.Set(RoleAccessToken, tokenAddr)

	_, err := rec.Get(RoleFaucetProxy)
	require.ErrorIs(t, err, ErrMissingRole)
	assert.Contains(t, err.Error(), "faucetProxy")

	_, _, err = rec.FaucetAddress()
	require.ErrorIs(t, err, ErrMissingRole)
}

func TestSet_FaucetRolesAreExclusive(t *testing.T) {
	rec := NewRecord(0)
	rec.Set(RoleFaucetProxy, proxyAddr)
	rec.Set(RoleFaucet, plainAddr)

	assert.False(t, rec.Has(RoleFaucetProxy))
	role, addr, err := rec.FaucetAddress()
	require.NoError(t, err)
	assert.Equal(t, RoleFaucet, role)
	assert.Equal(t, plainAddr, addr)

	rec.Set(RoleFaucetProxy, proxyAddr)
	assert.False(t, rec.Has(RoleFaucet))
}

func TestCheckChain(t *testing.T) {
	assert.NoError(t, NewRecord(0).CheckChain(11155111))
	assert.NoError(t, NewRecord(31337).CheckChain(31337))
	assert.ErrorIs(t, NewRecord(31337).CheckChain(11155111), ErrChainMismatch)
}

func TestUnmarshal_LegacyKeys(t *testing.T) {
	tests := []struct {
		name string
		json string
		want map[string]string
	}{
		{
			name: "deploy script keys",
			json: `{"earlyAccessNFT":"0x5fbdb2315678afecb367f032d93f642f64180aa3","faucetProxyAddress":"0xe7f1725e7734ce288f8367e1bb143e90bb3f0512"}`,
			want: map[string]string{"accessToken": tokenAddr.Hex(), "faucetProxy": proxyAddr.Hex()},
		},
		{
			name: "capitalised proxy key",
			json: `{"earlyAccessNFT":"0x5fbdb2315678afecb367f032d93f642f64180aa3","FaucetProxy":"0xe7f1725e7734ce288f8367e1bb143e90bb3f0512"}`,
			want: map[string]string{"accessToken": tokenAddr.Hex(), "faucetProxy": proxyAddr.Hex()},
		},
		{
			name: "canonical key wins over alias",
			json: `{"earlyAccessNFT":"0x9fe46736679d2d9a65f0992f2272de9f3c7fa6e0","accessToken":"0x5fbdb2315678afecb367f032d93f642f64180aa3"}`,
			want: map[string]string{"accessToken": tokenAddr.Hex()},
		},
		{
			name: "nulls are absent roles",
			json: `{"accessToken":"0x5fbdb2315678afecb367f032d93f642f64180aa3","faucet":null,"faucetProxy":null,"chainId":"31337"}`,
			want: map[string]string{"accessToken": tokenAddr.Hex()},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewRecord(0)
			require.NoError(t, json.Unmarshal([]byte(tt.json), rec))
			assert.Equal(t, tt.want, rec.Map())
		})
	}
}

func TestUnmarshal_RejectsBadAddress(t *testing.T) {
	rec := NewRecord(0)
	err := json.Unmarshal([]byte(`{"accessToken":"0x1234"}`), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address")
}

func TestUnmarshal_RejectsBothFaucetRoles(t *testing.T) {
	for name, doc := range map[string]string{
		"canonical keys": `{"faucet":"0x9fe46736679d2d9a65f0992f2272de9f3c7fa6e0","faucetProxy":"0xe7f1725e7734ce288f8367e1bb143e90bb3f0512"}`,
		"legacy plain key": `{"faucetAddress":"0x9fe46736679d2d9a65f0992f2272de9f3c7fa6e0","faucetProxy":"0xe7f1725e7734ce288f8367e1bb143e90bb3f0512"}`,
	} {
		t.Run(name, func(t *testing.T) {
			err := json.Unmarshal([]byte(doc), NewRecord(0))
			assert.ErrorIs(t, err, ErrConflictingRoles)
		})
	}

	st := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(st.Path()), 0o755))
	require.NoError(t, os.WriteFile(st.Path(),
		[]byte(`{"accessToken":"0x5fbdb2315678afecb367f032d93f642f64180aa3","faucet":"0x9fe46736679d2d9a65f0992f2272de9f3c7fa6e0","FaucetProxy":"0xe7f1725e7734ce288f8367e1bb143e90bb3f0512"}`), 0o644))
	_, err := st.Load()
	assert.ErrorIs(t, err, ErrConflictingRoles)
}

func TestFileLocker_SecondWriterWaits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployments.json")
	l1 := NewFileLocker(path)
	l2 := NewFileLocker(path)

	unlock, err := l1.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = l2.Lock(ctx)
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, unlock())
	unlock2, err := l2.Lock(context.Background())
	require.NoError(t, err)
	require.NoError(t, unlock2())
}

func TestRedisLocker_ExclusiveAndTokenChecked(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisLocker(rdb, "faucetctl:record", time.Minute)

	unlock, err := l.Lock(context.Background())
	require.NoError(t, err)
	assert.True(t, mr.Exists("faucetctl:record"))

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx)
	require.True(t, errors.Is(err, ErrLockHeld), "got %v", err)

	// A lease stolen after expiry must not be released by the old holder.
	mr.Set("faucetctl:record", "someone-else")
	require.NoError(t, unlock())
	assert.True(t, mr.Exists("faucetctl:record"))

	mr.Del("faucetctl:record")
	unlock, err = l.Lock(context.Background())
	require.NoError(t, err)
	require.NoError(t, unlock())
	assert.False(t, mr.Exists("faucetctl:record"))
}

func TestSave_UsesLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	path := filepath.Join(t.TempDir(), "deployments.json")
	s := NewFileStore(path, NewRedisLocker(rdb, "lock", time.Minute))

	mr.Set("lock", "held")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	rec := NewRecord(0)
	rec.Set(RoleAccessToken, tokenAddr)
	err := s.Save(ctx, rec)
	require.ErrorIs(t, err, ErrLockHeld)

	_, err = s.Load()
	require.ErrorIs(t, err, ErrNotFound, "nothing may be written without the lock")
}
