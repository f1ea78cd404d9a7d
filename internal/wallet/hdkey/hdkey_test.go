package hdkey_test

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/clearid/wallet-engine/internal/wallet/hdkey"
)

const testMnemonic = "legal winner thank year wave sausage worth useful legal winner thank yellow"

func newStore(t *testing.T) *hdkey.SoftStore {
	t.Helper()
	seeds := hdkey.NewSeedManager()
	require.NoError(t, seeds.Initialize(testMnemonic, ""))
	return hdkey.NewSoftStore(seeds)
}

func TestDeriveIsDeterministic(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	path := hdkey.Path{Identity: 2, Account: 1, Usage: hdkey.UsageSigning}
	first, err := store.Derive(ctx, path)
	require.NoError(t, err)
	second, err := store.Derive(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, first.PublicKey, second.PublicKey)
}

func TestUsagesPartitionThePathSpace(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	seen := map[common.Address]hdkey.Usage{}
	for _, usage := range []hdkey.Usage{
		hdkey.UsageSigning, hdkey.UsageRecovery, hdkey.UsageEncryption, hdkey.UsageEncryptionAlt,
	} {
		derived, err := store.Derive(ctx, hdkey.Path{Identity: 0, Account: 0, Usage: usage})
		require.NoError(t, err)
		_, dup := seen[derived.Address]
		assert.False(t, dup, "usage %d collided", usage)
		seen[derived.Address] = usage
	}
}

func TestDeriveWithoutSeed(t *testing.T) {
	store := hdkey.NewSoftStore(hdkey.NewSeedManager())
	_, err := store.Derive(context.Background(), hdkey.Path{})
	assert.ErrorIs(t, err, hdkey.ErrKeyStoreUnavailable)
}

func TestStandaloneKeyPairIsUnrelatedToSeed(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	kp, err := store.CreateKeyPair(ctx)
	require.NoError(t, err)
	derived, err := store.Derive(ctx, hdkey.Path{})
	require.NoError(t, err)
	assert.NotEqual(t, derived.Address, kp.Address)

	// the standalone key signs repeatedly without degradation
	for i := 0; i < 2; i++ {
		sig, err := store.PersonalSign(ctx, kp.Address, []byte("hello"))
		require.NoError(t, err)
		assert.Len(t, sig, 65)
	}
}

func TestSignTxRecoversFromAddress(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	derived, err := store.Derive(ctx, hdkey.Path{Identity: 0, Account: 0, Usage: hdkey.UsageSigning})
	require.NoError(t, err)

	chainID := big.NewInt(42)
	to := common.HexToAddress("0x9df0e9759b17f34e9123adbe6d3f25d54b72ad6b")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    3,
		To:       &to,
		Value:    big.NewInt(1),
		Gas:      21000,
		GasPrice: big.NewInt(20000000000),
	})

	raw, err := store.SignTx(ctx, derived.Address, tx, chainID)
	require.NoError(t, err)

	var decoded types.Transaction
	require.NoError(t, decoded.UnmarshalBinary(raw))
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), &decoded)
	require.NoError(t, err)
	assert.Equal(t, derived.Address, sender)
}

func TestSignTxUnknownAddress(t *testing.T) {
	store := newStore(t)
	tx := types.NewTx(&types.LegacyTx{Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})
	_, err := store.SignTx(context.Background(), common.HexToAddress("0xdead"), tx, big.NewInt(1))
	assert.ErrorIs(t, err, hdkey.ErrKeyStoreUnavailable)
}

func TestPersonalSignRecovers(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	derived, err := store.Derive(ctx, hdkey.Path{})
	require.NoError(t, err)

	message := []byte("attest")
	sig, err := store.PersonalSign(ctx, derived.Address, message)
	require.NoError(t, err)

	prefixed := append([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))), message...)
	pub, err := crypto.SigToPub(crypto.Keccak256(prefixed), sig)
	require.NoError(t, err)
	assert.Equal(t, derived.Address, crypto.PubkeyToAddress(*pub))
}

type fakeLedger struct {
	identity uint32
	accounts map[uint32]uint32
}

func (l *fakeLedger) NextIdentityIndex() (uint32, error) {
	idx := l.identity
	l.identity++
	return idx, nil
}

func (l *fakeLedger) NextAccountIndex(identity uint32) (uint32, error) {
	if l.accounts == nil {
		l.accounts = map[uint32]uint32{}
	}
	if _, ok := l.accounts[identity]; !ok {
		l.accounts[identity] = 1
	}
	idx := l.accounts[identity]
	l.accounts[identity]++
	return idx, nil
}

func TestServiceAllocatesFreshCoordinates(t *testing.T) {
	ctx := context.Background()
	svc := hdkey.NewService(newStore(t), &fakeLedger{})

	id0, err := svc.CreateIdentity(ctx)
	require.NoError(t, err)
	id1, err := svc.CreateIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id0.IdentityIndex)
	assert.Equal(t, uint32(1), id1.IdentityIndex)
	assert.NotEqual(t, id0.Address, id1.Address)

	sub, err := svc.CreateSubAccount(ctx, id0.IdentityIndex)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), sub.AccountIndex)
	assert.NotEqual(t, id0.Address, sub.Address)

	recovery, err := svc.RecoveryAddress(ctx, id0.IdentityIndex, 0)
	require.NoError(t, err)
	assert.NotEqual(t, id0.Address, recovery.Address)
}
