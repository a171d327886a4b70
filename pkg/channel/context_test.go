package channel_test

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
	"github.com/taphub/taphubd/pkg/channel"
)

func TestBuildContextIsDeterministic(t *testing.T) {
	userPrv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	hubPrv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	first, err := channel.BuildContext(
		userPrv.PubKey(), hubPrv.PubKey(), 1024, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	second, err := channel.BuildContext(
		userPrv.PubKey(), hubPrv.PubKey(), 1024, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	require.Equal(t, first.Address, second.Address)
	require.Equal(t, first.OutputScript, second.OutputScript)
	require.Equal(t, first.MultisigScript, second.MultisigScript)
	require.Equal(t, first.TimelockScript, second.TimelockScript)
	require.Equal(t, first.ControlBlock, second.ControlBlock)
}

func TestBuildContextLeaves(t *testing.T) {
	userPrv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	hubPrv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	chanCtx, err := channel.BuildContext(
		userPrv.PubKey(), hubPrv.PubKey(), 2048, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(chanCtx.Address, "bcrt1p"))
	require.True(t, txscript.IsPayToTaproot(chanCtx.OutputScript))
	require.Equal(t, txscript.BaseLeafVersion, chanCtx.LeafVersion)

	closure, err := channel.DecodeClosure(chanCtx.MultisigScript)
	require.NoError(t, err)
	multisig, ok := closure.(*channel.MultisigClosure)
	require.True(t, ok)
	require.Equal(t, xonly(userPrv.PubKey()), xonly(multisig.UserKey))
	require.Equal(t, xonly(hubPrv.PubKey()), xonly(multisig.HubKey))

	closure, err = channel.DecodeClosure(chanCtx.TimelockScript)
	require.NoError(t, err)
	timelock, ok := closure.(*channel.CSVSigClosure)
	require.True(t, ok)
	require.Equal(t, uint(2048), timelock.Seconds)
	require.Equal(t, xonly(hubPrv.PubKey()), xonly(timelock.HubKey))

	// changing either key must change the address
	otherPrv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	otherCtx, err := channel.BuildContext(
		otherPrv.PubKey(), hubPrv.PubKey(), 2048, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	require.NotEqual(t, chanCtx.Address, otherCtx.Address)
}

func TestAssertAddress(t *testing.T) {
	userPrv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	hubPrv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	chanCtx, err := channel.BuildContext(
		userPrv.PubKey(), hubPrv.PubKey(), 1024, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	require.NoError(t, chanCtx.AssertAddress(""))
	require.NoError(t, chanCtx.AssertAddress(chanCtx.Address))
	require.Error(t, chanCtx.AssertAddress("bcrt1qsomethingelse"))
}

func TestParsePublicKey(t *testing.T) {
	prv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	compressed := prv.PubKey().SerializeCompressed()

	key, err := channel.ParsePublicKey(compressed)
	require.NoError(t, err)
	require.Equal(t, compressed, key.SerializeCompressed())

	key, err = channel.ParsePublicKey(compressed[1:])
	require.NoError(t, err)
	require.Equal(t, xonly(prv.PubKey()), xonly(key))

	_, err = channel.ParsePublicKey(compressed[:20])
	require.Error(t, err)

	_, err = channel.ParsePublicKeyHex("not hex")
	require.Error(t, err)
}
