package channel

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Context is the deterministic description of the joint taproot output shared
// by a user and the hub. It is recomputed from the keys of record every time
// it is needed and never persisted: a stored copy could drift from the keys.
type Context struct {
	Address      string
	OutputScript []byte
	OutputKey    *secp256k1.PublicKey

	InternalKey          *secp256k1.PublicKey
	InternalKeyOddParity bool

	MultisigScript []byte
	TimelockScript []byte
	LeafVersion    txscript.TapscriptLeafVersion

	// ControlBlock proves inclusion of the multisig leaf, the only leaf the
	// cooperative protocol ever spends through.
	ControlBlock []byte
}

// ParsePublicKey accepts a 32-byte x-only or a 33-byte compressed encoding.
// Any other length is a fatal input error.
func ParsePublicKey(keyBytes []byte) (*secp256k1.PublicKey, error) {
	switch len(keyBytes) {
	case schnorr.PubKeyBytesLen:
		return schnorr.ParsePubKey(keyBytes)
	case secp256k1.PubKeyBytesLenCompressed:
		return secp256k1.ParsePubKey(keyBytes)
	default:
		return nil, fmt.Errorf(
			"invalid public key length %d, expected 32 or 33 bytes", len(keyBytes),
		)
	}
}

// ParsePublicKeyHex is ParsePublicKey over a hex-encoded key.
func ParsePublicKeyHex(keyHex string) (*secp256k1.PublicKey, error) {
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %s", err)
	}
	return ParsePublicKey(keyBytes)
}

// BuildContext derives the joint taproot output for the given user and hub
// keys. The tree has two leaves: a 2-of-2 multisig leaf (user signature
// checked first, then the hub's) and a timelock leaf that lets the hub
// recover unilaterally after csvDelay seconds. Pure function of its inputs.
func BuildContext(
	userKey, hubKey *secp256k1.PublicKey, csvDelay uint, net *chaincfg.Params,
) (*Context, error) {
	if userKey == nil || hubKey == nil {
		return nil, fmt.Errorf("missing user or hub public key")
	}

	multisigClosure := &MultisigClosure{UserKey: userKey, HubKey: hubKey}
	multisigLeaf, err := multisigClosure.Leaf()
	if err != nil {
		return nil, fmt.Errorf("failed to build multisig leaf: %w", err)
	}

	timelockClosure := &CSVSigClosure{HubKey: hubKey, Seconds: csvDelay}
	timelockLeaf, err := timelockClosure.Leaf()
	if err != nil {
		return nil, fmt.Errorf("failed to build timelock leaf: %w", err)
	}

	tapTree := txscript.AssembleTaprootScriptTree(*multisigLeaf, *timelockLeaf)

	internalKey := UnspendableKey()
	root := tapTree.RootNode.TapHash()
	outputKey := txscript.ComputeTaprootOutputKey(internalKey, root[:])

	multisigLeafHash := multisigLeaf.TapHash()
	proofIndex, ok := tapTree.LeafProofIndex[multisigLeafHash]
	if !ok {
		return nil, fmt.Errorf("multisig leaf not found in taproot tree")
	}
	proof := tapTree.LeafMerkleProofs[proofIndex]

	controlBlock := proof.ToControlBlock(internalKey)
	controlBlockBytes, err := controlBlock.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize control block: %w", err)
	}

	outputScript, err := P2TRScript(outputKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build output script: %w", err)
	}

	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), net)
	if err != nil {
		return nil, fmt.Errorf("failed to encode taproot address: %w", err)
	}

	return &Context{
		Address:              addr.EncodeAddress(),
		OutputScript:         outputScript,
		OutputKey:            outputKey,
		InternalKey:          internalKey,
		InternalKeyOddParity: InternalKeyParity(),
		MultisigScript:       multisigLeaf.Script,
		TimelockScript:       timelockLeaf.Script,
		LeafVersion:          multisigLeaf.LeafVersion,
		ControlBlock:         controlBlockBytes,
	}, nil
}

// AssertAddress checks the derived address against a previously stored one.
// A mismatch means the key material changed under an existing channel.
func (c *Context) AssertAddress(stored string) error {
	if len(stored) > 0 && stored != c.Address {
		return fmt.Errorf(
			"taproot address mismatch: derived %s, stored %s", c.Address, stored,
		)
	}
	return nil
}

// MultisigLeaf rebuilds the tap leaf for the cooperative path.
func (c *Context) MultisigLeaf() txscript.TapLeaf {
	return txscript.NewTapLeaf(c.LeafVersion, c.MultisigScript)
}

func P2TRScript(taprootKey *secp256k1.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).
		AddData(schnorr.SerializePubKey(taprootKey)).
		Script()
}
