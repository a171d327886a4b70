package channel

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// internalScalar is the fixed private scalar whose public counterpart is used
// as the taproot internal key. The scalar is public knowledge, so the key path
// is unusable and every spend must reveal a script leaf.
var internalScalar = []byte{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
}

// UnspendableKey returns the public counterpart of the fixed internal scalar.
func UnspendableKey() *secp256k1.PublicKey {
	return secp256k1.PrivKeyFromBytes(internalScalar).PubKey()
}

// InternalKeyParity reports whether the internal key's y coordinate is odd.
func InternalKeyParity() bool {
	return UnspendableKey().SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd
}

type Closure interface {
	Leaf() (*txscript.TapLeaf, error)
	Decode(script []byte) (bool, error)
}

// MultisigClosure is the cooperative spending path: the user's signature is
// checked first, then the hub's.
type MultisigClosure struct {
	UserKey *secp256k1.PublicKey
	HubKey  *secp256k1.PublicKey
}

// CSVSigClosure is the hub's unilateral recovery path, spendable only after
// the relative delay expressed in seconds.
type CSVSigClosure struct {
	HubKey  *secp256k1.PublicKey
	Seconds uint
}

func DecodeClosure(script []byte) (Closure, error) {
	var closure Closure

	closure = &CSVSigClosure{}
	if valid, err := closure.Decode(script); err == nil && valid {
		return closure, nil
	}

	closure = &MultisigClosure{}
	if valid, err := closure.Decode(script); err == nil && valid {
		return closure, nil
	}

	return nil, fmt.Errorf("invalid closure script")
}

func (f *MultisigClosure) Leaf() (*txscript.TapLeaf, error) {
	userKeyBytes := schnorr.SerializePubKey(f.UserKey)
	hubKeyBytes := schnorr.SerializePubKey(f.HubKey)

	script, err := txscript.NewScriptBuilder().AddData(userKeyBytes).
		AddOp(txscript.OP_CHECKSIGVERIFY).AddData(hubKeyBytes).
		AddOp(txscript.OP_CHECKSIG).Script()
	if err != nil {
		return nil, err
	}

	tapLeaf := txscript.NewBaseTapLeaf(script)
	return &tapLeaf, nil
}

func (f *MultisigClosure) Decode(script []byte) (bool, error) {
	valid, userKey, err := decodeChecksigScript(script)
	if err != nil {
		return false, err
	}

	if !valid {
		return false, nil
	}

	valid, hubKey, err := decodeChecksigScript(script[33:])
	if err != nil {
		return false, err
	}

	if !valid {
		return false, nil
	}

	f.UserKey = userKey
	f.HubKey = hubKey

	rebuilt, err := f.Leaf()
	if err != nil {
		return false, err
	}

	if !bytes.Equal(rebuilt.Script, script) {
		return false, nil
	}

	return true, nil
}

func (d *CSVSigClosure) Leaf() (*txscript.TapLeaf, error) {
	script, err := encodeCsvWithChecksigScript(d.HubKey, d.Seconds)
	if err != nil {
		return nil, err
	}

	tapLeaf := txscript.NewBaseTapLeaf(script)
	return &tapLeaf, nil
}

func (d *CSVSigClosure) Decode(script []byte) (bool, error) {
	csvIndex := bytes.Index(
		script, []byte{txscript.OP_CHECKSEQUENCEVERIFY, txscript.OP_DROP},
	)
	if csvIndex == -1 || csvIndex == 0 {
		return false, nil
	}

	sequence := script[:csvIndex]
	if len(sequence) > 1 {
		sequence = sequence[1:]
	}

	seconds, err := BIP68DecodeSequence(sequence)
	if err != nil {
		return false, err
	}

	checksigScript := script[csvIndex+2:]
	valid, pubkey, err := decodeChecksigScript(checksigScript)
	if err != nil {
		return false, err
	}

	if !valid {
		return false, nil
	}

	rebuilt, err := encodeCsvWithChecksigScript(pubkey, seconds)
	if err != nil {
		return false, err
	}

	if !bytes.Equal(rebuilt, script) {
		return false, nil
	}

	d.HubKey = pubkey
	d.Seconds = seconds

	return valid, nil
}

func decodeChecksigScript(script []byte) (bool, *secp256k1.PublicKey, error) {
	data32Index := bytes.Index(script, []byte{txscript.OP_DATA_32})
	if data32Index == -1 {
		return false, nil, nil
	}

	key := script[data32Index+1 : data32Index+33]
	if len(key) != 32 {
		return false, nil, nil
	}

	pubkey, err := schnorr.ParsePubKey(key)
	if err != nil {
		return false, nil, err
	}

	return true, pubkey, nil
}

// checkSequenceVerifyScript without checksig
func encodeCsvScript(seconds uint) ([]byte, error) {
	sequence, err := BIP68Sequence(seconds)
	if err != nil {
		return nil, err
	}

	return txscript.NewScriptBuilder().
		AddInt64(int64(sequence)).
		AddOps([]byte{
			txscript.OP_CHECKSEQUENCEVERIFY,
			txscript.OP_DROP,
		}).
		Script()
}

// checkSequenceVerifyScript + checksig
func encodeCsvWithChecksigScript(
	pubkey *secp256k1.PublicKey, seconds uint,
) ([]byte, error) {
	script, err := encodeChecksigScript(pubkey)
	if err != nil {
		return nil, err
	}

	csvScript, err := encodeCsvScript(seconds)
	if err != nil {
		return nil, err
	}

	return append(csvScript, script...), nil
}

func encodeChecksigScript(pubkey *secp256k1.PublicKey) ([]byte, error) {
	key := schnorr.SerializePubKey(pubkey)
	return txscript.NewScriptBuilder().AddData(key).
		AddOp(txscript.OP_CHECKSIG).Script()
}
