package channel

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// FinalizedTx is a fully signed funding-spend ready for broadcast.
type FinalizedTx struct {
	Txid    string
	TxHex   string
	TxBytes []byte

	// WitnessHexes holds the serialized witness stack of every input, kept
	// around so broadcast rejections can be diagnosed byte by byte.
	WitnessHexes []string
}

// ErrMissingSignature names the input the external signer left unsigned.
type ErrMissingSignature struct {
	InputIndex int
}

func (e ErrMissingSignature) Error() string {
	return fmt.Sprintf(
		"missing user signature on input %d: no script-path nor key-path signature found",
		e.InputIndex,
	)
}

// ErrControlBlockMismatch means the produced witness does not carry the
// control block recorded in the PSBT input. Broadcasting would reveal a
// malformed spend, so finalization aborts.
type ErrControlBlockMismatch struct {
	InputIndex int
	Expected   string
	Got        string
}

func (e ErrControlBlockMismatch) Error() string {
	return fmt.Sprintf(
		"control block mismatch on input %d: expected %s, witness carries %s",
		e.InputIndex, e.Expected, e.Got,
	)
}

// FinalizeWithHub merges the user's signatures with the hub's and produces
// the canonical witness for every channel input.
//
// userSigned is whatever the external signer returned: a base64 PSBT, either
// still partial or already finalized, or a hex-encoded raw transaction. The
// stored unsigned packet supplies the input metadata the signer may have
// stripped. Key-path signatures are discarded: only the auditable script path
// is accepted.
func FinalizeWithHub(
	unsigned *psbt.Packet, userSigned string, hubPrv *secp256k1.PrivateKey,
) (*FinalizedTx, error) {
	if packet, err := DecodePsbt(userSigned); err == nil {
		if isFinalized(packet) {
			finalTx, err := psbt.Extract(packet)
			if err != nil {
				return nil, fmt.Errorf("failed to extract finalized psbt: %w", err)
			}
			return finalizePreSigned(unsigned, finalTx, hubPrv)
		}
		return finalizePartial(unsigned, packet, hubPrv)
	}

	rawBytes, err := hex.DecodeString(userSigned)
	if err != nil {
		return nil, fmt.Errorf("user-signed transaction is neither a psbt nor raw tx hex")
	}
	var finalTx wire.MsgTx
	if err := finalTx.Deserialize(bytes.NewReader(rawBytes)); err != nil {
		return nil, fmt.Errorf("failed to deserialize user-signed raw transaction: %w", err)
	}
	return finalizePreSigned(unsigned, &finalTx, hubPrv)
}

// finalizePreSigned handles the case where the external signer already
// produced a complete witness. An equivalent unsigned packet is rebuilt from
// the finalized transaction so the hub can compute its own script-path
// signature per input; the hub's signature is then spliced into the user's
// witness stack right after the user's signatures, before the trailing
// (script, control block) pair.
func finalizePreSigned(
	unsigned *psbt.Packet, userTx *wire.MsgTx, hubPrv *secp256k1.PrivateKey,
) (*FinalizedTx, error) {
	rebuiltTx := wire.NewMsgTx(userTx.Version)
	rebuiltTx.LockTime = userTx.LockTime
	for _, in := range userTx.TxIn {
		rebuiltTx.AddTxIn(wire.NewTxIn(&in.PreviousOutPoint, nil, nil))
		rebuiltTx.TxIn[len(rebuiltTx.TxIn)-1].Sequence = in.Sequence
	}
	for _, out := range userTx.TxOut {
		rebuiltTx.AddTxOut(wire.NewTxOut(out.Value, out.PkScript))
	}

	rebuilt, err := psbt.NewFromUnsignedTx(rebuiltTx)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild unsigned psbt: %w", err)
	}

	for i, in := range rebuiltTx.TxIn {
		source := findInputByOutpoint(unsigned, in.PreviousOutPoint)
		if source == nil {
			return nil, fmt.Errorf(
				"input %d (%s) not found in stored unsigned psbt",
				i, in.PreviousOutPoint.String(),
			)
		}
		rebuilt.Inputs[i].WitnessUtxo = source.WitnessUtxo
		rebuilt.Inputs[i].TaprootLeafScript = source.TaprootLeafScript
		rebuilt.Inputs[i].SighashType = source.SighashType
	}

	if err := hubSignPacket(rebuilt, hubPrv); err != nil {
		return nil, err
	}

	for i, in := range userTx.TxIn {
		if len(in.Witness) < 3 {
			return nil, fmt.Errorf(
				"input %d witness too short for a script-path spend: %d elements",
				i, len(in.Witness),
			)
		}

		sigs := in.Witness[:len(in.Witness)-2]
		script := in.Witness[len(in.Witness)-2]
		controlBlock := in.Witness[len(in.Witness)-1]

		hubSigs := rebuilt.Inputs[i].TaprootScriptSpendSig
		if len(hubSigs) == 0 {
			return nil, fmt.Errorf("hub produced no signature for input %d", i)
		}

		witness := make(wire.TxWitness, 0, len(sigs)+3)
		witness = append(witness, sigs...)
		witness = append(witness, hubSigs[len(hubSigs)-1].Signature)
		witness = append(witness, script, controlBlock)
		rebuiltTx.TxIn[i].Witness = witness
	}

	return assembleResult(rebuilt, rebuiltTx)
}

// finalizePartial handles a user-signed but unfinalized PSBT: the user's
// script-path signatures and tap leaf data are copied verbatim, the hub signs
// every input, and a custom serializer produces the
// [user-sig, hub-sig, script, control-block] witness.
func finalizePartial(
	unsigned, userSigned *psbt.Packet, hubPrv *secp256k1.PrivateKey,
) (*FinalizedTx, error) {
	for i, in := range userSigned.Inputs {
		if len(in.TaprootScriptSpendSig) == 0 && len(in.TaprootKeySpendSig) == 0 {
			return nil, ErrMissingSignature{InputIndex: i}
		}
	}

	merged, err := psbt.NewFromUnsignedTx(userSigned.UnsignedTx.Copy())
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild psbt from user inputs: %w", err)
	}

	for i := range merged.Inputs {
		userIn := userSigned.Inputs[i]
		in := &merged.Inputs[i]

		// prefer the user's recorded leaf data to preserve the exact
		// control-block and leaf selection it signed against
		in.WitnessUtxo = userIn.WitnessUtxo
		in.TaprootLeafScript = userIn.TaprootLeafScript
		in.SighashType = userIn.SighashType

		if source := findInputByOutpoint(
			unsigned, merged.UnsignedTx.TxIn[i].PreviousOutPoint,
		); source != nil {
			if in.WitnessUtxo == nil {
				in.WitnessUtxo = source.WitnessUtxo
			}
			if len(in.TaprootLeafScript) == 0 {
				in.TaprootLeafScript = source.TaprootLeafScript
			}
		}

		if in.WitnessUtxo == nil {
			return nil, fmt.Errorf("missing witness utxo for input %d", i)
		}
		if len(in.TaprootLeafScript) == 0 {
			return nil, fmt.Errorf("missing tap leaf script for input %d", i)
		}

		// key-path spends are rejected by policy, drop any key-path signature
		in.TaprootScriptSpendSig = append(
			[]*psbt.TaprootScriptSpendSig{}, userIn.TaprootScriptSpendSig...,
		)
		in.TaprootKeySpendSig = nil

		if len(in.TaprootScriptSpendSig) == 0 {
			return nil, ErrMissingSignature{InputIndex: i}
		}
	}

	if err := hubSignPacket(merged, hubPrv); err != nil {
		return nil, err
	}

	for i := range merged.Inputs {
		in := &merged.Inputs[i]

		if !txscript.IsPayToTaproot(in.WitnessUtxo.PkScript) {
			if err := psbt.Finalize(merged, i); err != nil {
				return nil, fmt.Errorf("failed to finalize input %d: %w", i, err)
			}
			continue
		}

		witness, err := witnessForInput(in)
		if err != nil {
			return nil, fmt.Errorf("failed to build witness for input %d: %w", i, err)
		}

		var witnessBuf bytes.Buffer
		if err := psbt.WriteTxWitness(&witnessBuf, witness); err != nil {
			return nil, err
		}
		in.FinalScriptWitness = witnessBuf.Bytes()
	}

	finalTx, err := psbt.Extract(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to extract finalized transaction: %w", err)
	}

	// rebuild every witness from the recorded signatures, script and control
	// block instead of trusting the extractor's output, so the ordering is
	// exactly [user-sig, hub-sig, script, control-block]
	for i := range merged.Inputs {
		in := &merged.Inputs[i]
		if !txscript.IsPayToTaproot(in.WitnessUtxo.PkScript) {
			continue
		}
		witness, err := witnessForInput(in)
		if err != nil {
			return nil, err
		}
		finalTx.TxIn[i].Witness = witness
	}

	return assembleResult(merged, finalTx)
}

// witnessForInput assembles the script-path witness from an input's recorded
// tap data: the collected signatures in collection order, then the leaf
// script, then the control block.
func witnessForInput(in *psbt.PInput) (wire.TxWitness, error) {
	if len(in.TaprootLeafScript) == 0 {
		return nil, fmt.Errorf("no tap leaf script recorded")
	}
	leaf := in.TaprootLeafScript[0]

	witness := make(wire.TxWitness, 0, len(in.TaprootScriptSpendSig)+2)
	for _, sig := range in.TaprootScriptSpendSig {
		sigBytes := sig.Signature
		if sig.SigHash != txscript.SigHashDefault {
			sigBytes = append(append([]byte{}, sigBytes...), byte(sig.SigHash))
		}
		witness = append(witness, sigBytes)
	}
	witness = append(witness, leaf.Script, leaf.ControlBlock)
	return witness, nil
}

// hubSignPacket computes the hub's script-path signature for every input.
func hubSignPacket(packet *psbt.Packet, hubPrv *secp256k1.PrivateKey) error {
	prevoutFetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range packet.Inputs {
		if in.WitnessUtxo == nil {
			return fmt.Errorf("missing witness utxo for input %d", i)
		}
		prevoutFetcher.AddPrevOut(
			packet.UnsignedTx.TxIn[i].PreviousOutPoint, in.WitnessUtxo,
		)
	}

	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, prevoutFetcher)

	for i := range packet.Inputs {
		in := &packet.Inputs[i]
		if len(in.TaprootLeafScript) == 0 {
			return fmt.Errorf("missing tap leaf script for input %d", i)
		}
		leaf := in.TaprootLeafScript[0]
		leafHash := txscript.NewTapLeaf(leaf.LeafVersion, leaf.Script).TapHash()

		preimage, err := txscript.CalcTapscriptSignaturehash(
			sigHashes,
			txscript.SigHashDefault,
			packet.UnsignedTx,
			i,
			prevoutFetcher,
			txscript.NewBaseTapLeaf(leaf.Script),
		)
		if err != nil {
			return fmt.Errorf("failed to compute sighash for input %d: %w", i, err)
		}

		sig, err := schnorr.Sign(hubPrv, preimage)
		if err != nil {
			return fmt.Errorf("failed to sign input %d: %w", i, err)
		}

		in.TaprootScriptSpendSig = append(in.TaprootScriptSpendSig,
			&psbt.TaprootScriptSpendSig{
				XOnlyPubKey: schnorr.SerializePubKey(hubPrv.PubKey()),
				LeafHash:    leafHash.CloneBytes(),
				Signature:   sig.Serialize(),
				SigHash:     txscript.SigHashDefault,
			},
		)
	}

	return nil
}

// assembleResult serializes the final transaction and asserts that every
// taproot input's witness carries, verbatim, the control block recorded in
// the packet.
func assembleResult(packet *psbt.Packet, finalTx *wire.MsgTx) (*FinalizedTx, error) {
	witnessHexes := make([]string, 0, len(finalTx.TxIn))
	for i, in := range finalTx.TxIn {
		pIn := packet.Inputs[i]
		if len(pIn.TaprootLeafScript) > 0 {
			expected := pIn.TaprootLeafScript[0].ControlBlock
			if len(in.Witness) == 0 ||
				!bytes.Equal(in.Witness[len(in.Witness)-1], expected) {
				got := ""
				if len(in.Witness) > 0 {
					got = hex.EncodeToString(in.Witness[len(in.Witness)-1])
				}
				return nil, ErrControlBlockMismatch{
					InputIndex: i,
					Expected:   hex.EncodeToString(expected),
					Got:        got,
				}
			}
		}

		var witnessBuf bytes.Buffer
		if err := psbt.WriteTxWitness(&witnessBuf, in.Witness); err != nil {
			return nil, err
		}
		witnessHexes = append(witnessHexes, hex.EncodeToString(witnessBuf.Bytes()))
	}

	var serialized bytes.Buffer
	if err := finalTx.Serialize(&serialized); err != nil {
		return nil, fmt.Errorf("failed to serialize final transaction: %w", err)
	}

	return &FinalizedTx{
		Txid:         finalTx.TxHash().String(),
		TxHex:        hex.EncodeToString(serialized.Bytes()),
		TxBytes:      serialized.Bytes(),
		WitnessHexes: witnessHexes,
	}, nil
}

func isFinalized(packet *psbt.Packet) bool {
	if len(packet.Inputs) == 0 {
		return false
	}
	for _, in := range packet.Inputs {
		if len(in.FinalScriptWitness) == 0 {
			return false
		}
	}
	return true
}

func findInputByOutpoint(packet *psbt.Packet, outpoint wire.OutPoint) *psbt.PInput {
	for i, in := range packet.UnsignedTx.TxIn {
		if in.PreviousOutPoint == outpoint {
			return &packet.Inputs[i]
		}
	}
	return nil
}
