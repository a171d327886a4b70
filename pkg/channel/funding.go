package channel

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Input is an unspent output at the channel's taproot address.
type Input struct {
	Txid   string
	Vout   uint32
	Amount int64
}

// Output is a payout destination of a funding-spend transaction.
type Output struct {
	Address string
	Amount  int64
}

// ErrAllOutputsBelowDust is returned when dust filtering leaves nothing to pay.
type ErrAllOutputsBelowDust struct {
	Rejected []Output
}

func (e ErrAllOutputsBelowDust) Error() string {
	return fmt.Sprintf("all %d outputs below dust threshold", len(e.Rejected))
}

// ErrInsufficientFunds reports the exact shortfall of the input set.
type ErrInsufficientFunds struct {
	Required  int64
	Available int64
}

func (e ErrInsufficientFunds) Error() string {
	return fmt.Sprintf(
		"insufficient funds: required %s, available %s",
		FormatAmount(e.Required), FormatAmount(e.Available),
	)
}

// BuildFundingTx builds the unsigned funding-spend PSBT for a channel.
//
// Every input is attached with the multisig leaf script, its control block
// and the leaf version so that signatures are later collected against the
// correct script-path sighash. Outputs below the dust threshold are dropped;
// a fixed fee is subtracted from the input sum; any non-dust change goes back
// to changeAddress, dust change is folded into the fee.
func BuildFundingTx(
	chanCtx *Context, inputs []Input, outputs []Output,
	changeAddress string, fee, dust int64, net *chaincfg.Params,
) (*psbt.Packet, error) {
	kept := make([]Output, 0, len(outputs))
	rejected := make([]Output, 0)
	for _, out := range outputs {
		if out.Amount < dust {
			rejected = append(rejected, out)
			continue
		}
		kept = append(kept, out)
	}
	if len(kept) == 0 {
		return nil, ErrAllOutputsBelowDust{Rejected: rejected}
	}

	unsignedTx := wire.NewMsgTx(2)

	inputAmount := int64(0)
	for _, in := range inputs {
		txhash, err := chainhash.NewHashFromStr(in.Txid)
		if err != nil {
			return nil, fmt.Errorf("invalid input txid %s: %s", in.Txid, err)
		}
		unsignedTx.AddTxIn(wire.NewTxIn(
			wire.NewOutPoint(txhash, in.Vout), nil, nil,
		))
		inputAmount += in.Amount
	}

	outputAmount := int64(0)
	for _, out := range kept {
		pkScript, err := pkScriptForAddress(out.Address, net)
		if err != nil {
			return nil, err
		}
		unsignedTx.AddTxOut(wire.NewTxOut(out.Amount, pkScript))
		outputAmount += out.Amount
	}

	required := outputAmount + fee
	if inputAmount < required {
		return nil, ErrInsufficientFunds{
			Required:  required,
			Available: inputAmount,
		}
	}

	if change := inputAmount - required; change >= dust {
		pkScript, err := pkScriptForAddress(changeAddress, net)
		if err != nil {
			return nil, fmt.Errorf("invalid change address: %w", err)
		}
		unsignedTx.AddTxOut(wire.NewTxOut(change, pkScript))
	}

	packet, err := psbt.NewFromUnsignedTx(unsignedTx)
	if err != nil {
		return nil, fmt.Errorf("failed to create psbt: %w", err)
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, err
	}

	for i, in := range inputs {
		packet.Inputs[i].TaprootLeafScript = []*psbt.TaprootTapLeafScript{
			{
				ControlBlock: chanCtx.ControlBlock,
				Script:       chanCtx.MultisigScript,
				LeafVersion:  chanCtx.LeafVersion,
			},
		}

		prevout := &wire.TxOut{
			Value:    in.Amount,
			PkScript: chanCtx.OutputScript,
		}
		if err := updater.AddInWitnessUtxo(prevout, i); err != nil {
			return nil, err
		}
		if err := updater.AddInSighashType(txscript.SigHashDefault, i); err != nil {
			return nil, err
		}
	}

	return packet, nil
}

// TxFee recomputes the fee a packet actually pays from its input/output delta.
func TxFee(packet *psbt.Packet) (int64, error) {
	inputAmount := int64(0)
	for i, in := range packet.Inputs {
		if in.WitnessUtxo == nil {
			return 0, fmt.Errorf("missing witness utxo for input %d", i)
		}
		inputAmount += in.WitnessUtxo.Value
	}

	outputAmount := int64(0)
	for _, out := range packet.UnsignedTx.TxOut {
		outputAmount += out.Value
	}

	if inputAmount < outputAmount {
		return 0, fmt.Errorf(
			"negative fee: inputs %d, outputs %d", inputAmount, outputAmount,
		)
	}
	return inputAmount - outputAmount, nil
}

// EncodePsbt serializes a packet to its base64 form.
func EncodePsbt(packet *psbt.Packet) (string, error) {
	return packet.B64Encode()
}

// DecodePsbt parses a base64 PSBT.
func DecodePsbt(encoded string) (*psbt.Packet, error) {
	return psbt.NewFromRawBytes(strings.NewReader(encoded), true)
}

func pkScriptForAddress(address string, net *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, net)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %s", address, err)
	}
	return txscript.PayToAddrScript(addr)
}
