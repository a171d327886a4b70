package esplora

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/taphub/taphubd/internal/core/ports"
	"golang.org/x/net/context"
)

type client struct {
	url  string
	http *http.Client
}

// NewService returns a ChainIndexer backed by an esplora-compatible HTTP API.
func NewService(baseUrl string) (ports.ChainIndexer, error) {
	if len(baseUrl) == 0 {
		return nil, fmt.Errorf("missing esplora url")
	}
	return &client{
		url:  strings.TrimSuffix(baseUrl, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type esploraStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
	BlockTime   int64 `json:"block_time"`
}

type esploraUtxo struct {
	Txid   string        `json:"txid"`
	Vout   uint32        `json:"vout"`
	Value  int64         `json:"value"`
	Status esploraStatus `json:"status"`
}

type esploraTx struct {
	Txid string `json:"txid"`
	Vout []struct {
		Address string `json:"scriptpubkey_address"`
		Value   int64  `json:"value"`
	} `json:"vout"`
	Status esploraStatus `json:"status"`
}

func (c *client) GetUtxos(
	ctx context.Context, address string,
) ([]ports.Utxo, error) {
	endpoint, err := url.JoinPath(c.url, "address", address, "utxo")
	if err != nil {
		return nil, err
	}

	var response []esploraUtxo
	if err := c.get(ctx, endpoint, &response); err != nil {
		return nil, err
	}

	utxos := make([]ports.Utxo, 0, len(response))
	for _, u := range response {
		utxos = append(utxos, ports.Utxo{
			Txid:   u.Txid,
			Vout:   u.Vout,
			Amount: u.Value,
			Status: ports.TxStatus{
				Confirmed:   u.Status.Confirmed,
				BlockHeight: u.Status.BlockHeight,
				BlockTime:   u.Status.BlockTime,
			},
		})
	}
	return utxos, nil
}

func (c *client) GetTransactions(
	ctx context.Context, address string,
) ([]ports.AddressTx, error) {
	endpoint, err := url.JoinPath(c.url, "address", address, "txs")
	if err != nil {
		return nil, err
	}

	var response []esploraTx
	if err := c.get(ctx, endpoint, &response); err != nil {
		return nil, err
	}

	txs := make([]ports.AddressTx, 0, len(response))
	for _, tx := range response {
		outputs := make([]ports.TxOutput, 0, len(tx.Vout))
		for _, out := range tx.Vout {
			outputs = append(outputs, ports.TxOutput{
				Address: out.Address,
				Amount:  out.Value,
			})
		}
		txs = append(txs, ports.AddressTx{
			Txid:    tx.Txid,
			Outputs: outputs,
			Status: ports.TxStatus{
				Confirmed:   tx.Status.Confirmed,
				BlockHeight: tx.Status.BlockHeight,
				BlockTime:   tx.Status.BlockTime,
			},
		})
	}
	return txs, nil
}

func (c *client) GetTxStatus(
	ctx context.Context, txid string,
) (ports.TxStatus, error) {
	endpoint, err := url.JoinPath(c.url, "tx", txid)
	if err != nil {
		return ports.TxStatus{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ports.TxStatus{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ports.TxStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ports.TxStatus{}, ports.ErrTxNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return ports.TxStatus{}, fmt.Errorf("tx endpoint HTTP error: %s", resp.Status)
	}

	var response esploraTx
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return ports.TxStatus{}, err
	}

	return ports.TxStatus{
		Confirmed:   response.Status.Confirmed,
		BlockHeight: response.Status.BlockHeight,
		BlockTime:   response.Status.BlockTime,
	}, nil
}

func (c *client) GetChainTip(ctx context.Context) (int64, error) {
	endpoint, err := url.JoinPath(c.url, "blocks", "tip", "height")
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("tip endpoint HTTP error: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	return strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
}

func (c *client) Broadcast(ctx context.Context, txHex string) (string, error) {
	endpoint, err := url.JoinPath(c.url, "tx")
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, endpoint, strings.NewReader(txHex),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf(
			"failed to broadcast transaction: %s (%s)", resp.Status, string(body),
		)
	}

	return strings.TrimSpace(string(body)), nil
}

func (c *client) get(ctx context.Context, endpoint string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		content, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s (%s)", endpoint, resp.Status, string(content))
	}

	return json.NewDecoder(resp.Body).Decode(dest)
}
