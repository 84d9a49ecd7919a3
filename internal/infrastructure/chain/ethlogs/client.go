package ethlogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"proofwatch/internal/errs"
	"proofwatch/internal/ports"
)

const callTimeout = 30 * time.Second

// Client speaks Ethereum JSON-RPC over a single websocket connection. One
// read loop demultiplexes call responses (matched by request id) and
// subscription notifications (matched by subscription id).
type Client struct {
	conn     *websocket.Conn
	contract string
	topic0   string

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan rpcResponse
	subs    map[string]chan json.RawMessage

	done    chan struct{}
	readErr error
}

var _ ports.ChainSource = (*Client)(nil)

// Dial connects to the node and starts the read loop. contract and topic0
// scope every log query and subscription to the proof event stream.
func Dial(ctx context.Context, url, contract, topic0 string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errs.Wrapf(err, "dial %s", url)
	}

	c := &Client{
		conn:     conn,
		contract: strings.ToLower(strings.TrimSpace(contract)),
		topic0:   strings.ToLower(strings.TrimSpace(topic0)),
		pending:  make(map[uint64]chan rpcResponse),
		subs:     make(map[string]chan json.RawMessage),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

func (c *Client) readLoop() {
	for {
		var msg rpcResponse
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.readErr = err
			for _, ch := range c.pending {
				close(ch)
			}
			c.pending = map[uint64]chan rpcResponse{}
			for _, ch := range c.subs {
				close(ch)
			}
			c.subs = map[string]chan json.RawMessage{}
			c.mu.Unlock()
			close(c.done)
			return
		}

		if msg.Method == "eth_subscription" {
			c.mu.Lock()
			ch := c.subs[msg.Params.Subscription]
			c.mu.Unlock()
			if ch != nil {
				select {
				case ch <- msg.Params.Result:
				default:
					// Slow consumer; the reconciler covers dropped logs.
				}
			}
			continue
		}

		c.mu.Lock()
		ch := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- msg
			close(ch)
		}
	}
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return errs.Wrap(err, "connection lost")
	}
	c.nextID++
	id := c.nextID
	ch := make(chan rpcResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return errs.Wrapf(err, "write %s", method)
	}

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("%s timed out", method)
	case resp, ok := <-ch:
		if !ok {
			return errors.New("connection closed mid-call")
		}
		if resp.Error != nil {
			return fmt.Errorf("%s failed: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return errs.Wrapf(err, "decode %s result", method)
		}
		return nil
	}
}

func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	var hexNum string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &hexNum); err != nil {
		return 0, err
	}
	return parseHexUint(hexNum)
}

type logRecord struct {
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
}

func (r logRecord) toRaw() (ports.RawLog, error) {
	blockNumber, err := parseHexUint(r.BlockNumber)
	if err != nil {
		return ports.RawLog{}, errs.Wrap(err, "parse log block number")
	}
	return ports.RawLog{
		Topics:      r.Topics,
		Data:        r.Data,
		BlockNumber: blockNumber,
		TxHash:      r.TransactionHash,
	}, nil
}

func (c *Client) logFilter(fromBlock, toBlock *uint64) map[string]any {
	filter := map[string]any{
		"address": c.contract,
		"topics":  []any{c.topic0},
	}
	if fromBlock != nil {
		filter["fromBlock"] = formatHexUint(*fromBlock)
	}
	if toBlock != nil {
		filter["toBlock"] = formatHexUint(*toBlock)
	}
	return filter
}

func (c *Client) Logs(ctx context.Context, fromBlock uint64, toBlock uint64) ([]ports.RawLog, error) {
	var records []logRecord
	if err := c.call(ctx, "eth_getLogs", []any{c.logFilter(&fromBlock, &toBlock)}, &records); err != nil {
		return nil, err
	}

	logs := make([]ports.RawLog, 0, len(records))
	for _, record := range records {
		raw, err := record.toRaw()
		if err != nil {
			return nil, err
		}
		logs = append(logs, raw)
	}
	return logs, nil
}

// SubscribeLogs blocks until ctx is done or the connection drops. The
// caller owns reconnect policy.
func (c *Client) SubscribeLogs(ctx context.Context, handler ports.LogHandler) error {
	var subID string
	if err := c.call(ctx, "eth_subscribe", []any{"logs", c.logFilter(nil, nil)}, &subID); err != nil {
		return err
	}

	ch := make(chan json.RawMessage, 64)
	c.mu.Lock()
	c.subs[subID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.subs, subID)
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			unsubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = c.call(unsubCtx, "eth_unsubscribe", []any{subID}, nil)
			cancel()
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				c.mu.Lock()
				err := c.readErr
				c.mu.Unlock()
				return errs.Wrap(err, "log subscription closed")
			}
			var record logRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				return errs.Wrap(err, "decode subscription log")
			}
			log, err := record.toRaw()
			if err != nil {
				return err
			}
			handler(ctx, log)
		}
	}
}

type blockHeader struct {
	Timestamp string `json:"timestamp"`
}

func (c *Client) BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error) {
	var header *blockHeader
	if err := c.call(ctx, "eth_getBlockByNumber", []any{formatHexUint(blockNumber), false}, &header); err != nil {
		return 0, err
	}
	if header == nil {
		return 0, fmt.Errorf("block %d not found", blockNumber)
	}
	ts, err := parseHexUint(header.Timestamp)
	if err != nil {
		return 0, errs.Wrap(err, "parse block timestamp")
	}
	return int64(ts), nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func parseHexUint(s string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("empty hex quantity %q", s)
	}
	value, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad hex quantity %q: %w", s, err)
	}
	return value, nil
}

func formatHexUint(value uint64) string {
	return "0x" + strconv.FormatUint(value, 16)
}
