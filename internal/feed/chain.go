package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"chainalerts/internal/snapshot"
)

// Metric keys reported by the chain feed.
const (
	MetricGas     = "gas:price"
	MetricBaseFee = "gas:base_fee"
	MetricBlock   = "block:number"
)

// ChainOptions parameterise the EVM network feed.
type ChainOptions struct {
	RPCURL  string
	Timeout time.Duration
	Vaults  []Vault
}

// Chain reports fee level metrics of an EVM network via JSON-RPC.
type Chain struct {
	opts      ChainOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChain builds a chain feed.
func NewChain(opts ChainOptions, logger zerolog.Logger) *Chain {
	return &Chain{opts: opts, logger: logger.With().Str("component", "chain_feed").Logger()}
}

// Refresh reads the suggested gas price, the latest base fee, block number and
// the share rate of each configured vault. A failing vault read is logged and
// left out of the readings.
func (c *Chain) Refresh(ctx context.Context, sourceID string) (map[string]snapshot.Reading, error) {
	if c.opts.RPCURL == "" {
		return nil, errors.New("rpc url not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if header.Time > 0 {
		now = time.Unix(int64(header.Time), 0).UTC()
	}

	readings := map[string]snapshot.Reading{
		MetricGas:   {Value: decimal.NewFromBigInt(gasPrice, -9).InexactFloat64(), Timestamp: now},
		MetricBlock: {Value: float64(header.Number.Uint64()), Timestamp: now},
	}
	if header.BaseFee != nil {
		readings[MetricBaseFee] = snapshot.Reading{Value: decimal.NewFromBigInt(header.BaseFee, -9).InexactFloat64(), Timestamp: now}
	}

	for _, v := range c.opts.Vaults {
		rate, err := readVaultRate(ctx, client, v)
		if err != nil {
			c.logger.Warn().Err(err).Str("source", sourceID).Str("vault", v.Symbol).Msg("vault rate read failed")
			continue
		}
		readings[v.MetricKey()] = snapshot.Reading{Value: rate.InexactFloat64(), Timestamp: now}
	}

	c.logger.Debug().Str("source", sourceID).
		Uint64("block", header.Number.Uint64()).
		Float64("gas_gwei", readings[MetricGas].Value).
		Msg("chain metrics read")
	return readings, nil
}

// Close releases the RPC client.
func (c *Chain) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

func (c *Chain) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ Feed = (*Chain)(nil)
