package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	erc4626ABIJSON = `[
{"inputs":[{"internalType":"uint256","name":"shares","type":"uint256"}],"name":"convertToAssets","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"totalAssets","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

	defaultBlocksPerDay = 7200
)

var (
	erc4626ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc4626ABIJSON))
	if err != nil {
		panic("failed to parse ERC-4626 ABI: " + err.Error())
	}
	erc4626ABI = parsed
}

// ContractCaller is the subset of ethclient.Client the chain fetcher needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ChainOptions parameterise the on-chain vault sampler.
type ChainOptions struct {
	RPCURL        string
	BlocksPerDay  uint64
	AssetDecimals int32
	// AssetUSDPrice converts totalAssets into USD. Defaults to 1 for stablecoin vaults.
	AssetUSDPrice float64
	Timeout       time.Duration
}

// Chain samples ERC-4626 vault share price and total assets once per day at historical
// blocks. Pool identifiers are vault contract addresses. Historical calls need an
// archive node.
type Chain struct {
	opts      ChainOptions
	logger    zerolog.Logger
	client    ContractCaller
	clientMux sync.Mutex
}

// NewChain builds a vault sampler that dials RPCURL lazily.
func NewChain(opts ChainOptions, logger zerolog.Logger) *Chain {
	if opts.BlocksPerDay == 0 {
		opts.BlocksPerDay = defaultBlocksPerDay
	}
	if opts.AssetDecimals <= 0 {
		opts.AssetDecimals = 18
	}
	if opts.AssetUSDPrice <= 0 {
		opts.AssetUSDPrice = 1
	}
	return &Chain{opts: opts, logger: logger.With().Str("component", "chain_fetcher").Logger()}
}

// NewChainWithClient builds a sampler around an existing caller.
func NewChainWithClient(opts ChainOptions, client ContractCaller, logger zerolog.Logger) *Chain {
	c := NewChain(opts, logger)
	c.client = client
	return c
}

// FetchSeries reads convertToAssets(one share) and totalAssets() at one block per day
// for the trailing rangeDays, oldest first.
func (c *Chain) FetchSeries(ctx context.Context, poolID string, rangeDays int) (Series, error) {
	if !common.IsHexAddress(poolID) {
		return Series{}, fmt.Errorf("invalid vault address %q", poolID)
	}
	if rangeDays <= 0 {
		rangeDays = 1
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	client, err := c.getClient(ctx)
	if err != nil {
		return Series{}, err
	}

	vault := common.HexToAddress(poolID)
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return Series{}, fmt.Errorf("block number: %w", err)
	}

	shareDecimals, err := c.vaultDecimals(ctx, client, vault)
	if err != nil {
		return Series{}, err
	}
	oneShare := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(shareDecimals)), nil)
	usd := decimal.NewFromFloat(c.opts.AssetUSDPrice)

	series := Series{PoolID: poolID}
	for day := rangeDays - 1; day >= 0; day-- {
		offset := uint64(day) * c.opts.BlocksPerDay
		if offset > head {
			continue
		}
		block := new(big.Int).SetUint64(head - offset)

		assets, err := c.callUint(ctx, client, vault, block, "convertToAssets", oneShare)
		if err != nil {
			return Series{}, fmt.Errorf("convertToAssets at block %s: %w", block, err)
		}
		total, err := c.callUint(ctx, client, vault, block, "totalAssets")
		if err != nil {
			return Series{}, fmt.Errorf("totalAssets at block %s: %w", block, err)
		}

		price := decimal.NewFromBigInt(assets, -c.opts.AssetDecimals)
		tvl := decimal.NewFromBigInt(total, -c.opts.AssetDecimals).Mul(usd)
		series.Prices = append(series.Prices, price.InexactFloat64())
		series.TVL = append(series.TVL, tvl.InexactFloat64())
	}

	if len(series.Prices) == 0 {
		return Series{}, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}

	c.logger.Debug().Str("vault", poolID).Uint64("head", head).Int("points", len(series.Prices)).Msg("vault sampled")
	return series, nil
}

func (c *Chain) vaultDecimals(ctx context.Context, client ContractCaller, vault common.Address) (uint8, error) {
	payload, err := erc4626ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &vault, Data: payload}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	outputs, err := erc4626ABI.Unpack("decimals", res)
	if err != nil {
		return 0, fmt.Errorf("decode decimals: %w", err)
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	d, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	return d, nil
}

func (c *Chain) callUint(ctx context.Context, client ContractCaller, vault common.Address, block *big.Int, method string, args ...interface{}) (*big.Int, error) {
	payload, err := erc4626ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &vault, Data: payload}, block)
	if err != nil {
		return nil, err
	}

	outputs, err := erc4626ABI.Unpack(method, res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("unexpected %s response", method)
	}
	value, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to decode %s output", method)
	}
	return value, nil
}

func (c *Chain) getClient(ctx context.Context) (ContractCaller, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ SeriesFetcher = (*Chain)(nil)
