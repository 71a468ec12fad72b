package poller

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"

	"chainpulse/internal/chunker"
	"chainpulse/internal/config"
	"chainpulse/internal/metrics"
	"chainpulse/internal/rpcclient"
	"chainpulse/pkg/logger"
)

// transferEventTopic is the keccak256 hash of Transfer(address,address,uint256),
// shared by ERC-20 and ERC-721.
var transferEventTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

const defaultTokenDecimals = 18

// Result is the verdict of one collection cycle.
type Result struct {
	OK        bool
	ErrorKind string
}

// Collector runs one synchronous collection cycle per poll tick per chain.
type Collector struct {
	pool       *rpcclient.Pool
	classifier *rpcclient.Classifier
	chunker    *chunker.Chunker
	metrics    *metrics.Metrics
	log        *logger.Logger

	// value-category failures are logged once per (chain, contract, selector)
	loggedMu sync.Mutex
	logged   map[string]bool
}

func NewCollector(pool *rpcclient.Pool, classifier *rpcclient.Classifier, m *metrics.Metrics, log *logger.Logger) *Collector {
	return &Collector{
		pool:       pool,
		classifier: classifier,
		chunker:    chunker.New(),
		metrics:    m,
		log:        log,
		logged:     make(map[string]bool),
	}
}

// Collect executes the ordered collection steps for one chain. Steps after
// chain-id resolution are independently failable: an error marks the tick
// failed but later steps still run, so each attempt updates as many series
// as it can. Returns the verdict and the label cache of everything written
// this tick.
func (c *Collector) Collect(ctx context.Context, rt *chainRuntime) (Result, *metrics.LabelCache) {
	spec := rt.currentSpec()
	tick := metrics.NewLabelCache()

	client, err := c.pool.Get(ctx, spec.Name, spec.RPCURL)
	if err != nil {
		c.log.Warn("Failed to create RPC client for %s: %v", spec.Name, err)
		return Result{ErrorKind: string(rpcclient.ErrorCategory(err))}, tick
	}

	// Step 1: resolve chain_id. A change of identity invalidates every
	// series previously published for this chain before anything new is
	// written. Failure here is fatal for the tick unless a cached id exists.
	resolved, err := client.ChainID(ctx)
	if err != nil {
		if rt.chainIDLabel() == unknownChainID {
			c.log.Warn("Unable to resolve chain_id for %s: %v", spec.Name, err)
			return Result{ErrorKind: string(rpcclient.ErrorCategory(err))}, tick
		}
		c.log.Debug("Using cached chain_id %s for %s after failed lookup: %v", rt.chainIDLabel(), spec.Name, err)
	} else {
		label := strconv.FormatUint(resolved, 10)
		if previous := rt.chainIDLabel(); previous != unknownChainID && previous != label {
			c.log.Warn("Chain id for %s changed from %s to %s; pruning stale series", spec.Name, previous, label)
			c.metrics.PruneCache(rt.labelCache())
			rt.setLabelCache(metrics.NewLabelCache())
			c.classifier.Forget(spec.Name)
		}
		rt.setChainID(label)
	}

	chainID := rt.chainIDLabel()
	chainLabels := prometheus.Labels{"chain": spec.Name, "chain_id": chainID}

	failed := false
	errorKind := ""
	fail := func(err error) {
		failed = true
		if errorKind == "" {
			errorKind = string(rpcclient.ErrorCategory(err))
		}
	}

	accountTotal := len(spec.Accounts)
	for _, contract := range spec.Contracts {
		accountTotal += len(contract.Accounts)
	}
	c.metrics.SetGauge(tick, metrics.FamilyChainAccountsCount, chainLabels, float64(accountTotal))
	c.metrics.SetGauge(tick, metrics.FamilyChainContractsCount, chainLabels, float64(len(spec.Contracts)))

	// Step 2: block heights. The finalized tag is best-effort; endpoints
	// without it report 0 with the stale-finalized indicator raised.
	var latestBlock uint64
	haveLatest := false

	if head, err := client.HeadHeader(ctx); err != nil {
		c.log.Warn("Failed to fetch latest block for %s: %v", spec.Name, err)
		fail(err)
	} else {
		latestBlock = head.Number.Uint64()
		haveLatest = true

		c.metrics.SetGauge(tick, metrics.FamilyChainLatestBlock, chainLabels, float64(latestBlock))
		c.metrics.SetGauge(tick, metrics.FamilyChainHeadTimestamp, chainLabels, float64(head.Time))

		sinceBlock := time.Since(time.Unix(int64(head.Time), 0)).Seconds()
		if sinceBlock < 0 {
			sinceBlock = 0
		}
		c.metrics.SetGauge(tick, metrics.FamilyChainTimeSinceBlock, chainLabels, sinceBlock)
	}

	if finalized, err := client.FinalizedHeader(ctx); err != nil {
		c.log.Debug("RPC endpoint did not return finalized block for %s: %v", spec.Name, err)
		c.metrics.SetGauge(tick, metrics.FamilyChainFinalizedBlock, chainLabels, 0)
		c.metrics.SetGauge(tick, metrics.FamilyChainFinalizedStale, chainLabels, 1)
	} else {
		c.metrics.SetGauge(tick, metrics.FamilyChainFinalizedBlock, chainLabels, float64(finalized.Number.Uint64()))
		c.metrics.SetGauge(tick, metrics.FamilyChainFinalizedStale, chainLabels, 0)
	}

	// Step 3: native balances for configured accounts.
	for _, account := range spec.Accounts {
		if err := c.collectAccount(ctx, client, tick, spec.Name, chainID, account); err != nil {
			c.log.Warn("Failed to collect account %s on %s: %v", account.Address, spec.Name, err)
			fail(err)
		}
	}

	// Step 4: contracts, token balances, and transfer windows.
	for _, contract := range spec.Contracts {
		if err := c.collectContract(ctx, client, tick, &spec, chainID, contract, latestBlock, haveLatest); err != nil {
			c.log.Warn("Failed to collect contract %s on %s: %v", contract.Address, spec.Name, err)
			fail(err)
		}
	}

	if failed {
		return Result{ErrorKind: errorKind}, tick
	}
	return Result{OK: true}, tick
}

func (c *Collector) collectAccount(ctx context.Context, client *rpcclient.Client, tick *metrics.LabelCache, chain, chainID string, account config.AccountSpec) error {
	address := common.HexToAddress(account.Address)

	balance, err := client.Balance(ctx, address)
	if err != nil {
		return err
	}

	code, err := client.Code(ctx, address)
	if err != nil {
		return err
	}

	labels := prometheus.Labels{
		"chain":       chain,
		"chain_id":    chainID,
		"name":        account.Name,
		"address":     account.Address,
		"is_contract": contractFlag(len(code) > 0),
	}

	c.metrics.SetGauge(tick, metrics.FamilyAccountBalanceWei, labels, bigToFloat(balance))
	c.metrics.SetGauge(tick, metrics.FamilyAccountBalanceEth, labels, weiToEth(balance))
	return nil
}

func (c *Collector) collectContract(ctx context.Context, client *rpcclient.Client, tick *metrics.LabelCache, spec *config.ChainSpec, chainID string, contract config.ContractSpec, latestBlock uint64, haveLatest bool) error {
	address := common.HexToAddress(contract.Address)

	kind, err := c.classifier.Classify(ctx, client, address)
	if err != nil {
		return err
	}

	labels := prometheus.Labels{
		"chain":    spec.Name,
		"chain_id": chainID,
		"name":     contract.Name,
		"address":  contract.Address,
	}

	balance, err := client.Balance(ctx, address)
	if err != nil {
		return err
	}
	c.metrics.SetGauge(tick, metrics.FamilyContractBalanceWei, labels, bigToFloat(balance))
	c.metrics.SetGauge(tick, metrics.FamilyContractBalanceEth, labels, weiToEth(balance))

	decimals := defaultTokenDecimals
	if kind == rpcclient.KindERC20 {
		decimals = c.resolveDecimals(ctx, client, spec.Name, contract)

		if raw, err := client.Call(ctx, address, rpcclient.PackCall(rpcclient.SelectorTotalSupply)); err != nil {
			c.logOnce(spec.Name+"|"+contract.Address+"|totalSupply", "totalSupply() failed for %s on %s: %v", contract.Name, spec.Name, err)
		} else if supply, err := rpcclient.DecodeUint256(raw); err == nil {
			c.metrics.SetGauge(tick, metrics.FamilyContractSupplyRaw, labels, bigToFloat(supply))
			c.metrics.SetGauge(tick, metrics.FamilyContractSupplyNorm, labels, normalize(supply, decimals))
		}
	}

	if kind == rpcclient.KindERC721 {
		// totalSupply is optional on ERC-721; omit the series when absent.
		if raw, err := client.Call(ctx, address, rpcclient.PackCall(rpcclient.SelectorTotalSupply)); err == nil {
			if supply, err := rpcclient.DecodeUint256(raw); err == nil {
				c.metrics.SetGauge(tick, metrics.FamilyContractNFTSupply, labels, bigToFloat(supply))
			}
		}
	}

	for _, account := range contract.Accounts {
		c.collectContractAccount(ctx, client, tick, spec.Name, chainID, contract, account, kind, decimals)
	}

	lookback := spec.LookbackFor(&contract)
	if lookback > 0 && haveLatest {
		if err := c.collectTransferWindow(ctx, client, tick, spec.Name, chainID, contract, address, latestBlock, lookback); err != nil {
			return err
		}
	}

	return nil
}

func (c *Collector) collectContractAccount(ctx context.Context, client *rpcclient.Client, tick *metrics.LabelCache, chain, chainID string, contract config.ContractSpec, account config.ContractAccountSpec, kind rpcclient.TokenKind, decimals int) {
	if kind != rpcclient.KindERC20 && kind != rpcclient.KindERC721 {
		return
	}

	address := common.HexToAddress(account.Address)
	contractAddress := common.HexToAddress(contract.Address)

	labels := prometheus.Labels{
		"chain":         chain,
		"chain_id":      chainID,
		"token_name":    contract.Name,
		"token_address": contract.Address,
		"name":          account.Name,
		"address":       account.Address,
	}

	raw, err := client.Call(ctx, contractAddress, rpcclient.PackCallAddress(rpcclient.SelectorBalanceOf, address))
	if err != nil {
		c.logOnce(chain+"|"+contract.Address+"|balanceOf", "balanceOf(%s) failed for %s on %s: %v", account.Address, contract.Name, chain, err)
		c.metrics.SetGauge(tick, metrics.FamilyAccountTokenBalanceRaw, labels, 0)
		c.metrics.SetGauge(tick, metrics.FamilyAccountTokenBalance, labels, 0)
	} else if balance, decodeErr := rpcclient.DecodeUint256(raw); decodeErr != nil {
		c.logOnce(chain+"|"+contract.Address+"|balanceOf", "balanceOf(%s) returned undecodable data for %s on %s: %v", account.Address, contract.Name, chain, decodeErr)
		c.metrics.SetGauge(tick, metrics.FamilyAccountTokenBalanceRaw, labels, 0)
		c.metrics.SetGauge(tick, metrics.FamilyAccountTokenBalance, labels, 0)
	} else {
		c.metrics.SetGauge(tick, metrics.FamilyAccountTokenBalanceRaw, labels, bigToFloat(balance))
		if kind == rpcclient.KindERC20 {
			c.metrics.SetGauge(tick, metrics.FamilyAccountTokenBalance, labels, normalize(balance, decimals))
		} else {
			c.metrics.SetGauge(tick, metrics.FamilyAccountTokenBalance, labels, bigToFloat(balance))
		}
	}

	if kind != rpcclient.KindERC721 {
		return
	}

	for _, tokenID := range account.TokenIDs {
		ownedLabels := prometheus.Labels{}
		for key, value := range labels {
			ownedLabels[key] = value
		}
		ownedLabels["token_id"] = strconv.FormatUint(tokenID, 10)

		owned := 0.0
		raw, err := client.Call(ctx, contractAddress, rpcclient.PackCallUint256(rpcclient.SelectorOwnerOf, new(big.Int).SetUint64(tokenID)))
		if err == nil {
			if owner, decodeErr := rpcclient.DecodeAddress(raw); decodeErr == nil && owner == address {
				owned = 1.0
			}
		}
		c.metrics.SetGauge(tick, metrics.FamilyAccountTokenOwned, ownedLabels, owned)
	}
}

func (c *Collector) collectTransferWindow(ctx context.Context, client *rpcclient.Client, tick *metrics.LabelCache, chain, chainID string, contract config.ContractSpec, address common.Address, latestBlock, lookback uint64) error {
	fromBlock := uint64(0)
	if latestBlock > lookback {
		fromBlock = latestBlock - lookback
	}

	fetch := func(ctx context.Context, from, to uint64) ([]types.Log, error) {
		return client.Logs(ctx, from, to, address, [][]common.Hash{{transferEventTopic}})
	}

	telemetry := &chunkTelemetry{metrics: c.metrics, chain: chain, contract: contract.Address}

	logs, err := c.chunker.FetchLogs(ctx, fromBlock, latestBlock, fetch, telemetry)
	if err != nil {
		return err
	}

	labels := prometheus.Labels{
		"chain":         chain,
		"chain_id":      chainID,
		"name":          contract.Name,
		"address":       contract.Address,
		"window_blocks": strconv.FormatUint(lookback, 10),
	}
	c.metrics.SetGauge(tick, metrics.FamilyContractTransferCount, labels, float64(len(logs)))
	return nil
}

func (c *Collector) resolveDecimals(ctx context.Context, client *rpcclient.Client, chain string, contract config.ContractSpec) int {
	if contract.Decimals != nil {
		return *contract.Decimals
	}

	raw, err := client.Call(ctx, common.HexToAddress(contract.Address), rpcclient.PackCall(rpcclient.SelectorDecimals))
	if err != nil {
		c.logOnce(chain+"|"+contract.Address+"|decimals", "decimals() failed for %s on %s; defaulting to %d: %v", contract.Name, chain, defaultTokenDecimals, err)
		return defaultTokenDecimals
	}

	value, err := rpcclient.DecodeUint256(raw)
	if err != nil || !value.IsInt64() {
		c.logOnce(chain+"|"+contract.Address+"|decimals", "decimals() returned undecodable data for %s on %s; defaulting to %d", contract.Name, chain, defaultTokenDecimals)
		return defaultTokenDecimals
	}

	return int(value.Int64())
}

func (c *Collector) logOnce(key, format string, v ...interface{}) {
	c.loggedMu.Lock()
	seen := c.logged[key]
	c.logged[key] = true
	c.loggedMu.Unlock()

	if !seen {
		c.log.Debug(format, v...)
	}
}

type chunkTelemetry struct {
	metrics  *metrics.Metrics
	chain    string
	contract string
}

func (t *chunkTelemetry) ChunkCreated() {
	t.metrics.Chain.LogChunksCreated.WithLabelValues(t.chain, t.contract).Inc()
}

func (t *chunkTelemetry) ChunkBlocks(blocks uint64) {
	t.metrics.Chain.LogChunkBlocks.WithLabelValues(t.chain, t.contract).Observe(float64(blocks))
}

func (t *chunkTelemetry) ChunkDuration(seconds float64) {
	t.metrics.Chain.LogChunkDuration.WithLabelValues(t.chain, t.contract).Observe(seconds)
}

func contractFlag(isContract bool) string {
	if isContract {
		return "1"
	}
	return "0"
}

func bigToFloat(value *big.Int) float64 {
	f, _ := new(big.Float).SetInt(value).Float64()
	return f
}

var weiPerEth = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

func weiToEth(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEth).Float64()
	return f
}

func normalize(raw *big.Int, decimals int) float64 {
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), divisor).Float64()
	return f
}
