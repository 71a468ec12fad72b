package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauge family names. Every gauge write goes through SetGauge so the owning
// chain's label cache stays label-accurate; these constants key both the
// family index and the caches.
const (
	FamilyChainLatestBlock        = "blockchain_chain_latest_block"
	FamilyChainFinalizedBlock     = "blockchain_chain_finalized_block"
	FamilyChainFinalizedStale     = "blockchain_chain_finalized_stale"
	FamilyChainHeadTimestamp      = "blockchain_chain_head_block_timestamp_seconds"
	FamilyChainTimeSinceBlock     = "blockchain_chain_time_since_last_block_seconds"
	FamilyChainAccountsCount      = "blockchain_chain_configured_accounts_count"
	FamilyChainContractsCount     = "blockchain_chain_configured_contracts_count"
	FamilyPollSuccess             = "blockchain_poll_success"
	FamilyPollTimestamp           = "blockchain_poll_timestamp_seconds"
	FamilyPollConsecutiveFailures = "blockchain_poll_consecutive_failures"
	FamilyAccountBalanceWei       = "blockchain_account_balance_wei"
	FamilyAccountBalanceEth       = "blockchain_account_balance_eth"
	FamilyAccountTokenBalance     = "blockchain_account_token_balance"
	FamilyAccountTokenBalanceRaw  = "blockchain_account_token_balance_raw"
	FamilyAccountTokenOwned       = "blockchain_account_token_owned"
	FamilyContractBalanceWei      = "blockchain_contract_balance_wei"
	FamilyContractBalanceEth      = "blockchain_contract_balance_eth"
	FamilyContractSupplyRaw       = "blockchain_contract_token_supply_raw"
	FamilyContractSupplyNorm      = "blockchain_contract_token_supply_normalized"
	FamilyContractNFTSupply       = "blockchain_contract_nft_total_supply"
	FamilyContractTransferCount   = "blockchain_contract_transfer_count_window"
)

type ExporterMetrics struct {
	Up                    prometheus.Gauge
	ConfiguredBlockchains prometheus.Gauge
	PollerCount           prometheus.Gauge
}

type ChainMetrics struct {
	LatestBlock         *prometheus.GaugeVec
	FinalizedBlock      *prometheus.GaugeVec
	FinalizedStale      *prometheus.GaugeVec
	HeadTimestamp       *prometheus.GaugeVec
	TimeSinceBlock      *prometheus.GaugeVec
	AccountsCount       *prometheus.GaugeVec
	ContractsCount      *prometheus.GaugeVec
	PollSuccess         *prometheus.GaugeVec
	PollTimestamp       *prometheus.GaugeVec
	ConsecutiveFailures *prometheus.GaugeVec
	PollDuration        *prometheus.HistogramVec
	BackoffDuration     *prometheus.HistogramVec
	RPCCallDuration     *prometheus.HistogramVec
	RPCCallErrors       *prometheus.CounterVec
	LogChunksCreated    *prometheus.CounterVec
	LogChunkBlocks      *prometheus.HistogramVec
	LogChunkDuration    *prometheus.HistogramVec
}

type AccountMetrics struct {
	BalanceWei      *prometheus.GaugeVec
	BalanceEth      *prometheus.GaugeVec
	TokenBalance    *prometheus.GaugeVec
	TokenBalanceRaw *prometheus.GaugeVec
	TokenOwned      *prometheus.GaugeVec
}

type ContractMetrics struct {
	BalanceWei       *prometheus.GaugeVec
	BalanceEth       *prometheus.GaugeVec
	SupplyRaw        *prometheus.GaugeVec
	SupplyNormalized *prometheus.GaugeVec
	NFTTotalSupply   *prometheus.GaugeVec
	TransferCount    *prometheus.GaugeVec
}

// Metrics bundles every exporter family on a single registry so /metrics
// serialises one coherent payload.
type Metrics struct {
	Registry *prometheus.Registry
	Exporter ExporterMetrics
	Chain    ChainMetrics
	Account  AccountMetrics
	Contract ContractMetrics

	gaugeFamilies map[string]*prometheus.GaugeVec
}

// New creates a metrics bundle on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates a metrics bundle registered against the given
// registry. Tests pass their own registry to isolate state.
func NewWithRegistry(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	chainLabels := []string{"chain", "chain_id"}
	accountLabels := []string{"chain", "chain_id", "name", "address", "is_contract"}
	tokenLabels := []string{"chain", "chain_id", "token_name", "token_address", "name", "address"}
	contractLabels := []string{"chain", "chain_id", "name", "address"}

	m := &Metrics{
		Registry: registry,
		Exporter: ExporterMetrics{
			Up: factory.NewGauge(prometheus.GaugeOpts{
				Name: "blockchain_exporter_up",
				Help: "Indicates whether the exporter is available (1 for up, 0 for down).",
			}),
			ConfiguredBlockchains: factory.NewGauge(prometheus.GaugeOpts{
				Name: "blockchain_exporter_configured_blockchains",
				Help: "Number of blockchains currently configured in the exporter.",
			}),
			PollerCount: factory.NewGauge(prometheus.GaugeOpts{
				Name: "blockchain_exporter_poller_count",
				Help: "Number of active polling loops currently running.",
			}),
		},
		Chain: ChainMetrics{
			LatestBlock: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyChainLatestBlock,
				Help: "Latest block number reported by the blockchain RPC endpoint.",
			}, chainLabels),
			FinalizedBlock: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyChainFinalizedBlock,
				Help: "Finalized block number reported by the blockchain RPC endpoint.",
			}, chainLabels),
			FinalizedStale: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyChainFinalizedStale,
				Help: "Set to 1 when the endpoint did not return a finalized block this cycle.",
			}, chainLabels),
			HeadTimestamp: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyChainHeadTimestamp,
				Help: "Unix timestamp of the latest block reported by the blockchain RPC endpoint.",
			}, chainLabels),
			TimeSinceBlock: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyChainTimeSinceBlock,
				Help: "Time elapsed in seconds since the latest block was produced.",
			}, chainLabels),
			AccountsCount: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyChainAccountsCount,
				Help: "Total number of configured accounts (including contract accounts) per blockchain.",
			}, chainLabels),
			ContractsCount: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyChainContractsCount,
				Help: "Total number of configured contracts per blockchain.",
			}, chainLabels),
			PollSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyPollSuccess,
				Help: "Indicates whether the most recent polling cycle succeeded (1) or failed (0).",
			}, chainLabels),
			PollTimestamp: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyPollTimestamp,
				Help: "Unix timestamp of the most recent successful polling cycle.",
			}, chainLabels),
			ConsecutiveFailures: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyPollConsecutiveFailures,
				Help: "Number of consecutive polling failures for a blockchain.",
			}, chainLabels),
			PollDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "blockchain_poll_duration_seconds",
				Help:    "Duration of polling cycles in seconds per blockchain.",
				Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0},
			}, []string{"chain"}),
			BackoffDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "blockchain_poll_backoff_duration_seconds",
				Help:    "Duration of backoff delays in seconds after polling failures.",
				Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0, 600.0, 900.0},
			}, []string{"chain"}),
			RPCCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "blockchain_rpc_call_duration_seconds",
				Help:    "Duration of RPC calls in seconds per blockchain and operation.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			}, []string{"chain", "operation"}),
			RPCCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "blockchain_rpc_call_errors_total",
				Help: "Total number of RPC errors per blockchain, operation, and category.",
			}, []string{"chain", "operation", "category"}),
			LogChunksCreated: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "blockchain_log_chunks_created_total",
				Help: "Total number of log chunks created for large log queries.",
			}, []string{"chain", "contract_address"}),
			LogChunkBlocks: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "blockchain_log_blocks_queried_per_chunk",
				Help:    "Number of blocks queried per log chunk.",
				Buckets: []float64{10, 50, 100, 250, 500, 1000, 2000, 5000, 10000},
			}, []string{"chain", "contract_address"}),
			LogChunkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "blockchain_log_chunk_duration_seconds",
				Help:    "Duration of individual log chunk queries in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			}, []string{"chain", "contract_address"}),
		},
		Account: AccountMetrics{
			BalanceWei: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyAccountBalanceWei,
				Help: "Current account balance expressed in Wei for configured blockchain accounts.",
			}, accountLabels),
			BalanceEth: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyAccountBalanceEth,
				Help: "Current account balance expressed in Ether for configured blockchain accounts.",
			}, accountLabels),
			TokenBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyAccountTokenBalance,
				Help: "Current token balance normalized by token decimals for configured accounts.",
			}, tokenLabels),
			TokenBalanceRaw: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyAccountTokenBalanceRaw,
				Help: "Current token balance in raw units for configured accounts.",
			}, tokenLabels),
			TokenOwned: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyAccountTokenOwned,
				Help: "Set to 1 when the account owns the configured ERC-721 token id.",
			}, append(append([]string{}, tokenLabels...), "token_id")),
		},
		Contract: ContractMetrics{
			BalanceWei: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyContractBalanceWei,
				Help: "Current contract balance expressed in Wei for configured blockchain contracts.",
			}, contractLabels),
			BalanceEth: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyContractBalanceEth,
				Help: "Current contract balance expressed in Ether for configured blockchain contracts.",
			}, contractLabels),
			SupplyRaw: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyContractSupplyRaw,
				Help: "Total token supply in raw units for ERC-20 contracts.",
			}, contractLabels),
			SupplyNormalized: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyContractSupplyNorm,
				Help: "Total token supply normalized by token decimals for ERC-20 contracts.",
			}, contractLabels),
			NFTTotalSupply: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyContractNFTSupply,
				Help: "Total supply reported by ERC-721 contracts that expose totalSupply.",
			}, contractLabels),
			TransferCount: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: FamilyContractTransferCount,
				Help: "Number of token Transfer events observed within the configured block window.",
			}, append(append([]string{}, contractLabels...), "window_blocks")),
		},
	}

	m.gaugeFamilies = map[string]*prometheus.GaugeVec{
		FamilyChainLatestBlock:        m.Chain.LatestBlock,
		FamilyChainFinalizedBlock:     m.Chain.FinalizedBlock,
		FamilyChainFinalizedStale:     m.Chain.FinalizedStale,
		FamilyChainHeadTimestamp:      m.Chain.HeadTimestamp,
		FamilyChainTimeSinceBlock:     m.Chain.TimeSinceBlock,
		FamilyChainAccountsCount:      m.Chain.AccountsCount,
		FamilyChainContractsCount:     m.Chain.ContractsCount,
		FamilyPollSuccess:             m.Chain.PollSuccess,
		FamilyPollTimestamp:           m.Chain.PollTimestamp,
		FamilyPollConsecutiveFailures: m.Chain.ConsecutiveFailures,
		FamilyAccountBalanceWei:       m.Account.BalanceWei,
		FamilyAccountBalanceEth:       m.Account.BalanceEth,
		FamilyAccountTokenBalance:     m.Account.TokenBalance,
		FamilyAccountTokenBalanceRaw:  m.Account.TokenBalanceRaw,
		FamilyAccountTokenOwned:       m.Account.TokenOwned,
		FamilyContractBalanceWei:      m.Contract.BalanceWei,
		FamilyContractBalanceEth:      m.Contract.BalanceEth,
		FamilyContractSupplyRaw:       m.Contract.SupplyRaw,
		FamilyContractSupplyNorm:      m.Contract.SupplyNormalized,
		FamilyContractNFTSupply:       m.Contract.NFTTotalSupply,
		FamilyContractTransferCount:   m.Contract.TransferCount,
	}

	return m
}

// SetGauge writes a gauge value and records the labelset in the chain's
// label cache so the series can be pruned later.
func (m *Metrics) SetGauge(cache *LabelCache, family string, labels prometheus.Labels, value float64) {
	vec, ok := m.gaugeFamilies[family]
	if !ok {
		return
	}
	vec.With(labels).Set(value)
	if cache != nil {
		cache.Remember(family, labels)
	}
}

// DeleteSeries removes one series from a gauge family.
func (m *Metrics) DeleteSeries(family string, labels prometheus.Labels) {
	vec, ok := m.gaugeFamilies[family]
	if !ok {
		return
	}
	vec.Delete(labels)
}

// PruneCache deletes every series recorded in the cache. Histograms and
// counters accumulate across chain identities and are not pruned.
func (m *Metrics) PruneCache(cache *LabelCache) {
	for family, sets := range cache.Snapshot() {
		for _, labels := range sets {
			m.DeleteSeries(family, labels)
		}
	}
}

// PruneMissing deletes series present in old but absent from current. The
// reload path uses this to drop series a narrower spec no longer produces
// without breaking continuous ones.
func (m *Metrics) PruneMissing(old, current *LabelCache) {
	for family, sets := range old.Missing(current) {
		for _, labels := range sets {
			m.DeleteSeries(family, labels)
		}
	}
}

// PruneChainInstruments removes histogram and counter series keyed by a
// chain's name. Called only when the chain itself is removed: unlike gauges,
// these accumulate across chain-id changes and survive replace-in-place.
func (m *Metrics) PruneChainInstruments(chain string) {
	match := prometheus.Labels{"chain": chain}
	m.Chain.PollDuration.DeletePartialMatch(match)
	m.Chain.BackoffDuration.DeletePartialMatch(match)
	m.Chain.RPCCallDuration.DeletePartialMatch(match)
	m.Chain.RPCCallErrors.DeletePartialMatch(match)
	m.Chain.LogChunksCreated.DeletePartialMatch(match)
	m.Chain.LogChunkBlocks.DeletePartialMatch(match)
	m.Chain.LogChunkDuration.DeletePartialMatch(match)
}

// ObserveRPCDuration implements the RPC client observer.
func (m *Metrics) ObserveRPCDuration(chain, operation string, seconds float64) {
	m.Chain.RPCCallDuration.WithLabelValues(chain, operation).Observe(seconds)
}

// CountRPCError implements the RPC client observer.
func (m *Metrics) CountRPCError(chain, operation, category string) {
	m.Chain.RPCCallErrors.WithLabelValues(chain, operation, category).Inc()
}
