package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ChainSpec describes one blockchain to poll. Specs are immutable once
// loaded; a reload produces a fresh slice.
type ChainSpec struct {
	Name                   string         `toml:"name"`
	RPCURL                 string         `toml:"rpc_url"`
	PollInterval           string         `toml:"poll_interval"`
	TransferLookbackBlocks uint64         `toml:"transfer_lookback_blocks"`
	Enabled                *bool          `toml:"enabled"`
	Accounts               []AccountSpec  `toml:"accounts"`
	Contracts              []ContractSpec `toml:"contracts"`
}

type AccountSpec struct {
	Name    string `toml:"name"`
	Address string `toml:"address"`
	Enabled *bool  `toml:"enabled"`
}

type ContractSpec struct {
	Name                   string                `toml:"name"`
	Address                string                `toml:"address"`
	Decimals               *int                  `toml:"decimals"`
	TransferLookbackBlocks *uint64               `toml:"transfer_lookback_blocks"`
	Enabled                *bool                 `toml:"enabled"`
	Accounts               []ContractAccountSpec `toml:"accounts"`
}

type ContractAccountSpec struct {
	Name     string   `toml:"name"`
	Address  string   `toml:"address"`
	TokenIDs []uint64 `toml:"token_ids"`
	Enabled  *bool    `toml:"enabled"`
}

type chainFile struct {
	Blockchains []ChainSpec `toml:"blockchains"`
}

// Interval resolves the effective poll interval for the chain.
func (c *ChainSpec) Interval(fallback time.Duration) time.Duration {
	if c.PollInterval == "" {
		return fallback
	}
	d, err := ParseInterval(c.PollInterval)
	if err != nil {
		return fallback
	}
	return d
}

// LookbackFor resolves the transfer lookback window for a contract. The
// contract-level override wins; zero disables the window.
func (c *ChainSpec) LookbackFor(contract *ContractSpec) uint64 {
	if contract.TransferLookbackBlocks != nil {
		return *contract.TransferLookbackBlocks
	}
	return c.TransferLookbackBlocks
}

// Identity returns the identity-bearing portion of the spec. Two specs with
// equal identity describe the same chain; a changed identity is handled as
// remove-then-add on reload.
func (c *ChainSpec) Identity() string {
	return c.Name + "|" + c.RPCURL
}

func enabled(flag *bool) bool {
	return flag == nil || *flag
}

// LoadChains reads, expands, parses, and validates the chain inventory file.
// ${VAR} placeholders are expanded from the process environment before TOML
// parsing; an unexpanded placeholder is a fatal error. Unknown keys are
// rejected by name.
func LoadChains(path string) ([]ChainSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded, err := expandEnvStrict(string(raw))
	if err != nil {
		return nil, err
	}

	var file chainFile
	md, err := toml.Decode(expanded, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
	}

	return validateChains(file.Blockchains)
}

var envPlaceholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvStrict(raw string) (string, error) {
	var missing []string

	expanded := envPlaceholderPattern.ReplaceAllStringFunc(raw, func(match string) string {
		name := match[2 : len(match)-1]
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("unexpanded environment placeholders in config: %s", strings.Join(missing, ", "))
	}

	return expanded, nil
}

func validateChains(specs []ChainSpec) ([]ChainSpec, error) {
	seenNames := make(map[string]bool)
	chains := make([]ChainSpec, 0, len(specs))

	for i, spec := range specs {
		location := fmt.Sprintf("blockchains[%d]", i+1)

		if !enabled(spec.Enabled) {
			continue
		}

		if strings.TrimSpace(spec.Name) == "" {
			return nil, fmt.Errorf("%s.name must be a non-empty string", location)
		}
		spec.Name = strings.TrimSpace(spec.Name)

		normalized := strings.ToLower(spec.Name)
		if seenNames[normalized] {
			return nil, fmt.Errorf("duplicate blockchain name %q", spec.Name)
		}
		seenNames[normalized] = true

		if strings.TrimSpace(spec.RPCURL) == "" {
			return nil, fmt.Errorf("%s.rpc_url must be a non-empty string", location)
		}
		spec.RPCURL = strings.TrimSpace(spec.RPCURL)

		if spec.PollInterval != "" {
			if _, err := ParseInterval(spec.PollInterval); err != nil {
				return nil, fmt.Errorf("%s.poll_interval: %w", location, err)
			}
		}

		accounts, err := validateAccounts(spec.Accounts, location)
		if err != nil {
			return nil, err
		}
		spec.Accounts = accounts

		contracts, err := validateContracts(spec.Contracts, location)
		if err != nil {
			return nil, err
		}
		spec.Contracts = contracts

		chains = append(chains, spec)
	}

	return chains, nil
}

func validateAccounts(specs []AccountSpec, parent string) ([]AccountSpec, error) {
	seen := make(map[string]bool)
	accounts := make([]AccountSpec, 0, len(specs))

	for i, account := range specs {
		location := fmt.Sprintf("%s.accounts[%d]", parent, i+1)

		if !enabled(account.Enabled) {
			continue
		}

		if strings.TrimSpace(account.Name) == "" {
			return nil, fmt.Errorf("%s.name must be a non-empty string", location)
		}
		account.Name = strings.TrimSpace(account.Name)

		address, err := validateAddress(account.Address, location+".address")
		if err != nil {
			return nil, err
		}
		account.Address = address

		if seen[address] {
			return nil, fmt.Errorf("duplicate account address %q in %s", address, parent)
		}
		seen[address] = true

		accounts = append(accounts, account)
	}

	return accounts, nil
}

func validateContracts(specs []ContractSpec, parent string) ([]ContractSpec, error) {
	seen := make(map[string]bool)
	contracts := make([]ContractSpec, 0, len(specs))

	for i, contract := range specs {
		location := fmt.Sprintf("%s.contracts[%d]", parent, i+1)

		if !enabled(contract.Enabled) {
			continue
		}

		if strings.TrimSpace(contract.Name) == "" {
			return nil, fmt.Errorf("%s.name must be a non-empty string", location)
		}
		contract.Name = strings.TrimSpace(contract.Name)

		address, err := validateAddress(contract.Address, location+".address")
		if err != nil {
			return nil, err
		}
		contract.Address = address

		if seen[address] {
			return nil, fmt.Errorf("duplicate contract address %q in %s", address, parent)
		}
		seen[address] = true

		if contract.Decimals != nil && *contract.Decimals < 0 {
			return nil, fmt.Errorf("%s.decimals must be >= 0", location)
		}

		accounts, err := validateContractAccounts(contract.Accounts, location)
		if err != nil {
			return nil, err
		}
		contract.Accounts = accounts

		contracts = append(contracts, contract)
	}

	return contracts, nil
}

func validateContractAccounts(specs []ContractAccountSpec, parent string) ([]ContractAccountSpec, error) {
	seen := make(map[string]bool)
	accounts := make([]ContractAccountSpec, 0, len(specs))

	for i, account := range specs {
		location := fmt.Sprintf("%s.accounts[%d]", parent, i+1)

		if !enabled(account.Enabled) {
			continue
		}

		if strings.TrimSpace(account.Name) == "" {
			return nil, fmt.Errorf("%s.name must be a non-empty string", location)
		}
		account.Name = strings.TrimSpace(account.Name)

		address, err := validateAddress(account.Address, location+".address")
		if err != nil {
			return nil, err
		}
		account.Address = address

		if seen[address] {
			return nil, fmt.Errorf("duplicate contract account address %q in %s", address, parent)
		}
		seen[address] = true

		accounts = append(accounts, account)
	}

	return accounts, nil
}

// Ethereum address format: 0x followed by 40 hex characters
var ethAddressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

func validateAddress(address, location string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(address))
	if !ethAddressPattern.MatchString(normalized) {
		return "", fmt.Errorf("%s must be a valid Ethereum address (0x followed by 40 hex characters)", location)
	}
	return normalized, nil
}

var intervalPattern = regexp.MustCompile(`^\s*(\d+)\s*([smhSMH]?)\s*$`)

// ParseInterval parses a duration string of the form N, Ns, Nm, or Nh.
// A bare integer is taken as seconds.
func ParseInterval(value string) (time.Duration, error) {
	match := intervalPattern.FindStringSubmatch(value)
	if match == nil {
		return 0, fmt.Errorf("invalid duration %q: expected number with optional s/m/h unit", value)
	}

	amount, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("invalid duration %q: amount must be a positive integer", value)
	}

	switch strings.ToLower(match[2]) {
	case "", "s":
		return time.Duration(amount) * time.Second, nil
	case "m":
		return time.Duration(amount) * time.Minute, nil
	case "h":
		return time.Duration(amount) * time.Hour, nil
	}

	return 0, fmt.Errorf("invalid duration unit in %q", value)
}
