package chains

import (
	"fmt"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/mr-tron/base58"
	"github.com/sigweihq/agentpay/pkg/constants"
	"gopkg.in/yaml.v3"
)

// Registry answers network parameter lookups for the supported chains.
// It is built once and never mutated, so lookups need no locking.
type Registry struct {
	descriptors map[ChainID]ChainDescriptor
}

// ChainOverride holds the per-chain settings operators may override
type ChainOverride struct {
	RPCURL          string   `yaml:"rpcUrl" mapstructure:"rpc_url"`
	FallbackRPCURLs []string `yaml:"fallbackRpcUrls" mapstructure:"fallback_rpc_urls"`
	ExplorerURL     string   `yaml:"explorerUrl" mapstructure:"explorer_url"`
	ContractAddress string   `yaml:"contractAddress" mapstructure:"contract_address"`
	FeeCollector    string   `yaml:"feeCollector" mapstructure:"fee_collector"`
}

type overrideFile struct {
	Chains map[string]ChainOverride `yaml:"chains"`
}

var validate = validator.New()

// NewRegistry builds a registry from the given descriptors after validating each one
func NewRegistry(descriptors ...ChainDescriptor) (*Registry, error) {
	r := &Registry{descriptors: make(map[ChainID]ChainDescriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := ValidateDescriptor(d); err != nil {
			return nil, err
		}
		if _, dup := r.descriptors[d.ID]; dup {
			return nil, fmt.Errorf("duplicate descriptor for chain %s", d.ID)
		}
		r.descriptors[d.ID] = cloneDescriptor(d)
	}
	return r, nil
}

// DefaultDescriptors returns the built-in descriptors for all supported chains.
// Contract and fee collector addresses are left empty for configuration to fill.
func DefaultDescriptors() []ChainDescriptor {
	out := make([]ChainDescriptor, 0, len(AllChains))
	for _, id := range AllChains {
		key := string(id)
		endpoints := constants.OfficialRPCEndpoints[key]

		d := ChainDescriptor{
			ID:        id,
			Name:      constants.ChainNames[key],
			NetworkID: constants.ChainToNetworkID[key],
			Currency: NativeCurrency{
				Name:     constants.NativeNames[key],
				Symbol:   constants.NativeSymbols[key],
				Decimals: constants.NativeDecimals[key],
			},
			RPCURL:      endpoints[0],
			ExplorerURL: constants.ExplorerURLs[key],
		}
		if len(endpoints) > 1 {
			d.FallbackRPCURLs = append([]string(nil), endpoints[1:]...)
		}
		out = append(out, d)
	}
	return out
}

// DefaultRegistry returns a registry populated with the built-in descriptors
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultDescriptors()...)
	if err != nil {
		panic(fmt.Sprintf("built-in chain descriptors are invalid: %v", err))
	}
	return r
}

// NewRegistryWithOverrides applies operator overrides on top of the built-in descriptors
func NewRegistryWithOverrides(overrides map[string]ChainOverride) (*Registry, error) {
	descriptors := DefaultDescriptors()
	for name, o := range overrides {
		id, err := ParseChainID(name)
		if err != nil {
			return nil, err
		}
		for i := range descriptors {
			if descriptors[i].ID == id {
				applyOverride(&descriptors[i], o)
			}
		}
	}
	return NewRegistry(descriptors...)
}

// LoadRegistry reads a YAML override file and builds the resulting registry
func LoadRegistry(path string) (*Registry, error) {
	overrides, err := LoadOverrides(path)
	if err != nil {
		return nil, err
	}
	return NewRegistryWithOverrides(overrides)
}

// LoadOverrides reads the per-chain overrides of a YAML file shaped as {chains: {<id>: {...}}}
func LoadOverrides(path string) (map[string]ChainOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain overrides: %w", err)
	}

	var file overrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse chain overrides: %w", err)
	}
	return file.Chains, nil
}

func applyOverride(d *ChainDescriptor, o ChainOverride) {
	if o.RPCURL != "" {
		d.RPCURL = o.RPCURL
		d.FallbackRPCURLs = nil
	}
	if len(o.FallbackRPCURLs) > 0 {
		d.FallbackRPCURLs = append([]string(nil), o.FallbackRPCURLs...)
	}
	if o.ExplorerURL != "" {
		d.ExplorerURL = o.ExplorerURL
	}
	if o.ContractAddress != "" {
		d.ContractAddress = o.ContractAddress
	}
	if o.FeeCollector != "" {
		d.FeeCollector = o.FeeCollector
	}
}

// ValidateDescriptor checks field constraints and the address format of the chain family
func ValidateDescriptor(d ChainDescriptor) error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid descriptor for chain %q: %w", d.ID, err)
	}
	if d.Family() == FamilyEVM && d.NetworkID == 0 {
		return fmt.Errorf("invalid descriptor for chain %q: EVM chains require a network id", d.ID)
	}
	for field, addr := range map[string]string{"contractAddress": d.ContractAddress, "feeCollector": d.FeeCollector} {
		if addr == "" {
			continue
		}
		if !validAddress(d.Family(), addr) {
			return fmt.Errorf("invalid descriptor for chain %q: %s %q is not a valid %s address", d.ID, field, addr, d.Family())
		}
	}
	return nil
}

func validAddress(family Family, addr string) bool {
	switch family {
	case FamilyEVM:
		return common.IsHexAddress(addr)
	case FamilySolana:
		raw, err := base58.Decode(addr)
		return err == nil && len(raw) == 32
	case FamilyTron:
		raw, err := base58.Decode(addr)
		return err == nil && len(raw) == 25 && raw[0] == 0x41
	default:
		return false
	}
}

// Get returns a copy of the descriptor for the chain
func (r *Registry) Get(id ChainID) (ChainDescriptor, error) {
	d, ok := r.descriptors[id]
	if !ok {
		return ChainDescriptor{}, fmt.Errorf("%w: %s", ErrUnsupportedChain, id)
	}
	return cloneDescriptor(d), nil
}

// IsSupported checks if a chain is present in the registry
func (r *Registry) IsSupported(id ChainID) bool {
	_, ok := r.descriptors[id]
	return ok
}

// Chains returns the registered chain identifiers in a stable order
func (r *Registry) Chains() []ChainID {
	ids := make([]ChainID, 0, len(r.descriptors))
	for id := range r.descriptors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return chainOrder(ids[i]) < chainOrder(ids[j]) })
	return ids
}

// ContractAddress returns the marketplace contract for the chain or ErrContractNotDeployed
func (r *Registry) ContractAddress(id ChainID) (string, error) {
	d, err := r.Get(id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrContractNotDeployed, err)
	}
	if !d.HasContract() {
		return "", fmt.Errorf("%w: %s", ErrContractNotDeployed, id)
	}
	return d.ContractAddress, nil
}

func chainOrder(id ChainID) int {
	for i, c := range AllChains {
		if c == id {
			return i
		}
	}
	return len(AllChains)
}

func cloneDescriptor(d ChainDescriptor) ChainDescriptor {
	if d.FallbackRPCURLs != nil {
		d.FallbackRPCURLs = append([]string(nil), d.FallbackRPCURLs...)
	}
	return d
}
