package rpcclient

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TokenKind is the runtime classification of a configured contract.
type TokenKind int

const (
	KindUnknown TokenKind = iota // deployed code, but no recognised token interface
	KindERC20
	KindERC721
	KindNotContract // no code at the address
)

func (k TokenKind) String() string {
	switch k {
	case KindERC20:
		return "erc20"
	case KindERC721:
		return "erc721"
	case KindNotContract:
		return "not_contract"
	default:
		return "unknown"
	}
}

// Function selectors probed during classification and used by the collector.
var (
	SelectorDecimals          = []byte{0x31, 0x3c, 0xe5, 0x67} // decimals()
	SelectorTotalSupply       = []byte{0x18, 0x16, 0x0d, 0xdd} // totalSupply()
	SelectorBalanceOf         = []byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)
	SelectorOwnerOf           = []byte{0x63, 0x52, 0x21, 0x1e} // ownerOf(uint256)
	SelectorSupportsInterface = []byte{0x01, 0xff, 0xc9, 0xa7} // supportsInterface(bytes4)
)

// erc721InterfaceID is the ERC-165 identifier for the ERC-721 interface.
var erc721InterfaceID = [4]byte{0x80, 0xac, 0x58, 0xcd}

// Classifier probes contract bytecode and standard selectors to decide token
// kind. Classifications are cached for the process lifetime per
// (chain, address): bytecode is immutable short of a self-destruct.
type Classifier struct {
	mu    sync.Mutex
	cache map[string]TokenKind
}

func NewClassifier() *Classifier {
	return &Classifier{cache: make(map[string]TokenKind)}
}

// Classify returns the token kind of the contract, probing the chain on the
// first call and serving from cache afterwards.
func (cl *Classifier) Classify(ctx context.Context, client *Client, address common.Address) (TokenKind, error) {
	key := client.ChainName() + "|" + address.Hex()

	cl.mu.Lock()
	if kind, ok := cl.cache[key]; ok {
		cl.mu.Unlock()
		return kind, nil
	}
	cl.mu.Unlock()

	kind, err := cl.probe(ctx, client, address)
	if err != nil {
		return KindUnknown, err
	}

	cl.mu.Lock()
	cl.cache[key] = kind
	cl.mu.Unlock()

	return kind, nil
}

func (cl *Classifier) probe(ctx context.Context, client *Client, address common.Address) (TokenKind, error) {
	code, err := client.Code(ctx, address)
	if err != nil {
		return KindUnknown, fmt.Errorf("failed to fetch bytecode: %w", err)
	}
	if len(code) == 0 {
		return KindNotContract, nil
	}

	// ERC-721 first: NFT contracts often expose totalSupply too, so the
	// ERC-165 answer is the more specific signal.
	if supports, err := cl.supportsERC721(ctx, client, address); err == nil && supports {
		return KindERC721, nil
	}

	if raw, err := client.Call(ctx, address, PackCall(SelectorDecimals)); err == nil {
		if _, decodeErr := DecodeUint256(raw); decodeErr == nil {
			return KindERC20, nil
		}
	}

	// A contract answering ownerOf without ERC-165 support still walks like
	// an NFT collection.
	if _, err := client.Call(ctx, address, PackCallUint256(SelectorOwnerOf, big.NewInt(1))); err == nil {
		return KindERC721, nil
	}

	// Non-standard ERC-20s sometimes omit decimals; a readable totalSupply
	// is enough, with decimals falling back downstream.
	if raw, err := client.Call(ctx, address, PackCall(SelectorTotalSupply)); err == nil {
		if _, decodeErr := DecodeUint256(raw); decodeErr == nil {
			return KindERC20, nil
		}
	}

	return KindUnknown, nil
}

func (cl *Classifier) supportsERC721(ctx context.Context, client *Client, address common.Address) (bool, error) {
	arg := make([]byte, 32)
	copy(arg, erc721InterfaceID[:])

	raw, err := client.Call(ctx, address, append(append([]byte{}, SelectorSupportsInterface...), arg...))
	if err != nil {
		return false, err
	}

	value, err := DecodeUint256(raw)
	if err != nil {
		return false, err
	}
	return value.Sign() != 0, nil
}

// Forget drops cached classifications for a chain. Called when a chain's
// identity changes, since the same address may host different code there.
func (cl *Classifier) Forget(chain string) {
	prefix := chain + "|"

	cl.mu.Lock()
	defer cl.mu.Unlock()
	for key := range cl.cache {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(cl.cache, key)
		}
	}
}

// PackCall builds calldata for a zero-argument call.
func PackCall(selector []byte) []byte {
	return append([]byte{}, selector...)
}

// PackCallAddress builds calldata for a single-address-argument call.
func PackCallAddress(selector []byte, address common.Address) []byte {
	data := make([]byte, 0, 36)
	data = append(data, selector...)
	data = append(data, common.LeftPadBytes(address.Bytes(), 32)...)
	return data
}

// PackCallUint256 builds calldata for a single-uint256-argument call.
func PackCallUint256(selector []byte, value *big.Int) []byte {
	data := make([]byte, 0, 36)
	data = append(data, selector...)
	data = append(data, common.LeftPadBytes(value.Bytes(), 32)...)
	return data
}

// DecodeUint256 decodes a single ABI-encoded uint256 return value.
func DecodeUint256(raw []byte) (*big.Int, error) {
	if len(raw) < 32 {
		return nil, NewValueError("decode_uint256", fmt.Errorf("short return data: %d bytes", len(raw)))
	}
	return new(big.Int).SetBytes(raw[:32]), nil
}

// DecodeAddress decodes a single ABI-encoded address return value.
func DecodeAddress(raw []byte) (common.Address, error) {
	if len(raw) < 32 {
		return common.Address{}, NewValueError("decode_address", fmt.Errorf("short return data: %d bytes", len(raw)))
	}
	return common.BytesToAddress(raw[12:32]), nil
}
