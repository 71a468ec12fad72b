package rpcclient

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uint256Word(value int64) []byte {
	return common.LeftPadBytes(big.NewInt(value).Bytes(), 32)
}

// erc20Backend answers decimals() and totalSupply(), rejects everything else.
func erc20Backend() *fakeBackend {
	return &fakeBackend{
		codeFn: func(common.Address) ([]byte, error) { return []byte{0x60, 0x80}, nil },
		callFn: func(msg ethereum.CallMsg) ([]byte, error) {
			switch {
			case bytes.HasPrefix(msg.Data, SelectorDecimals):
				return uint256Word(6), nil
			case bytes.HasPrefix(msg.Data, SelectorTotalSupply):
				return uint256Word(1000), nil
			default:
				return nil, &jsonRPCError{code: 3, msg: "execution reverted"}
			}
		},
	}
}

func erc721Backend() *fakeBackend {
	return &fakeBackend{
		codeFn: func(common.Address) ([]byte, error) { return []byte{0x60, 0x80}, nil },
		callFn: func(msg ethereum.CallMsg) ([]byte, error) {
			if bytes.HasPrefix(msg.Data, SelectorSupportsInterface) {
				return uint256Word(1), nil
			}
			return nil, &jsonRPCError{code: 3, msg: "execution reverted"}
		},
	}
}

func TestClassifyERC20(t *testing.T) {
	client := newTestClient(erc20Backend(), newFakeObserver())
	classifier := NewClassifier()

	kind, err := classifier.Classify(context.Background(), client, common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Equal(t, KindERC20, kind)
}

func TestClassifyERC721(t *testing.T) {
	client := newTestClient(erc721Backend(), newFakeObserver())
	classifier := NewClassifier()

	kind, err := classifier.Classify(context.Background(), client, common.HexToAddress("0x02"))
	require.NoError(t, err)
	assert.Equal(t, KindERC721, kind)
}

func TestClassifyNotContract(t *testing.T) {
	backend := &fakeBackend{codeFn: func(common.Address) ([]byte, error) { return nil, nil }}
	client := newTestClient(backend, newFakeObserver())
	classifier := NewClassifier()

	kind, err := classifier.Classify(context.Background(), client, common.HexToAddress("0x03"))
	require.NoError(t, err)
	assert.Equal(t, KindNotContract, kind)
}

func TestClassifyUnknownContract(t *testing.T) {
	backend := &fakeBackend{
		codeFn: func(common.Address) ([]byte, error) { return []byte{0x60}, nil },
		callFn: func(ethereum.CallMsg) ([]byte, error) {
			return nil, &jsonRPCError{code: 3, msg: "execution reverted"}
		},
	}
	client := newTestClient(backend, newFakeObserver())
	classifier := NewClassifier()

	kind, err := classifier.Classify(context.Background(), client, common.HexToAddress("0x04"))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, kind)
}

func TestClassifyCachesPerProcess(t *testing.T) {
	probes := 0
	backend := erc20Backend()
	codeFn := backend.codeFn
	backend.codeFn = func(a common.Address) ([]byte, error) {
		probes++
		return codeFn(a)
	}
	client := newTestClient(backend, newFakeObserver())
	classifier := NewClassifier()

	address := common.HexToAddress("0x05")
	for i := 0; i < 3; i++ {
		kind, err := classifier.Classify(context.Background(), client, address)
		require.NoError(t, err)
		assert.Equal(t, KindERC20, kind)
	}
	assert.Equal(t, 1, probes)
}

func TestClassifierForget(t *testing.T) {
	client := newTestClient(erc20Backend(), newFakeObserver())
	classifier := NewClassifier()
	address := common.HexToAddress("0x06")

	_, err := classifier.Classify(context.Background(), client, address)
	require.NoError(t, err)
	assert.Len(t, classifier.cache, 1)

	classifier.Forget("testchain")
	assert.Empty(t, classifier.cache)
}

func TestPackCallAddress(t *testing.T) {
	address := common.HexToAddress("0x3333333333333333333333333333333333333333")
	data := PackCallAddress(SelectorBalanceOf, address)

	require.Len(t, data, 36)
	assert.Equal(t, SelectorBalanceOf, data[:4])
	assert.Equal(t, common.LeftPadBytes(address.Bytes(), 32), data[4:])
}

func TestDecodeUint256(t *testing.T) {
	value, err := DecodeUint256(uint256Word(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), value.Int64())

	_, err = DecodeUint256([]byte{0x01})
	require.Error(t, err)
	assert.Equal(t, CategoryValue, ErrorCategory(err))
}

func TestDecodeAddress(t *testing.T) {
	want := common.HexToAddress("0x4444444444444444444444444444444444444444")
	got, err := DecodeAddress(common.LeftPadBytes(want.Bytes(), 32))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
