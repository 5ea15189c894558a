// Package decode turns raw Ethereum logs into normalized swaps.
//
// Uniswap pools emit ERC-20 Transfer logs ahead of each Swap log; replaying
// Transfers through a two-slot cursor reconstructs the pool's token0/token1
// ordering without any pool registry. A swap is kept only when one cursor
// slot holds the reference asset.
package decode

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"eth-swap-ingester/internal/domain"
)

// Event signatures recognized by the decoder.
var (
	TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	V2SwapTopic   = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))
	V3SwapTopic   = crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))
)

// tokenDecimals is the fixed-point scale of swap amounts.
const tokenDecimals = 18

// Cursor tracks pool token ordering inferred from sequential Transfer logs.
type Cursor struct {
	Token0 common.Address
	Token1 common.Address
}

// shift records a Transfer log: token0 takes the previous token1 slot,
// token1 becomes the emitting contract.
func (c *Cursor) shift(addr common.Address) {
	c.Token0 = c.Token1
	c.Token1 = addr
}

// Decoder recognizes Transfer/V2-Swap/V3-Swap logs and produces normalized
// swaps denominated in the reference asset.
type Decoder struct {
	reference common.Address
	v2Data    abi.Arguments
	v3Data    abi.Arguments
}

// NewDecoder creates a decoder for the given reference asset.
func NewDecoder(reference common.Address) *Decoder {
	return &Decoder{
		reference: reference,
		v2Data: abi.Arguments{
			{Name: "amount0In", Type: mustType("uint256")},
			{Name: "amount1In", Type: mustType("uint256")},
			{Name: "amount0Out", Type: mustType("uint256")},
			{Name: "amount1Out", Type: mustType("uint256")},
		},
		v3Data: abi.Arguments{
			{Name: "amount0", Type: mustType("int256")},
			{Name: "amount1", Type: mustType("int256")},
			{Name: "sqrtPriceX96", Type: mustType("uint160")},
			{Name: "liquidity", Type: mustType("uint128")},
			{Name: "tick", Type: mustType("int24")},
		},
	}
}

// Decode processes one log against the running cursor. It returns (nil, nil)
// for logs that carry no relevant swap: Transfers (which only advance the
// cursor), unknown signatures, and swaps not touching the reference asset.
// The input log is never mutated.
func (d *Decoder) Decode(lg types.Log, cur *Cursor) (*domain.Swap, error) {
	if len(lg.Topics) == 0 {
		return nil, nil
	}

	var amount0, amount1 *big.Int

	switch lg.Topics[0] {
	case TransferTopic:
		cur.shift(lg.Address)
		return nil, nil

	case V3SwapTopic:
		vals, err := d.v3Data.Unpack(lg.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack v3 swap data: %w", err)
		}
		amount0 = vals[0].(*big.Int)
		amount1 = vals[1].(*big.Int)

	case V2SwapTopic:
		vals, err := d.v2Data.Unpack(lg.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack v2 swap data: %w", err)
		}
		amount0In := vals[0].(*big.Int)
		amount1In := vals[1].(*big.Int)
		amount0Out := vals[2].(*big.Int)
		amount1Out := vals[3].(*big.Int)

		if amount0In.Sign() == 0 || amount1Out.Sign() == 0 {
			amount0 = new(big.Int).Neg(amount0Out)
			amount1 = amount1In
		} else {
			amount0 = amount0In
			amount1 = amount1Out
		}

	default:
		return nil, nil
	}

	if cur.Token0 != d.reference && cur.Token1 != d.reference {
		return nil, nil
	}

	amount0Dec := decimal.NewFromBigInt(amount0, -tokenDecimals)
	amount1Dec := decimal.NewFromBigInt(amount1, -tokenDecimals)

	// The reference leg keeps its signed amount for slot selection; the
	// counter leg only contributes its address.
	refSigned := amount0Dec
	counter := cur.Token1
	if cur.Token1 == d.reference {
		refSigned = amount1Dec
		counter = cur.Token0
	}

	refLeg := domain.TokenLeg{
		Token:  addressPtr(d.reference),
		Amount: decimal.NullDecimal{Decimal: refSigned.Abs(), Valid: true},
	}
	counterLeg := domain.TokenLeg{Token: addressPtrOrNil(counter)}

	swap := &domain.Swap{
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
	}

	// Positive reference amount: the reference asset enters the pool and
	// takes the token0 slot; negative: it leaves the pool, token1 slot.
	if refSigned.Sign() >= 0 {
		swap.Token0 = refLeg
		swap.Token1 = counterLeg
	} else {
		swap.Token0 = counterLeg
		swap.Token1 = refLeg
	}

	return swap, nil
}

// addressPtr returns the lowercase hex form of addr.
func addressPtr(addr common.Address) *string {
	s := strings.ToLower(addr.Hex())
	return &s
}

// addressPtrOrNil maps the zero address (cursor slot never filled) to nil.
func addressPtrOrNil(addr common.Address) *string {
	if addr == (common.Address{}) {
		return nil
	}
	return addressPtr(addr)
}

// mustType builds an ABI type or panics; signatures here are constants.
func mustType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}
