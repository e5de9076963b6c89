package feed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const erc4626ABIJSON = `[{"inputs":[{"internalType":"uint256","name":"shares","type":"uint256"}],"name":"convertToAssets","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var erc4626ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc4626ABIJSON))
	if err != nil {
		panic("failed to parse ERC-4626 ABI: " + err.Error())
	}
	erc4626ABI = parsed
}

// Vault is an ERC-4626 vault whose share rate is reported as "rate:<Symbol>".
type Vault struct {
	Symbol   string
	Address  string
	Decimals int32
}

// MetricKey is the snapshot key of the vault rate.
func (v Vault) MetricKey() string {
	return "rate:" + v.Symbol
}

func (v Vault) decimals() int32 {
	if v.Decimals <= 0 {
		return 18
	}
	return v.Decimals
}

// readVaultRate returns how many assets one whole share converts to.
func readVaultRate(ctx context.Context, client *ethclient.Client, v Vault) (decimal.Decimal, error) {
	if !common.IsHexAddress(v.Address) {
		return decimal.Decimal{}, fmt.Errorf("vault %s: invalid address %q", v.Symbol, v.Address)
	}
	addr := common.HexToAddress(v.Address)
	oneShare := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(v.decimals())), nil)

	payload, err := erc4626ABI.Pack("convertToAssets", oneShare)
	if err != nil {
		return decimal.Decimal{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("vault %s: %w", v.Symbol, err)
	}

	outputs, err := erc4626ABI.Unpack("convertToAssets", res)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("vault %s: %w", v.Symbol, err)
	}
	if len(outputs) != 1 {
		return decimal.Decimal{}, errors.New("unexpected convertToAssets response")
	}

	assets, ok := outputs[0].(*big.Int)
	if !ok {
		return decimal.Decimal{}, errors.New("failed to decode convertToAssets output")
	}
	return decimal.NewFromBigInt(assets, -v.decimals()), nil
}
