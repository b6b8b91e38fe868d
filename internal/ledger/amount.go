package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"ledgermail/backend/internal/domain"
)

// ErrInvalidAmount 金额格式错误
var ErrInvalidAmount = errors.New("invalid asset amount")

// ParseAmount 把十进制金额字符串按小数位换算为最小单位
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" || strings.HasPrefix(amount, "-") {
		return nil, ErrInvalidAmount
	}

	whole, frac, _ := strings.Cut(amount, ".")
	if len(frac) > decimals {
		return nil, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, decimals)
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))

	out, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}
	return out, nil
}

// TransferFromAsset 把资产描述转换为转账写入参数
func TransferFromAsset(asset domain.Asset) (token string, amount *big.Int, isNFT bool, err error) {
	switch asset.Type {
	case domain.AssetNative:
		amount, err = ParseAmount(asset.Amount, decimalsOf(asset))
		return "", amount, false, err
	case domain.AssetERC20:
		if !common.IsHexAddress(asset.TokenAddress) {
			return "", nil, false, fmt.Errorf("invalid token address %q", asset.TokenAddress)
		}
		amount, err = ParseAmount(asset.Amount, decimalsOf(asset))
		return asset.TokenAddress, amount, false, err
	case domain.AssetERC721:
		if !common.IsHexAddress(asset.TokenAddress) {
			return "", nil, false, fmt.Errorf("invalid token address %q", asset.TokenAddress)
		}
		id, ok := new(big.Int).SetString(asset.TokenID, 10)
		if !ok {
			return "", nil, false, fmt.Errorf("invalid token id %q", asset.TokenID)
		}
		return asset.TokenAddress, id, true, nil
	default:
		return "", nil, false, fmt.Errorf("unsupported asset type %q", asset.Type)
	}
}

func decimalsOf(asset domain.Asset) int {
	if asset.Decimals != nil {
		return *asset.Decimals
	}
	return domain.DefaultDecimals
}
