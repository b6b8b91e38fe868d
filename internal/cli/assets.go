package cli

import (
	"fmt"
	"strconv"
	"strings"

	"ledgermail/backend/internal/domain"
)

// ParseAsset 解析命令行资产描述：
//
//	native:<amount>
//	erc20:<token>:<amount>[:<decimals>[:<symbol>]]
//	erc721:<token>:<tokenId>[:<symbol>]
func ParseAsset(raw string) (domain.Asset, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	kind := strings.ToLower(parts[0])

	switch domain.AssetType(kind) {
	case domain.AssetNative:
		if len(parts) != 2 || parts[1] == "" {
			return domain.Asset{}, fmt.Errorf("native asset must look like native:<amount>, got %q", raw)
		}
		return domain.Asset{Type: domain.AssetNative, Amount: parts[1]}, nil

	case domain.AssetERC20:
		if len(parts) < 3 || len(parts) > 5 {
			return domain.Asset{}, fmt.Errorf("erc20 asset must look like erc20:<token>:<amount>[:<decimals>[:<symbol>]], got %q", raw)
		}
		asset := domain.Asset{Type: domain.AssetERC20, TokenAddress: parts[1], Amount: parts[2]}
		if len(parts) >= 4 {
			decimals, err := strconv.Atoi(parts[3])
			if err != nil || decimals < 0 {
				return domain.Asset{}, fmt.Errorf("invalid decimals %q", parts[3])
			}
			asset.Decimals = domain.Decimals(decimals)
		}
		if len(parts) == 5 {
			asset.Symbol = parts[4]
		}
		return asset, nil

	case domain.AssetERC721:
		if len(parts) < 3 || len(parts) > 4 {
			return domain.Asset{}, fmt.Errorf("erc721 asset must look like erc721:<token>:<tokenId>[:<symbol>], got %q", raw)
		}
		asset := domain.Asset{Type: domain.AssetERC721, TokenAddress: parts[1], TokenID: parts[2]}
		if len(parts) == 4 {
			asset.Symbol = parts[3]
		}
		return asset, nil

	default:
		return domain.Asset{}, fmt.Errorf("unsupported asset type %q", parts[0])
	}
}
