package domain

// AssetType 资产类型
type AssetType string

const (
	AssetNative AssetType = "native" // 原生币
	AssetERC20  AssetType = "erc20"  // 同质化代币
	AssetERC721 AssetType = "erc721" // 非同质化代币
)

// Asset 随邮件附带的一项资产。只嵌入在邮件内容和领取记录中，不单独存储。
type Asset struct {
	Type         AssetType `json:"type"`
	TokenAddress string    `json:"tokenAddress,omitempty"`
	Amount       string    `json:"amount,omitempty"` // 十进制字符串，例如 "1.5"
	Symbol       string    `json:"symbol,omitempty"`
	TokenID      string    `json:"tokenId,omitempty"`
	Decimals     *int      `json:"decimals,omitempty"` // 同质化资产的小数位，未设置时使用默认的 18 位
}

// DefaultDecimals 原生币和代币的默认小数位
const DefaultDecimals = 18

// Decimals 返回指向 n 的指针，便于设置 Asset.Decimals
func Decimals(n int) *int {
	return &n
}

// IsNFT 是否为非同质化代币
func (a Asset) IsNFT() bool {
	return a.Type == AssetERC721
}

// Label 返回用于正文展示的资产描述
func (a Asset) Label() string {
	switch a.Type {
	case AssetERC721:
		symbol := a.Symbol
		if symbol == "" {
			symbol = "NFT"
		}
		return symbol + " #" + a.TokenID
	default:
		symbol := a.Symbol
		if symbol == "" && a.Type == AssetNative {
			symbol = "ETH"
		}
		if symbol == "" {
			symbol = "tokens"
		}
		return a.Amount + " " + symbol
	}
}
