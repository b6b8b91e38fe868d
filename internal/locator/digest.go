package locator

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrInvalidDigest 定位摘要格式错误
var ErrInvalidDigest = errors.New("invalid locator digest")

// Digest 计算内容地址的定长定位摘要（keccak-256），该摘要写入链上。
func Digest(address string) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(address))

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Hex 返回摘要的 0x 前缀十六进制形式，作为持久化存储的键
func Hex(digest [32]byte) string {
	return "0x" + hex.EncodeToString(digest[:])
}

// ParseHex 解析 0x 前缀的十六进制摘要
func ParseHex(s string) ([32]byte, error) {
	var out [32]byte
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != 64 {
		return out, ErrInvalidDigest
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return out, ErrInvalidDigest
	}
	copy(out[:], b)
	return out, nil
}
