package claim

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"
)

// CodeLength 领取码位数
const CodeLength = 6

var (
	codePattern = regexp.MustCompile(`^\d{6}$`)
	codeSpace   = big.NewInt(1_000_000)
)

// randomCode 均匀生成 6 位数字码（允许前导 0）
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to draw claim code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// NormalizeCode 去掉用户输入中的空白
func NormalizeCode(code string) string {
	return strings.Join(strings.Fields(code), "")
}

// IsWellFormed 是否恰好为 6 位数字
func IsWellFormed(code string) bool {
	return codePattern.MatchString(code)
}

// FormatCode 按 "123 456" 的形式展示领取码，格式不正确时原样返回
func FormatCode(code string) string {
	if !IsWellFormed(code) {
		return code
	}
	return code[:3] + " " + code[3:]
}

// ClaimURL 构造领取链接，领取码作为 code 查询参数
func ClaimURL(base, code string) string {
	u, err := url.Parse(base)
	if err != nil || base == "" {
		return base + "?code=" + url.QueryEscape(code)
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String()
}
