package pkg

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// CodeLen 邮箱验证码位数
const CodeLen = 6

var errCodeLen = errors.New("code length must be 1-18")

// NewCode 生成 CodeLen 位验证码，允许前导 0
func NewCode() (string, error) {
	return RandDigits(CodeLen)
}

// RandDigits 在 [0, 10^n) 上均匀取一个数，再补齐到 n 位
func RandDigits(n int) (string, error) {
	if n == 0 {
		return "", nil
	}
	if n < 0 || n > 18 {
		return "", errCodeLen
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	x, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, x.Int64()), nil
}

// ValidCode 长度正确且全是数字
func ValidCode(s string) bool {
	if len(s) != CodeLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
