// Package password はパスワードハッシュの生成と照合を提供します。
//
// 照合は bcrypt（$2a$ / $2b$ / $2y$）と PHC 形式の argon2id に対応します。
// 保存済みハッシュが壊れている場合は照合失敗として扱い、エラーにはしません。
package password

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// MinLength は Hash が受け付けるパスワードの最小バイト数です。
const MinLength = 8

// ErrTooShort はパスワードが MinLength 未満の場合に返されます。
var ErrTooShort = errors.New("password too short")

// Verifier はパスワードの照合とハッシュ化を行います。
type Verifier struct {
	cost int
}

// NewVerifier は bcrypt のコストを指定して Verifier を作成します。
// 範囲外のコストは bcrypt.DefaultCost に丸めます。
func NewVerifier(cost int) *Verifier {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Verifier{cost: cost}
}

// Hash は平文パスワードを bcrypt でハッシュ化します。
func (v *Verifier) Hash(plaintext string) (string, error) {
	if len(plaintext) < MinLength {
		return "", ErrTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), v.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

// Verify は plaintext が storedHash と一致するかを返します。
func (v *Verifier) Verify(plaintext, storedHash string) bool {
	switch {
	case strings.HasPrefix(storedHash, "$argon2id$"):
		return verifyArgon2id(plaintext, storedHash)
	case strings.HasPrefix(storedHash, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext)) == nil
	default:
		return false
	}
}

type argon2Params struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
func verifyArgon2id(plaintext, encoded string) bool {
	p, err := parseArgon2id(encoded)
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(plaintext), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.hash)))
	return subtle.ConstantTimeCompare(computed, p.hash) == 1
}

func parseArgon2id(encoded string) (*argon2Params, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, errors.New("invalid argon2id hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	p := &argon2Params{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.parallelism); err != nil {
		return nil, fmt.Errorf("invalid argon2 params: %w", err)
	}
	if p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return nil, errors.New("invalid argon2 params")
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, fmt.Errorf("invalid argon2 salt: %w", err)
	}
	if p.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, fmt.Errorf("invalid argon2 hash: %w", err)
	}
	if len(p.hash) == 0 {
		return nil, errors.New("empty argon2 hash")
	}
	return p, nil
}
