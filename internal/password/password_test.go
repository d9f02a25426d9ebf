package password

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerifyBcrypt(t *testing.T) {
	v := NewVerifier(bcrypt.MinCost)

	hash, err := v.Hash("correct horse")
	require.NoError(t, err)

	assert.True(t, v.Verify("correct horse", hash))
	assert.False(t, v.Verify("wrong horse", hash))
}

func TestHashRejectsShortPassword(t *testing.T) {
	_, err := NewVerifier(bcrypt.MinCost).Hash("short")
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestNewVerifierClampsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewVerifier(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewVerifier(99).cost)
	assert.Equal(t, 12, NewVerifier(12).cost)
}

func TestVerifyArgon2id(t *testing.T) {
	salt := []byte("0123456789abcdef")
	key := argon2.IDKey([]byte("correct horse"), salt, 1, 8*1024, 1, 32)
	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, 8*1024, 1, 1,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)

	v := NewVerifier(bcrypt.MinCost)
	assert.True(t, v.Verify("correct horse", encoded))
	assert.False(t, v.Verify("wrong horse", encoded))
}

func TestVerifyMalformedHashIsFailure(t *testing.T) {
	v := NewVerifier(bcrypt.MinCost)
	for _, stored := range []string{
		"",
		"plaintext",
		"$2a$10$tooshort",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdA",
	} {
		assert.False(t, v.Verify("anything", stored), stored)
	}
}
