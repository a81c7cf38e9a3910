// Package cryptox implements the at-rest encryption used for stored session
// material: an scrypt-derived AES-256 key and CBC mode with PKCS#7 padding,
// serialized as "hex(iv):hex(ciphertext)".
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/wagate/internal/common"
	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters. Changing any of them makes existing rows unreadable.
const (
	scryptN = 16384
	scryptR = 8
	scryptP = 1
	keyLen  = 32
)

var errBadPadding = fmt.Errorf("%w: bad padding", common.ErrMalformedCiphertext)

// DeriveSessionKey derives the per-device AES-256 key from the process-wide
// secret, using the device identifier as the scrypt salt. The same inputs
// always produce the same key.
func DeriveSessionKey(secret, deviceID string) ([]byte, error) {
	return scrypt.Key([]byte(secret), []byte(deviceID), scryptN, scryptR, scryptP, keyLen)
}

// EncryptString encrypts plaintext with AES-256-CBC under key using a fresh
// random IV and returns "hex(iv):hex(ciphertext)".
//
// Example:
//
//	key, _ := DeriveSessionKey(secret, deviceID)
//	enc, err := EncryptString([]byte(`{"me":"..."}`), key)
//	if err != nil {
//	    return err
//	}
//	// enc looks like "9f2d...:a4c1..."
func EncryptString(plaintext, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	defer common.WipeByteArray(padded)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptString reverses EncryptString. Input without the ':' separator,
// with non-hex halves, or with a ciphertext that is not a whole number of
// blocks yields an error wrapping common.ErrMalformedCiphertext. A wrong key
// usually fails the padding check; when it does not, the result is garbage.
func DecryptString(encoded string, key []byte) ([]byte, error) {
	ivHex, ctHex, ok := strings.Cut(encoded, ":")
	if !ok {
		return nil, fmt.Errorf("%w: missing separator", common.ErrMalformedCiphertext)
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: bad iv", common.ErrMalformedCiphertext)
	}
	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: bad ciphertext", common.ErrMalformedCiphertext)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 {
		return nil, errBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, errBadPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errBadPadding
		}
	}
	return b[:len(b)-n], nil
}
