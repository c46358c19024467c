package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/ytget/hls-downloader/internal/model"
)

// tsSyncByte marks the start of an MPEG-TS packet
const tsSyncByte = 0x47

// CryptoError reports malformed ciphertext or wrong key material. The
// scheduler retries it once; a repeat failure indicates a wrong key, not a
// transient condition.
type CryptoError struct {
	Reason string
}

func (e *CryptoError) Error() string {
	return "decrypt: " + e.Reason
}

// Decrypt applies AES-128-CBC decryption with PKCS#7 unpadding.
// Key and IV must both be exactly 16 bytes.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	if len(key) != model.KeyLength {
		return nil, &CryptoError{Reason: fmt.Sprintf("key must be %d bytes, got %d", model.KeyLength, len(key))}
	}
	if len(iv) != model.KeyLength {
		return nil, &CryptoError{Reason: fmt.Sprintf("IV must be %d bytes, got %d", model.KeyLength, len(iv))}
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, &CryptoError{Reason: fmt.Sprintf("ciphertext length %d is not a positive multiple of the block size", len(ciphertext))}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &CryptoError{Reason: err.Error()}
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return unpadPKCS7(plaintext)
}

// unpadPKCS7 strips and validates PKCS#7 padding
func unpadPKCS7(data []byte) ([]byte, error) {
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, &CryptoError{Reason: fmt.Sprintf("invalid padding length %d", padLen)}
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, &CryptoError{Reason: "invalid padding bytes"}
		}
	}
	return data[:len(data)-padLen], nil
}

// DeriveIV returns the implicit IV for a segment: the 16-byte big-endian
// encoding of its media sequence number
func DeriveIV(sequence uint64) []byte {
	iv := make([]byte, model.KeyLength)
	binary.BigEndian.PutUint64(iv[8:], sequence)
	return iv
}

// AlignSyncByte trims decrypted segment bytes to the first MPEG-TS sync
// byte so that concatenated output stays packet-aligned. Data without a
// sync byte is returned unchanged.
func AlignSyncByte(data []byte) []byte {
	for i, b := range data {
		if b == tsSyncByte {
			return data[i:]
		}
	}
	return data
}
