// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package crypto implements the shared-secret envelope scheme some upstream
// metadata endpoints wrap their JSON responses in: base64 over an OpenSSL
// "Salted__" AES-256-CBC blob with an MD5 EVP_BytesToKey derivation. This is
// the format produced by CryptoJS.AES.encrypt(passphrase) on the upstream side.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" // #nosec G501 -- mandated by the upstream EVP_BytesToKey envelope, not used for integrity
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

const saltedPrefix = "Salted__"

var (
	// ErrNotEnvelope signals a payload that is not a recognizable envelope.
	ErrNotEnvelope = errors.New("payload is not an encrypted envelope")
	// ErrMalformedCiphertext signals an envelope that cannot be decrypted.
	ErrMalformedCiphertext = errors.New("malformed envelope ciphertext")
)

// evpBytesToKey derives an AES-256 key and IV from the secret and salt the way
// OpenSSL's EVP_BytesToKey does with MD5 and one iteration.
func evpBytesToKey(secret string, salt []byte) (key, iv []byte) {
	var derived []byte
	var block []byte
	for len(derived) < 48 {
		h := md5.New() // #nosec G401
		h.Write(block)
		h.Write([]byte(secret))
		h.Write(salt)
		block = h.Sum(nil)
		derived = append(derived, block...)
	}
	return derived[:32], derived[32:48]
}

// Decrypt opens a base64 "Salted__" envelope with the shared secret.
func Decrypt(ciphertext, secret string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if len(raw) < 16 || string(raw[:8]) != saltedPrefix {
		return nil, fmt.Errorf("%w: missing salt header", ErrMalformedCiphertext)
	}
	salt := raw[8:16]
	body := raw[16:]
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: body not block aligned", ErrMalformedCiphertext)
	}

	key, iv := evpBytesToKey(secret, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return plain, nil
}

// Encrypt seals data into an envelope Decrypt can open. Used by upstream
// simulators and test fixtures.
func Encrypt(data []byte, secret string) (string, error) {
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key, iv := evpBytesToKey(secret, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad(data, aes.BlockSize)
	out := make([]byte, 16+len(padded))
	copy(out, saltedPrefix)
	copy(out[8:], salt)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[16:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// envelope matches the transport shape {"data": "<ciphertext>"}.
type envelope struct {
	Data string `json:"data"`
}

// OpenEnvelope returns the decrypted payload when raw is an encrypted
// envelope, or raw unchanged when it is already a plain payload. A payload
// that looks like an envelope but fails to decrypt into valid JSON is an
// error: callers treat the title as unavailable.
func OpenEnvelope(raw []byte, secret string) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Data == "" {
		return raw, nil
	}

	plain, err := Decrypt(env.Data, secret)
	if err != nil {
		// A {"data": ...} object is a legitimate plain response for some
		// providers; only fail when the field actually looks like ciphertext.
		if !looksLikeCiphertext(env.Data) {
			return raw, nil
		}
		return nil, err
	}
	if !json.Valid(plain) {
		return nil, fmt.Errorf("%w: decrypted payload is not JSON", ErrMalformedCiphertext)
	}
	return plain, nil
}

// looksLikeCiphertext reports whether s decodes to an OpenSSL salt header.
func looksLikeCiphertext(s string) bool {
	raw, err := base64.StdEncoding.DecodeString(s)
	return err == nil && len(raw) >= 16 && string(raw[:8]) == saltedPrefix
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
