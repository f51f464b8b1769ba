/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	NoisePublicKeySize    = 32
	NoisePrivateKeySize   = 32
	NoisePresharedKeySize = 32
)

type (
	NoisePublicKey    [NoisePublicKeySize]byte
	NoisePrivateKey   [NoisePrivateKeySize]byte
	NoisePresharedKey [NoisePresharedKeySize]byte
	NoiseNonce        uint64 // padded to 12-bytes
)

func loadExactHex(dst []byte, src string) error {
	slice, err := hex.DecodeString(src)
	if err != nil {
		return err
	}
	if len(slice) != len(dst) {
		return errors.New("hex string does not fit the slice")
	}
	copy(dst, slice)
	return nil
}

func loadExactBase64(dst []byte, src string) error {
	slice, err := base64.StdEncoding.DecodeString(src)
	if err != nil {
		return err
	}
	if len(slice) != len(dst) {
		return errors.New("base64 string does not fit the slice")
	}
	copy(dst, slice)
	return nil
}

func (key *NoisePrivateKey) clamp() {
	key[0] &= 248
	key[31] = (key[31] & 127) | 64
}

func (key NoisePrivateKey) Equals(tar NoisePrivateKey) bool {
	return subtle.ConstantTimeCompare(key[:], tar[:]) == 1
}

func (key NoisePrivateKey) IsZero() bool {
	var zero NoisePrivateKey
	return key.Equals(zero)
}

func (key *NoisePrivateKey) FromHex(src string) (err error) {
	err = loadExactHex(key[:], src)
	key.clamp()
	return
}

func (key *NoisePrivateKey) FromBase64(src string) (err error) {
	err = loadExactBase64(key[:], src)
	key.clamp()
	return
}

func (key NoisePrivateKey) Base64() string {
	return base64.StdEncoding.EncodeToString(key[:])
}

func (key *NoisePublicKey) FromHex(src string) error {
	return loadExactHex(key[:], src)
}

func (key *NoisePublicKey) FromBase64(src string) error {
	return loadExactBase64(key[:], src)
}

func (key NoisePublicKey) Base64() string {
	return base64.StdEncoding.EncodeToString(key[:])
}

func (key NoisePublicKey) Equals(tar NoisePublicKey) bool {
	return subtle.ConstantTimeCompare(key[:], tar[:]) == 1
}

func (key NoisePublicKey) IsZero() bool {
	var zero NoisePublicKey
	return key.Equals(zero)
}

func (key *NoisePresharedKey) FromHex(src string) error {
	return loadExactHex(key[:], src)
}

func (key *NoisePresharedKey) FromBase64(src string) error {
	return loadExactBase64(key[:], src)
}

// newPrivateKey draws a fresh X25519 private key from the CSPRNG.
func newPrivateKey() (sk NoisePrivateKey, err error) {
	err = randBytes(sk[:])
	sk.clamp()
	return
}

func (sk *NoisePrivateKey) publicKey() (pk NoisePublicKey) {
	apk := (*[NoisePublicKeySize]byte)(&pk)
	ask := (*[NoisePrivateKeySize]byte)(sk)
	curve25519.ScalarBaseMult(apk, ask)
	return
}

var errInvalidPublicKey = errors.New("invalid public key")

// sharedSecret computes X25519(sk, pk). An all-zero result means the peer
// supplied a low-order point and must cause rejection.
func (sk *NoisePrivateKey) sharedSecret(pk NoisePublicKey) (ss [NoisePublicKeySize]byte, err error) {
	apk := (*[NoisePublicKeySize]byte)(&pk)
	ask := (*[NoisePrivateKeySize]byte)(sk)
	curve25519.ScalarMult((*[32]byte)(&ss), ask, apk)
	if isZero(ss[:]) {
		return ss, errInvalidPublicKey
	}
	return ss, nil
}

// aeadNonce lays out the 12-byte ChaCha20-Poly1305 nonce: four zero bytes
// followed by the little-endian counter.
func aeadNonce(counter uint64) (nonce [chacha20poly1305.NonceSize]byte) {
	putLE64(nonce[4:], counter)
	return
}
