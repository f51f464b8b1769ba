/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/blake2s"
)

/* KDF related functions and wrappers */

func newBlake2s() hash.Hash {
	h, _ := blake2s.New256(nil)
	return h
}

func hmacBlake2s(sum *[blake2s.Size]byte, key []byte, data ...[]byte) {
	mac := hmac.New(newBlake2s, key)
	for _, d := range data {
		mac.Write(d)
	}
	mac.Sum(sum[:0])
}

// KDF1/KDF2/KDF3 are the HKDF-style expansions over HMAC-BLAKE2s used by
// the handshake: tau0 := HMAC(key, input), tau1 := HMAC(tau0, 1), and
// tau_n := HMAC(tau0, tau_{n-1} || n) for n > 1.
func KDF1(t0 *[blake2s.Size]byte, key, input []byte) {
	hmacBlake2s(t0, key, input)
	hmacBlake2s(t0, t0[:], []byte{0x1})
}

func KDF2(t0, t1 *[blake2s.Size]byte, key, input []byte) {
	var prk [blake2s.Size]byte
	hmacBlake2s(&prk, key, input)
	hmacBlake2s(t0, prk[:], []byte{0x1})
	hmacBlake2s(t1, prk[:], t0[:], []byte{0x2})
	setZero(prk[:])
}

func KDF3(t0, t1, t2 *[blake2s.Size]byte, key, input []byte) {
	var prk [blake2s.Size]byte
	hmacBlake2s(&prk, key, input)
	hmacBlake2s(t0, prk[:], []byte{0x1})
	hmacBlake2s(t1, prk[:], t0[:], []byte{0x2})
	hmacBlake2s(t2, prk[:], t1[:], []byte{0x3})
	setZero(prk[:])
}

func mixHash(dst, h *[blake2s.Size]byte, data []byte) {
	hsh := newBlake2s()
	hsh.Write(h[:])
	hsh.Write(data)
	hsh.Sum(dst[:0])
}

func mixKey(dst, c *[blake2s.Size]byte, data []byte) {
	KDF1(dst, c[:], data)
}

// macKey derives a 32-byte MAC key as BLAKE2s(label || publicKey); used
// for the mac1 and cookie label keys.
func macKey(sum *[blake2s.Size]byte, label string, pk NoisePublicKey) {
	hsh := newBlake2s()
	hsh.Write([]byte(label))
	hsh.Write(pk[:])
	hsh.Sum(sum[:0])
}

// mac computes the 16-byte keyed BLAKE2s over msg used for mac1/mac2 and
// cookie derivation. key may be 16 or 32 bytes.
func mac(sum *[blake2s.Size128]byte, key, msg []byte) {
	m, _ := blake2s.New128(key)
	m.Write(msg)
	m.Sum(sum[:0])
}

func isZero(val []byte) bool {
	acc := 1
	for _, b := range val {
		acc &= subtleConstantTimeByteEq(b, 0)
	}
	return acc == 1
}

func subtleConstantTimeByteEq(x, y byte) int {
	return int((uint32(x^y) - 1) >> 31)
}

/* This function is not used as pervasively as it should because this is mostly impossible in Go at the moment */
func setZero(arr []byte) {
	for i := range arr {
		arr[i] = 0
	}
}

func randBytes(b []byte) error {
	_, err := rand.Read(b)
	return err
}

func randUint32() (uint32, error) {
	var b [4]byte
	if err := randBytes(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func putLE64(b []byte, v uint64) {
	binary.LittleEndian.PutUint64(b, v)
}
