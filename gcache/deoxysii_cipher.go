package gcache

import (
	"github.com/oasisprotocol/deoxysii"

	"github.com/codership-go/galera-cert/common/xerrors"
)

// DeoxysIICipher is a concrete PageCipher backed by Deoxys-II-256-128, a
// reference AEAD wiring for the page store's key-injection contract
// (§4.6). Cipher construction itself stays out of scope; this only
// exercises an already-available ecosystem AEAD behind PageCipher.
type DeoxysIICipher struct{}

func (DeoxysIICipher) NonceSize() int { return deoxysii.NonceSize }
func (DeoxysIICipher) Overhead() int  { return deoxysii.TagSize }

func (DeoxysIICipher) Seal(dst, key, nonce, plaintext []byte) []byte {
	var k [deoxysii.KeySize]byte
	var n [deoxysii.NonceSize]byte
	copy(k[:], key)
	copy(n[:], nonce)

	aead, err := deoxysii.New(k[:])
	if err != nil {
		panic(err) // key size is fixed and validated by set_enc_key
	}
	return aead.Seal(dst, n[:], plaintext, nil)
}

func (DeoxysIICipher) Open(dst, key, nonce, ciphertext []byte) ([]byte, error) {
	var k [deoxysii.KeySize]byte
	var n [deoxysii.NonceSize]byte
	copy(k[:], key)
	copy(n[:], nonce)

	aead, err := deoxysii.New(k[:])
	if err != nil {
		panic(err)
	}
	out, err := aead.Open(dst, n[:], ciphertext, nil)
	if err != nil {
		return nil, xerrors.WithContext(xerrors.ErrEncryptFailure, "gcache: page payload authentication failed")
	}
	return out, nil
}
