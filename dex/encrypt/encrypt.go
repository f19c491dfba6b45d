// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package encrypt provides password based encryption for key files.
package encrypt

import (
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"github.com/morphaNFT/marker-maker/dex/encode"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/poly1305"
)

// Crypter is an encryption key and its encryption/decryption algorithms.
// Create a Crypter with the NewCrypter function.
type Crypter interface {
	// Encrypt encrypts the plaintext.
	Encrypt(b []byte) ([]byte, error)
	// Decrypt decrypts the ciphertext created by Encrypt.
	Decrypt(b []byte) ([]byte, error)
	// Serialize serializes the Crypter. Use the Deserialize function to create
	// a Crypter from the resulting bytes. Deserializing requires the password
	// used to create the Crypter.
	Serialize() []byte
	// Close zeros the encryption key. The Crypter is useless after closing.
	Close()
}

const (
	// defaultTime is the default time parameter for argon2id key derivation.
	defaultTime = 1
	// defaultMem is the default memory parameter for argon2id key derivation.
	defaultMem = 64 * 1024
	// KeySize is the size of the encryption key.
	KeySize = 32
	// SaltSize is the size of the argon2id salt.
	SaltSize = 16
)

// ErrPassword is returned by Deserialize when the password does not match.
var ErrPassword = errors.New("incorrect password")

var intCoder = encode.IntCoder

// Key is 32 bytes.
type Key [KeySize]byte

// Salt is randomness used as part of key derivation. This is different from
// the nonce generated during xchacha20poly1305 encryption, which is shorter.
type Salt [SaltSize]byte

func newSalt() (s Salt) {
	if _, err := rand.Read(s[:]); err != nil {
		panic("newSalt: " + err.Error())
	}
	return s
}

// argonParams is a set of parameters for key derivation.
type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// NewCrypter derives an encryption key from a password.
func NewCrypter(pw []byte) Crypter {
	threads := uint8(min(runtime.NumCPU(), 255))
	c := &argonPolyCrypter{
		salt: newSalt(),
		params: &argonParams{
			time:    defaultTime,
			memory:  defaultMem,
			threads: threads,
		},
	}
	polyKey := c.deriveKeys(pw)
	// The MAC over the serialized parameters authenticates the password on
	// deserialization.
	poly1305.Sum(&c.tag, c.serializeParams(), &polyKey)
	return c
}

// Deserialize deserializes the Crypter for the password.
func Deserialize(pw, encCrypter []byte) (Crypter, error) {
	ver, pushes, err := encode.DecodeBlob(encCrypter, 5)
	if err != nil {
		return nil, err
	}
	switch ver {
	case 0:
		return decodeArgonPolyV0(pw, pushes)
	default:
		return nil, fmt.Errorf("unknown Crypter version %d", ver)
	}
}

// argonPolyCrypter is an encryption algorithm based on argon2id for key
// derivation and xchacha20poly1305 for symmetric encryption.
type argonPolyCrypter struct {
	key    Key
	tag    [poly1305.TagSize]byte
	salt   Salt
	params *argonParams
}

// deriveKeys sets the encryption key and returns the MAC key. The argon2id
// output is split in two, encryption key first.
func (c *argonPolyCrypter) deriveKeys(pw []byte) (polyKey [KeySize]byte) {
	p := c.params
	keyB := argon2.IDKey(pw, c.salt[:], p.time, p.memory, p.threads, KeySize*2)
	copy(c.key[:], keyB[:KeySize])
	copy(polyKey[:], keyB[KeySize:])
	encode.ClearBytes(keyB)
	return polyKey
}

// Encrypt encrypts the plaintext.
func (c *argonPolyCrypter) Encrypt(plainText []byte) ([]byte, error) {
	boxer, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("aead error: %w", err)
	}
	nonce := make([]byte, boxer.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation error: %w", err)
	}
	cipherText := boxer.Seal(nil, nonce, plainText, nil)
	return encode.BuildyBytes{0}.AddData(nonce).AddData(cipherText), nil
}

// Decrypt decrypts the ciphertext created by Encrypt.
func (c *argonPolyCrypter) Decrypt(encrypted []byte) ([]byte, error) {
	ver, pushes, err := encode.DecodeBlob(encrypted, 2)
	if err != nil {
		return nil, fmt.Errorf("DecodeBlob: %w", err)
	}
	if ver != 0 {
		return nil, fmt.Errorf("only version 0 encryptions are known. got version %d", ver)
	}
	if len(pushes) != 2 {
		return nil, fmt.Errorf("expected 2 pushes. got %d", len(pushes))
	}
	boxer, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("aead error: %w", err)
	}
	nonce, cipherText := pushes[0], pushes[1]
	if len(nonce) != boxer.NonceSize() {
		return nil, fmt.Errorf("incompatible nonce length. expected %d, got %d", boxer.NonceSize(), len(nonce))
	}
	plainText, err := boxer.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, fmt.Errorf("aead.Open: %w", err)
	}
	return plainText, nil
}

// Serialize serializes the argonPolyCrypter.
func (c *argonPolyCrypter) Serialize() []byte {
	return c.serializeParams().AddData(c.tag[:])
}

// serializeParams serializes the argonPolyCrypter parameters, without the
// poly1305 auth tag.
func (c *argonPolyCrypter) serializeParams() encode.BuildyBytes {
	return encode.BuildyBytes{0}.
		AddData(c.salt[:]).
		AddData(encode.Uint32Bytes(c.params.time)).
		AddData(encode.Uint32Bytes(c.params.memory)).
		AddData([]byte{c.params.threads})
}

// Close zeros the key.
func (c *argonPolyCrypter) Close() {
	encode.ClearBytes(c.key[:])
}

func decodeArgonPolyV0(pw []byte, pushes [][]byte) (*argonPolyCrypter, error) {
	if len(pushes) != 5 {
		return nil, fmt.Errorf("expected 5 pushes, but got %d", len(pushes))
	}
	saltB, timeB, memB, threadsB, tagB := pushes[0], pushes[1], pushes[2], pushes[3], pushes[4]
	if len(saltB) != SaltSize {
		return nil, fmt.Errorf("expected salt of length %d, got %d", SaltSize, len(saltB))
	}
	if len(timeB) != 4 || len(memB) != 4 {
		return nil, errors.New("invalid argon2id parameter encoding")
	}
	if len(threadsB) != 1 || threadsB[0] == 0 {
		return nil, errors.New("invalid threads parameter")
	}
	if len(tagB) != poly1305.TagSize {
		return nil, fmt.Errorf("mac authenticator of incorrect length. wanted %d, got %d", poly1305.TagSize, len(tagB))
	}

	c := &argonPolyCrypter{
		params: &argonParams{
			time:    intCoder.Uint32(timeB),
			memory:  intCoder.Uint32(memB),
			threads: threadsB[0],
		},
	}
	copy(c.salt[:], saltB)
	copy(c.tag[:], tagB)

	polyKey := c.deriveKeys(pw)
	if !poly1305.Verify(&c.tag, c.serializeParams(), &polyKey) {
		c.Close()
		return nil, ErrPassword
	}
	return c, nil
}

// EncryptKeyFile encrypts a private key for storage. The result holds the
// serialized Crypter and the encrypted key.
func EncryptKeyFile(pw, privKey []byte) ([]byte, error) {
	if len(pw) == 0 {
		return nil, errors.New("empty password")
	}
	crypter := NewCrypter(pw)
	defer crypter.Close()
	encKey, err := crypter.Encrypt(privKey)
	if err != nil {
		return nil, err
	}
	return encode.BuildyBytes{0}.AddData(crypter.Serialize()).AddData(encKey), nil
}

// DecryptKeyFile decrypts a private key stored with EncryptKeyFile.
func DecryptKeyFile(pw, keyFile []byte) ([]byte, error) {
	ver, pushes, err := encode.DecodeBlob(keyFile, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key file: %w", err)
	}
	if ver != 0 {
		return nil, fmt.Errorf("unrecognized key file version %d", ver)
	}
	if len(pushes) != 2 {
		return nil, fmt.Errorf("invalid key file, containing %d data pushes instead of 2", len(pushes))
	}
	crypter, err := Deserialize(pw, pushes[0])
	if err != nil {
		return nil, err
	}
	defer crypter.Close()
	return crypter.Decrypt(pushes[1])
}
