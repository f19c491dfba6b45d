// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package eth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the length of a [R || S || V] deposit signature.
const SignatureLength = crypto.SignatureLength

// DepositTerms are the fields a depositor signs to bind a deposit to a
// purchase intent.
type DepositTerms struct {
	Depositor  common.Address
	Collection common.Address
	Token      common.Address
	MinPrice   *big.Int
	MaxPrice   *big.Int
}

// Domain identifies the engine instance a deposit binding is valid for.
type Domain struct {
	Engine  common.Address
	ChainID *big.Int
}

// DepositDigest is the keccak256 of the tightly packed terms and domain:
// depositor, collection, token (20 bytes each), minPrice, maxPrice (32 bytes
// each), engine (20 bytes) and chain ID (32 bytes).
func DepositDigest(terms *DepositTerms, dom *Domain) (common.Hash, error) {
	if terms.MinPrice == nil || terms.MaxPrice == nil || dom.ChainID == nil {
		return common.Hash{}, errors.New("missing price or chain ID")
	}
	for _, v := range []*big.Int{terms.MinPrice, terms.MaxPrice, dom.ChainID} {
		if v.Sign() < 0 || v.BitLen() > 256 {
			return common.Hash{}, fmt.Errorf("%s is not a uint256", v)
		}
	}
	b := make([]byte, 0, 20*4+32*3)
	b = append(b, terms.Depositor[:]...)
	b = append(b, terms.Collection[:]...)
	b = append(b, terms.Token[:]...)
	b = append(b, math.U256Bytes(new(big.Int).Set(terms.MinPrice))...)
	b = append(b, math.U256Bytes(new(big.Int).Set(terms.MaxPrice))...)
	b = append(b, dom.Engine[:]...)
	b = append(b, math.U256Bytes(new(big.Int).Set(dom.ChainID))...)
	return crypto.Keccak256Hash(b), nil
}

// DepositSigningHash is the personal message (EIP-191) hash of the deposit
// digest. This is the hash that is actually signed.
func DepositSigningHash(terms *DepositTerms, dom *Domain) ([]byte, error) {
	digest, err := DepositDigest(terms, dom)
	if err != nil {
		return nil, err
	}
	return accounts.TextHash(digest[:]), nil
}

// SignDeposit signs the deposit terms with the depositor's key. The returned
// signature has V in {27, 28}.
func SignDeposit(priv *ecdsa.PrivateKey, terms *DepositTerms, dom *Domain) ([]byte, error) {
	h, err := DepositSigningHash(terms, dom)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(h, priv)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverDepositSigner recovers the address that signed the deposit terms.
// V may be 0/1 or 27/28. Signatures with a high S value are rejected.
func RecoverDepositSigner(terms *DepositTerms, dom *Domain, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("wrong signature length %d", len(sig))
	}
	s := common.CopyBytes(sig)
	v := s[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	r, sVal := new(big.Int).SetBytes(s[:32]), new(big.Int).SetBytes(s[32:64])
	if !crypto.ValidateSignatureValues(v, r, sVal, true) {
		return common.Address{}, errors.New("invalid signature values")
	}
	s[crypto.RecoveryIDOffset] = v
	h, err := DepositSigningHash(terms, dom)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(h, s)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyDepositSignature checks that sig was produced by the depositor over
// the terms and domain.
func VerifyDepositSignature(terms *DepositTerms, dom *Domain, sig []byte) error {
	signer, err := RecoverDepositSigner(terms, dom, sig)
	if err != nil {
		return err
	}
	if signer != terms.Depositor {
		return fmt.Errorf("signed by %s, not depositor %s", signer, terms.Depositor)
	}
	return nil
}
