// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package eth

import (
	"bytes"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func testKey(t *testing.T, hexKey string) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	priv, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("HexToECDSA error: %v", err)
	}
	return priv, crypto.PubkeyToAddress(priv.PublicKey)
}

func testTermsAndDomain(depositor common.Address) (*DepositTerms, *Domain) {
	return &DepositTerms{
			Depositor:  depositor,
			Collection: common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D"),
			Token:      NativeToken,
			MinPrice:   big.NewInt(10),
			MaxPrice:   big.NewInt(100),
		}, &Domain{
			Engine:  common.HexToAddress("0x2b8e1C5D1A1e0C7A6fa4D5E0bF6c43a5dBFb6b3e"),
			ChainID: big.NewInt(MainnetChainID),
		}
}

func TestDepositDigest(t *testing.T) {
	depositor := common.HexToAddress("0x345853e21b1d475582E71cC269124eD5e2dD3422")
	terms, dom := testTermsAndDomain(depositor)

	d1, err := DepositDigest(terms, dom)
	if err != nil {
		t.Fatalf("DepositDigest error: %v", err)
	}

	// Recompute the packed encoding by hand.
	var packed []byte
	packed = append(packed, depositor.Bytes()...)
	packed = append(packed, terms.Collection.Bytes()...)
	packed = append(packed, terms.Token.Bytes()...)
	packed = append(packed, common.LeftPadBytes(terms.MinPrice.Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(terms.MaxPrice.Bytes(), 32)...)
	packed = append(packed, dom.Engine.Bytes()...)
	packed = append(packed, common.LeftPadBytes(dom.ChainID.Bytes(), 32)...)
	if len(packed) != 20*4+32*3 {
		t.Fatalf("wrong packed length %d", len(packed))
	}
	if want := crypto.Keccak256Hash(packed); d1 != want {
		t.Fatalf("wrong digest. wanted %s, got %s", want, d1)
	}

	// Every field must contribute.
	mutations := []struct {
		name   string
		mutate func(*DepositTerms, *Domain)
	}{
		{"depositor", func(tr *DepositTerms, _ *Domain) { tr.Depositor[0] ^= 1 }},
		{"collection", func(tr *DepositTerms, _ *Domain) { tr.Collection[0] ^= 1 }},
		{"token", func(tr *DepositTerms, _ *Domain) { tr.Token[19] = 1 }},
		{"min", func(tr *DepositTerms, _ *Domain) { tr.MinPrice = big.NewInt(11) }},
		{"max", func(tr *DepositTerms, _ *Domain) { tr.MaxPrice = big.NewInt(99) }},
		{"engine", func(_ *DepositTerms, d *Domain) { d.Engine[0] ^= 1 }},
		{"chain", func(_ *DepositTerms, d *Domain) { d.ChainID = big.NewInt(TestnetChainID) }},
	}
	for _, m := range mutations {
		tr, d := testTermsAndDomain(depositor)
		m.mutate(tr, d)
		d2, err := DepositDigest(tr, d)
		if err != nil {
			t.Fatalf("%s: DepositDigest error: %v", m.name, err)
		}
		if d2 == d1 {
			t.Fatalf("%s: digest did not change", m.name)
		}
	}

	terms.MinPrice = big.NewInt(-1)
	if _, err := DepositDigest(terms, dom); err == nil {
		t.Fatalf("no error for negative price")
	}
	terms.MinPrice = nil
	if _, err := DepositDigest(terms, dom); err == nil {
		t.Fatalf("no error for nil price")
	}
}

func TestDepositSignature(t *testing.T) {
	priv, depositor := testKey(t, "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	terms, dom := testTermsAndDomain(depositor)

	sig, err := SignDeposit(priv, terms, dom)
	if err != nil {
		t.Fatalf("SignDeposit error: %v", err)
	}
	if len(sig) != SignatureLength {
		t.Fatalf("wrong signature length %d", len(sig))
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Fatalf("expected V of 27 or 28, got %d", v)
	}
	if err := VerifyDepositSignature(terms, dom, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	// V in {0, 1} is accepted too.
	sig01 := common.CopyBytes(sig)
	sig01[64] -= 27
	if err := VerifyDepositSignature(terms, dom, sig01); err != nil {
		t.Fatalf("valid signature with V in {0, 1} rejected: %v", err)
	}

	// A signature over different terms recovers to someone else.
	otherTerms, _ := testTermsAndDomain(depositor)
	otherTerms.MaxPrice = big.NewInt(1000)
	if err := VerifyDepositSignature(otherTerms, dom, sig); err == nil {
		t.Fatalf("signature accepted for different terms")
	}

	// Different engine.
	otherDom := &Domain{Engine: common.Address{1}, ChainID: dom.ChainID}
	if err := VerifyDepositSignature(terms, otherDom, sig); err == nil {
		t.Fatalf("signature accepted for different engine")
	}

	// Signed by someone else.
	otherPriv, _ := testKey(t, "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f")
	otherSig, err := SignDeposit(otherPriv, terms, dom)
	if err != nil {
		t.Fatalf("SignDeposit error: %v", err)
	}
	if err := VerifyDepositSignature(terms, dom, otherSig); err == nil {
		t.Fatalf("signature from non-depositor accepted")
	}

	// The malleated (high-S) twin of a valid signature is rejected.
	n := crypto.S256().Params().N
	s := new(big.Int).SetBytes(sig[32:64])
	highS := new(big.Int).Sub(n, s)
	malleated := common.CopyBytes(sig)
	copy(malleated[32:64], common.LeftPadBytes(highS.Bytes(), 32))
	malleated[64] = 55 - malleated[64] // 27 <-> 28
	if bytes.Equal(malleated, sig) {
		t.Fatalf("malleation did not change the signature")
	}
	if err := VerifyDepositSignature(terms, dom, malleated); err == nil {
		t.Fatalf("high-S signature accepted")
	}

	// Bad lengths and garbage.
	if err := VerifyDepositSignature(terms, dom, sig[:64]); err == nil {
		t.Fatalf("short signature accepted")
	}
	if err := VerifyDepositSignature(terms, dom, make([]byte, 65)); err == nil {
		t.Fatalf("zero signature accepted")
	}
}
