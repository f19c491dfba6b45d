// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/morphaNFT/marker-maker/dex/encode"
	"github.com/morphaNFT/marker-maker/dex/encrypt"
)

// operatorKey loads the encrypted operator key, creating it first if create is
// set and no key file exists.
func operatorKey(path string, pass []byte, create bool) (*ecdsa.PrivateKey, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if !create {
			return nil, fmt.Errorf("no operator key file at %s. use --newoperatorkey to create one", path)
		}
		log.Infof("Creating new operator key file at %s...", path)
		privKey, err := createAndStoreKey(path, pass)
		if err != nil {
			return nil, fmt.Errorf("failed to create operator key file %s: %w", path, err)
		}
		return privKey, nil
	}
	log.Infof("Loading operator key from %s...", path)
	privKey, err := loadKeyFile(path, pass)
	if err != nil {
		return nil, fmt.Errorf("failed to load operator key from file %s: %w", path, err)
	}
	return privKey, nil
}

func loadKeyFile(path string, pass []byte) (*ecdsa.PrivateKey, error) {
	keyFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	keyB, err := encrypt.DecryptKeyFile(pass, keyFile)
	if err != nil {
		return nil, err
	}
	defer encode.ClearBytes(keyB)
	return crypto.ToECDSA(keyB)
}

func createAndStoreKey(path string, pass []byte) (*ecdsa.PrivateKey, error) {
	// Disallow an empty password.
	if len(pass) == 0 {
		return nil, errors.New("empty password")
	}

	privKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate operator key: %w", err)
	}
	keyB := crypto.FromECDSA(privKey)
	defer encode.ClearBytes(keyB)
	keyFile, err := encrypt.EncryptKeyFile(pass, keyB)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt operator key: %w", err)
	}
	// Check a round trip with this key data.
	reKey, err := encrypt.DecryptKeyFile(pass, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt operator key: %w", err)
	}
	encode.ClearBytes(reKey)

	// O_EXCL so an existing key file is never overwritten.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}
	if _, err = f.Write(keyFile); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err = f.Close(); err != nil {
		return nil, err
	}
	return privKey, nil
}
