// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// bindsig signs deposit terms with a depositor key, producing the signature
// that binds a deposit to a collection, settlement token and price range.
package main

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jessevdk/go-flags"
	"github.com/morphaNFT/marker-maker/dex"
	"github.com/morphaNFT/marker-maker/dex/encode"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
)

type config struct {
	KeyFile    string `short:"k" long:"keyfile" description:"File holding the hex-encoded depositor private key." required:"true"`
	Engine     string `short:"e" long:"engine" description:"Engine address." required:"true"`
	Net        string `short:"n" long:"net" description:"Network {mainnet, testnet, simnet}. Ignored if chainid is set." default:"mainnet"`
	ChainID    int64  `long:"chainid" description:"Chain ID override."`
	Collection string `short:"c" long:"collection" description:"Bound NFT collection address." required:"true"`
	Token      string `short:"t" long:"token" description:"Settlement token address. Omit for the native currency."`
	MinPrice   string `long:"min" description:"Minimum unit price, in atomic units." required:"true"`
	MaxPrice   string `long:"max" description:"Maximum unit price, in atomic units." required:"true"`
}

func parseAddr(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", name, s)
	}
	return common.HexToAddress(s), nil
}

func parsePrice(name, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 || v.BitLen() > 256 {
		return nil, fmt.Errorf("invalid %s price %q", name, s)
	}
	return v, nil
}

// readKey reads a hex-encoded secp256k1 private key.
func readKey(path string) (*ecdsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer encode.ClearBytes(b)
	b = bytes.TrimPrefix(bytes.TrimSpace(b), []byte("0x"))
	keyB := make([]byte, hex.DecodedLen(len(b)))
	defer encode.ClearBytes(keyB)
	if _, err := hex.Decode(keyB, b); err != nil {
		return nil, fmt.Errorf("key file is not hex: %w", err)
	}
	return crypto.ToECDSA(keyB)
}

func (cfg *config) terms(depositor common.Address) (*dexeth.DepositTerms, *dexeth.Domain, error) {
	engine, err := parseAddr("engine", cfg.Engine)
	if err != nil {
		return nil, nil, err
	}
	collection, err := parseAddr("collection", cfg.Collection)
	if err != nil {
		return nil, nil, err
	}
	token := dexeth.NativeToken
	if cfg.Token != "" {
		if token, err = parseAddr("token", cfg.Token); err != nil {
			return nil, nil, err
		}
	}
	minPrice, err := parsePrice("min", cfg.MinPrice)
	if err != nil {
		return nil, nil, err
	}
	maxPrice, err := parsePrice("max", cfg.MaxPrice)
	if err != nil {
		return nil, nil, err
	}
	if minPrice.Cmp(maxPrice) > 0 {
		return nil, nil, errors.New("min price exceeds max price")
	}
	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID <= 0 {
		net, err := dex.NetFromString(cfg.Net)
		if err != nil {
			return nil, nil, err
		}
		if chainID, err = dexeth.ChainID(net); err != nil {
			return nil, nil, err
		}
	}
	return &dexeth.DepositTerms{
			Depositor:  depositor,
			Collection: collection,
			Token:      token,
			MinPrice:   minPrice,
			MaxPrice:   maxPrice,
		}, &dexeth.Domain{
			Engine:  engine,
			ChainID: chainID,
		}, nil
}

func run(args []string, out io.Writer) error {
	cfg := new(config)
	if _, err := flags.NewParser(cfg, flags.Default).ParseArgs(args); err != nil {
		return err
	}
	privKey, err := readKey(cfg.KeyFile)
	if err != nil {
		return err
	}
	depositor := crypto.PubkeyToAddress(privKey.PublicKey)
	terms, dom, err := cfg.terms(depositor)
	if err != nil {
		return err
	}
	sig, err := dexeth.SignDeposit(privKey, terms, dom)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "depositor: %s\n", depositor)
	fmt.Fprintf(out, "chain id:  %s\n", dom.ChainID)
	fmt.Fprintf(out, "signature: 0x%x\n", sig)
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
