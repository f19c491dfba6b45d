// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"context"
	"crypto/elliptic"
	"crypto/sha256"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/decred/dcrd/certgen"
	"github.com/ethereum/go-ethereum/common"
	"github.com/morphaNFT/marker-maker/dex"
	"github.com/morphaNFT/marker-maker/dex/encode"
	"github.com/morphaNFT/marker-maker/server/admin"
	"github.com/morphaNFT/marker-maker/server/asset/eth"
	"github.com/morphaNFT/marker-maker/server/db"
	"github.com/morphaNFT/marker-maker/server/db/driver/bdb"
	"github.com/morphaNFT/marker-maker/server/db/driver/pg"
	"github.com/morphaNFT/marker-maker/server/escrow"
	"golang.org/x/sync/errgroup"
)

// dbConfig is the driver configuration for the selected DB driver.
func dbConfig(cfg *escrowConf) any {
	if cfg.DBDriver == "pg" {
		return &pg.Config{
			Host:         cfg.DBHost,
			Port:         cfg.DBPort,
			User:         cfg.DBUser,
			Pass:         cfg.DBPass,
			DBName:       cfg.DBName,
			HidePGConfig: cfg.HidePGConfig,
		}
	}
	return &bdb.Config{
		Path: filepath.Join(cfg.DataDir, "escrow.db"),
	}
}

// genCertPair generates a key/cert pair to the paths provided.
func genCertPair(certFile, keyFile string) error {
	log.Infof("Generating TLS certificates...")

	org := "escrowd autogenerated cert"
	validUntil := time.Now().Add(10 * 365 * 24 * time.Hour)
	cert, key, err := certgen.NewTLSCertPair(elliptic.P521(), org,
		validUntil, nil)
	if err != nil {
		return err
	}

	// Write cert and key files.
	if err = os.WriteFile(certFile, cert, 0644); err != nil {
		return err
	}
	if err = os.WriteFile(keyFile, key, 0600); err != nil {
		os.Remove(certFile)
		return err
	}

	log.Infof("Done generating TLS certificates")
	return nil
}

func mainCore(ctx context.Context) error {
	// Parse the configuration file, and setup logger.
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load escrowd config: %w", err)
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Display app version.
	log.Infof("%s version %v (Go version %s)", appName, Version, runtime.Version())
	log.Infof("escrowd starting for network: %s", cfg.Network)

	// Request the admin server password if the admin server is enabled and the
	// password is not set in config.
	var adminSrvAuthSHA [32]byte
	if cfg.AdminSrvOn {
		if len(cfg.AdminSrvPW) == 0 {
			adminSrvAuthSHA, err = admin.PasswordHashPrompt("Admin interface password: ")
			if err != nil {
				return fmt.Errorf("cannot use password: %w", err)
			}
		} else {
			adminSrvAuthSHA = sha256.Sum256(cfg.AdminSrvPW)
			encode.ClearBytes(cfg.AdminSrvPW)
		}
	}

	// Load, or create and save, the operator key.
	if len(cfg.OperatorKeyPW) == 0 {
		cfg.OperatorKeyPW, err = admin.PasswordPrompt("Operator key password: ")
		if err != nil {
			return fmt.Errorf("cannot use password: %w", err)
		}
	}
	privKey, err := operatorKey(cfg.OperatorKeyPath, cfg.OperatorKeyPW, cfg.NewOperatorKey)
	encode.ClearBytes(cfg.OperatorKeyPW)
	if err != nil {
		return err
	}

	closers := dex.NewErrorCloser()
	defer closers.Done(log)

	chain, err := eth.NewChain(ctx, &eth.Config{
		Endpoint:    cfg.EthRPC,
		Network:     cfg.Network,
		PrivateKey:  privKey,
		MaxFeeRate:  cfg.MaxFeeRate,
		MineTimeout: cfg.MineTimeout,
		Logger:      ethLog,
	})
	if err != nil {
		return fmt.Errorf("error connecting to ethereum RPC: %w", err)
	}
	closers.Add(func() error { chain.Close(); return nil })

	engineAddr := chain.Address()
	if cfg.EngineAddress != engineAddr && cfg.EngineAddress != (common.Address{}) {
		return fmt.Errorf("operator key is for %s, but the configured engine address is %s",
			engineAddr, cfg.EngineAddress)
	}
	if bal, err := chain.NativeBalance(ctx); err != nil {
		log.Warnf("Unable to check engine balance: %v", err)
	} else {
		log.Infof("Engine %s holds %s wei", engineAddr, bal)
	}

	archiver, err := db.Open(ctx, cfg.DBDriver, dbConfig(cfg))
	if err != nil {
		return fmt.Errorf("error opening %s database: %w", cfg.DBDriver, err)
	}
	closers.Add(archiver.Close)

	engine, err := escrow.NewEngine(&escrow.Config{
		Address:        engineAddr,
		ChainID:        chain.ChainID(),
		Deployer:       engineAddr,
		ConduitSpender: cfg.ConduitSpender,
		Conduit:        eth.NewConduit(chain, cfg.Seaport),
		Tokens:         chain,
		Native:         chain,
		Deposits:       chain,
		Storage:        archiver,
	})
	if err != nil {
		return err
	}
	roles := engine.Roles().Snapshot()
	log.Infof("Roles: administrator %s, operator %s, deduction agent %s, active = %t",
		roles.Administrator, roles.Operator, roles.DeductionAgent, roles.Active)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.AdminSrvOn {
		if !dex.FileExists(cfg.AdminCert) && !dex.FileExists(cfg.AdminKey) {
			if err := genCertPair(cfg.AdminCert, cfg.AdminKey); err != nil {
				return fmt.Errorf("failed to generate admin server TLS certificates: %w", err)
			}
		}
		adminServer, err := admin.NewServer(&admin.SrvConfig{
			Core:    engine,
			Caller:  engineAddr,
			Addr:    cfg.AdminSrvAddr,
			AuthSHA: adminSrvAuthSHA,
			Cert:    cfg.AdminCert,
			Key:     cfg.AdminKey,
		})
		if err != nil {
			return fmt.Errorf("cannot set up admin server: %w", err)
		}
		g.Go(func() error {
			adminServer.Run(gctx)
			return nil
		})
	}

	// Report storage failures that leave memory ahead of storage, and
	// committed operations with unconfirmed transactions.
	watchLog := cfg.LogMaker.SubLogger("ESCR", "reconcile")
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		var reported error
		for {
			select {
			case <-ticker.C:
				if err := engine.LastErr(); err != nil && err != reported {
					watchLog.Criticalf("Engine state needs reconciliation: %v", err)
					reported = err
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	closers.Success()
	log.Info("The escrow engine is running. Hit CTRL+C to quit...")
	err = g.Wait()

	log.Info("Stopping escrow engine...")
	if cerr := archiver.Close(); cerr != nil {
		log.Errorf("Error closing database: %v", cerr)
	}
	chain.Close()
	log.Info("Bye!")
	return err
}

func main() {
	// Create a context that is canceled when an interrupt or termination
	// signal is received.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mainCore(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
