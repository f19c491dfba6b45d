// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/ethereum/go-ethereum/common"
	flags "github.com/jessevdk/go-flags"
	"github.com/morphaNFT/marker-maker/dex"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
	"github.com/morphaNFT/marker-maker/server/db"
)

const (
	defaultConfigFilename  = "escrowd.conf"
	defaultLogFilename     = "escrowd.log"
	defaultAdminCertFile   = "admin.cert"
	defaultAdminKeyFile    = "admin.key"
	defaultDataDirname     = "data"
	defaultLogLevel        = "info"
	defaultLogDirname      = "logs"
	defaultMaxLogZips      = 16
	defaultDBDriver        = "bdb"
	defaultPGHost          = "127.0.0.1:5432"
	defaultPGUser          = "escrow"
	defaultPGDBName        = "escrow"
	defaultOperatorKeyFile = "operator.key"
	defaultAdminSrvHost    = "127.0.0.1"
	defaultAdminSrvPort    = "6542"
	defaultMaxFeeRateGwei  = 200
	defaultMineTimeout     = 5 * time.Minute
)

var (
	defaultAppDataDir = dcrutil.AppDataDir("escrowd", false)
)

// escrowConf is the data that is required to run the engine.
type escrowConf struct {
	Network  dex.Network
	DataDir  string
	DBDriver string
	DBName   string
	DBUser   string
	DBPass   string
	DBHost   string
	DBPort   string
	// HidePGConfig blocks logging of the PostgreSQL settings.
	HidePGConfig bool

	EthRPC         string
	MaxFeeRate     *big.Int
	MineTimeout    time.Duration
	Seaport        common.Address
	ConduitSpender common.Address
	// EngineAddress, if set, must match the operator key's address.
	EngineAddress   common.Address
	OperatorKeyPath string
	OperatorKeyPW   []byte
	NewOperatorKey  bool

	AdminSrvOn   bool
	AdminSrvAddr string
	AdminSrvPW   []byte
	AdminCert    string
	AdminKey     string

	LogMaker *dex.LoggerMaker
}

type flagsData struct {
	// General application behavior
	AppDataDir  string `short:"A" long:"appdata" description:"Path to application home directory"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}. Use show to list subsystems."`
	MaxLogZips  int    `long:"maxlogzips" description:"The number of zipped log files created by the log rotator to be retained. Setting to 0 will keep all."`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`

	Testnet bool `long:"testnet" description:"Use the test network (default mainnet)"`
	Simnet  bool `long:"simnet" description:"Use the simulation test network (default mainnet)"`

	EthRPC          string        `long:"ethrpc" description:"Ethereum RPC endpoint. An http(s) or ws(s) URL, or an IPC socket path."`
	MaxFeeRate      uint64        `long:"maxfeerate" description:"The highest fee rate, in gwei per gas, offered for engine transactions. 0 is unlimited."`
	MineTimeout     time.Duration `long:"minetimeout" description:"How long to wait for an engine transaction to be mined."`
	Seaport         string        `long:"seaport" description:"Seaport contract address. Defaults to the canonical deployment on mainnet and testnet."`
	ConduitSpender  string        `long:"conduitspender" description:"Address granted token allowances for settlement. Defaults to the OpenSea conduit on mainnet and testnet."`
	EngineAddress   string        `long:"engineaddr" description:"Expected engine address, checked against the operator key."`
	OperatorKeyPath string        `long:"operatorkey" description:"Path to the encrypted operator key file."`
	OperatorKeyPW   string        `long:"operatorkeypass" description:"Operator key file password. Prompted if not set."`
	NewOperatorKey  bool          `long:"newoperatorkey" description:"Create a new operator key file if none exists."`

	DBDriver     string `long:"dbdriver" description:"Database driver {bdb, pg}."`
	PGDBName     string `long:"pgdbname" description:"PostgreSQL DB name."`
	PGUser       string `long:"pguser" description:"PostgreSQL DB user."`
	PGPass       string `long:"pgpass" description:"PostgreSQL DB password."`
	PGHost       string `long:"pghost" description:"PostgreSQL server host:port or UNIX socket (e.g. /run/postgresql)."`
	HidePGConfig bool   `long:"hidepgconfig" description:"Blocks logging of the PostgreSQL db configuration on system start up."`

	AdminSrvOn   bool   `long:"adminsrvon" description:"Turn on the admin server."`
	AdminSrvAddr string `long:"adminsrvaddr" description:"Administration HTTPS server address (default: 127.0.0.1:6542)."`
	AdminSrvPW   string `long:"adminsrvpass" description:"Admin server password. INSECURE. Do not set unless absolutely necessary."`
	AdminCert    string `long:"admincert" description:"Admin server TLS certificate file. Generated if missing."`
	AdminKey     string `long:"adminkey" description:"Admin server TLS private key file. Generated if missing."`
}

// normalizeNetworkAddress checks for a valid local network address format and
// adds default host and port if not present. Invalidates addresses that include
// a protocol identifier.
func normalizeNetworkAddress(a, defaultHost, defaultPort string) (string, error) {
	if strings.Contains(a, "://") {
		return a, fmt.Errorf("address %s contains a protocol identifier, which is not allowed", a)
	}
	if a == "" {
		return defaultHost + ":" + defaultPort, nil
	}
	host, port, err := net.SplitHostPort(a)
	if err != nil {
		if strings.Contains(err.Error(), "missing port in address") {
			normalized := a + ":" + defaultPort
			host, port, err = net.SplitHostPort(normalized)
			if err != nil {
				return a, fmt.Errorf("unable to address %s after port resolution: %w", normalized, err)
			}
		} else {
			return a, fmt.Errorf("unable to normalize address %s: %w", a, err)
		}
	}
	if host == "" {
		host = defaultHost
	}
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port), nil
}

// parseAddress parses an optional hex address flag. An empty string is the
// fallback, which may be the zero address.
func parseAddress(flag, s string, fallback common.Address) (common.Address, error) {
	if s == "" {
		return fallback, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", flag, s)
	}
	return common.HexToAddress(s), nil
}

// selectNetwork picks the network from the network flags.
func selectNetwork(testnet, simnet bool) (dex.Network, error) {
	switch {
	case testnet && simnet:
		return 0, errors.New("both testnet and simnet flags specified")
	case testnet:
		return dex.Testnet, nil
	case simnet:
		return dex.Simnet, nil
	}
	return dex.Mainnet, nil
}

// absPath makes a relative path relative to dir.
func absPath(dir, path string) string {
	path = dex.CleanAndExpandPath(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// loadConfig initializes and parses the config using a config file and command
// line options.
func loadConfig() (*escrowConf, error) {
	// Default config
	cfg := flagsData{
		AppDataDir: defaultAppDataDir,
		// Defaults for ConfigFile, LogDir, and DataDir are set relative to
		// AppDataDir. They are not to be set here.
		MaxLogZips:      defaultMaxLogZips,
		DebugLevel:      defaultLogLevel,
		DBDriver:        defaultDBDriver,
		PGDBName:        defaultPGDBName,
		PGUser:          defaultPGUser,
		PGHost:          defaultPGHost,
		OperatorKeyPath: defaultOperatorKeyFile,
		MaxFeeRate:      defaultMaxFeeRateGwei,
		MineTimeout:     defaultMineTimeout,
		AdminCert:       defaultAdminCertFile,
		AdminKey:        defaultAdminKeyFile,
	}

	// Pre-parse the command line options to see if an alternative config file
	// or the version flag was specified. Any errors aside from the help message
	// error can be ignored here since they will be caught by the final parse
	// below.
	var preCfg flagsData // zero values as defaults
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// Special show command to list supported subsystems and exit.
	if preCfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// If a non-default appdata folder is specified on the command line, it may
	// be necessary adjust the config file location. If the config file location
	// was not specified on the command line, the default location should be
	// under the non-default appdata directory.
	if preCfg.AppDataDir != "" {
		cfg.AppDataDir, err = filepath.Abs(dex.CleanAndExpandPath(preCfg.AppDataDir))
		if err != nil {
			return nil, fmt.Errorf("unable to determine working directory: %w", err)
		}
	}
	isDefaultConfigFile := preCfg.ConfigFile == ""
	if isDefaultConfigFile {
		preCfg.ConfigFile = filepath.Join(cfg.AppDataDir, defaultConfigFilename)
	} else {
		preCfg.ConfigFile = absPath(cfg.AppDataDir, preCfg.ConfigFile)
	}

	// Config file name for logging.
	configFile := "NONE (defaults)"

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := os.Stat(preCfg.ConfigFile); os.IsNotExist(err) {
		// Non-default config file must exist.
		if !isDefaultConfigFile {
			return nil, err
		}
		// Warn about missing default config file, but continue.
		fmt.Printf("Config file (%s) does not exist. Using defaults.\n",
			preCfg.ConfigFile)
	} else {
		// The config file exists, so attempt to parse it.
		err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
		if err != nil {
			parser.WriteHelp(os.Stderr)
			return nil, err
		}
		configFile = preCfg.ConfigFile
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.Parse()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, err
	}

	network, err := selectNetwork(cfg.Testnet, cfg.Simnet)
	if err != nil {
		return nil, err
	}

	// Create the app data directory if it doesn't already exist.
	if err = os.MkdirAll(cfg.AppDataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}

	// Data and logs are namespaced per network.
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDirname
	}
	cfg.DataDir = filepath.Join(absPath(cfg.AppDataDir, cfg.DataDir), network.String())
	if err = os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	if cfg.LogDir == "" {
		cfg.LogDir = defaultLogDirname
	}
	cfg.LogDir = filepath.Join(absPath(cfg.AppDataDir, cfg.LogDir), network.String())

	// Initialize log rotation. After log rotation has been initialized, the
	// logger variables may be used. This creates the LogDir if needed.
	if cfg.MaxLogZips < 0 {
		cfg.MaxLogZips = 0
	}
	if err = initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename), cfg.MaxLogZips); err != nil {
		return nil, err
	}

	// Parse, validate, and set debug log level(s).
	logMaker, err := parseAndSetDebugLevels(cfg.DebugLevel)
	if err != nil {
		parser.WriteHelp(os.Stderr)
		return nil, err
	}

	log.Infof("App data folder: %s", cfg.AppDataDir)
	log.Infof("Data folder:     %s", cfg.DataDir)
	log.Infof("Log folder:      %s", cfg.LogDir)
	log.Infof("Config file:     %s", configFile)

	if cfg.EthRPC == "" {
		return nil, errors.New("no ethereum RPC endpoint (ethrpc) configured")
	}
	seaport, err := parseAddress("seaport", cfg.Seaport, dexeth.SeaportAddresses[network])
	if err != nil {
		return nil, err
	}
	if seaport == (common.Address{}) {
		return nil, fmt.Errorf("no seaport address configured for %s", network)
	}
	spender, err := parseAddress("conduit spender", cfg.ConduitSpender, dexeth.ConduitAddresses[network])
	if err != nil {
		return nil, err
	}
	if spender == (common.Address{}) {
		return nil, fmt.Errorf("no conduit spender address configured for %s", network)
	}
	engineAddr, err := parseAddress("engine", cfg.EngineAddress, common.Address{})
	if err != nil {
		return nil, err
	}

	if !slices.Contains(db.Drivers(), cfg.DBDriver) {
		return nil, fmt.Errorf("unknown DB driver %q, have %v", cfg.DBDriver, db.Drivers())
	}

	var dbPort string
	dbHost := cfg.PGHost
	// For UNIX sockets, do not attempt to parse out a port.
	if !strings.HasPrefix(dbHost, "/") {
		dbHost, dbPort, err = net.SplitHostPort(cfg.PGHost)
		if err != nil {
			return nil, fmt.Errorf("invalid DB host %q: %w", cfg.PGHost, err)
		}
	}

	adminSrvAddr := cfg.AdminSrvAddr
	if cfg.AdminSrvOn {
		adminSrvAddr, err = normalizeNetworkAddress(cfg.AdminSrvAddr, defaultAdminSrvHost, defaultAdminSrvPort)
		if err != nil {
			return nil, err
		}
	}

	var maxFeeRate *big.Int
	if cfg.MaxFeeRate > 0 {
		maxFeeRate = new(big.Int).Mul(new(big.Int).SetUint64(cfg.MaxFeeRate), big.NewInt(1e9))
	}

	return &escrowConf{
		Network:         network,
		DataDir:         cfg.DataDir,
		DBDriver:        cfg.DBDriver,
		DBName:          cfg.PGDBName,
		DBUser:          cfg.PGUser,
		DBPass:          cfg.PGPass,
		DBHost:          dbHost,
		DBPort:          dbPort,
		HidePGConfig:    cfg.HidePGConfig,
		EthRPC:          cfg.EthRPC,
		MaxFeeRate:      maxFeeRate,
		MineTimeout:     cfg.MineTimeout,
		Seaport:         seaport,
		ConduitSpender:  spender,
		EngineAddress:   engineAddr,
		OperatorKeyPath: absPath(cfg.AppDataDir, cfg.OperatorKeyPath),
		OperatorKeyPW:   []byte(cfg.OperatorKeyPW),
		NewOperatorKey:  cfg.NewOperatorKey,
		AdminSrvOn:      cfg.AdminSrvOn,
		AdminSrvAddr:    adminSrvAddr,
		AdminSrvPW:      []byte(cfg.AdminSrvPW),
		AdminCert:       absPath(cfg.AppDataDir, cfg.AdminCert),
		AdminKey:        absPath(cfg.AppDataDir, cfg.AdminKey),
		LogMaker:        logMaker,
	}, nil
}
