package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"

	ethKeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/joho/godotenv"
	"github.com/urfave/cli"
	"tokamak-zkrollup/common"
	"tokamak-zkrollup/config"
	"tokamak-zkrollup/crypto"
	dbUtils "tokamak-zkrollup/database"
	"tokamak-zkrollup/log"
	"tokamak-zkrollup/node"
)

const (
	flagCfg     = "cfg"
	flagMode    = "mode"
	flagSK      = "privatekey"
	flagYes     = "yes"
	modeSync    = "sync"
	modeCoord   = "coord"
	nMigrations = "nMigrations"
)

var (
	// version represents the program based on the git tag
	version = "v0.1.0"
)

// Config is the configuration of the node execution
type Config struct {
	mode node.Mode
	node *config.Node
}

func parseCli(c *cli.Context) (*Config, error) {
	cfg, err := getConfig(c)
	if err != nil {
		if err := cli.ShowAppHelp(c); err != nil {
			panic(err)
		}
		return nil, common.Wrap(err)
	}
	return cfg, nil
}

func getConfig(c *cli.Context) (*Config, error) {
	var cfg Config
	mode := c.String(flagMode)
	nodeCfgPath := c.String(flagCfg)
	var err error
	switch mode {
	case modeSync:
		cfg.mode = node.ModeSynchronizer
		cfg.node, err = config.LoadNode(nodeCfgPath, false)
		if err != nil {
			return nil, common.Wrap(err)
		}
	case modeCoord:
		cfg.mode = node.ModeCoordinator
		cfg.node, err = config.LoadNode(nodeCfgPath, true)
		if err != nil {
			return nil, common.Wrap(err)
		}
	default:
		return nil, common.Wrap(fmt.Errorf("invalid mode \"%v\"", mode))
	}

	return &cfg, nil
}

func waitSigInt() {
	stopCh := make(chan interface{})

	// catch ^C to send the stop signal
	ossig := make(chan os.Signal, 1)
	signal.Notify(ossig, os.Interrupt)
	const forceStopCount = 3
	go func() {
		n := 0
		for sig := range ossig {
			if sig == os.Interrupt {
				log.Info("Received Interrupt Signal")
				stopCh <- nil
				n++
				if n == forceStopCount {
					log.Fatalf("Received %v Interrupt Signals", forceStopCount)
				}
			}
		}
	}()
	<-stopCh
}

func cmdRun(c *cli.Context) error {
	cfg, err := parseCli(c)
	if err != nil {
		return common.Wrap(fmt.Errorf("error parsing flags and config: %w", err))
	}
	log.Init(cfg.node.Log.Level, cfg.node.Log.Out)
	innerNode, err := node.NewNode(cfg.mode, cfg.node, c.App.Version)
	if err != nil {
		return common.Wrap(fmt.Errorf("error starting node: %w", err))
	}
	innerNode.Start()
	waitSigInt()
	innerNode.Stop()

	return nil
}

func cmdImportKey(c *cli.Context) error {
	_cfg, err := parseCli(c)
	if err != nil {
		return common.Wrap(fmt.Errorf("error parsing flags and config: %w", err))
	}
	if _cfg.mode != node.ModeCoordinator {
		return common.Wrap(fmt.Errorf("importkey must use mode coordinator"))
	}
	cfg := _cfg.node

	scryptN := ethKeystore.StandardScryptN
	scryptP := ethKeystore.StandardScryptP
	if cfg.Coordinator.Debug.LightScrypt {
		scryptN = ethKeystore.LightScryptN
		scryptP = ethKeystore.LightScryptP
	}
	keyStore := ethKeystore.NewKeyStore(cfg.Coordinator.EthClient.Keystore.Path,
		scryptN, scryptP)
	hexKey := strings.TrimPrefix(c.String(flagSK), "0x")
	sk, err := ethCrypto.HexToECDSA(hexKey)
	if err != nil {
		return common.Wrap(err)
	}
	acc, err := keyStore.ImportECDSA(sk, cfg.Coordinator.EthClient.Keystore.Password)
	if err != nil {
		return common.Wrap(err)
	}
	log.Infow("Imported private key", "addr", acc.Address.Hex())
	return nil
}

func cmdGenBJJ(c *cli.Context) error {
	sk := babyjub.NewRandPrivKey()
	pkh, err := crypto.PubKeyHashFromPublicKey(sk.Public())
	if err != nil {
		return common.Wrap(err)
	}
	pkComp := sk.Public().Compress()
	fmt.Printf("BJJ = \"0x%s\"\n", hex.EncodeToString(pkComp[:]))
	fmt.Printf("BJJPrivateKey = \"0x%s\"\n", hex.EncodeToString(sk[:]))
	fmt.Printf("PubKeyHash = \"0x%s\"\n", hex.EncodeToString(pkh[:]))
	return nil
}

func cmdWipeDBs(c *cli.Context) error {
	_cfg, err := parseCli(c)
	if err != nil {
		return common.Wrap(fmt.Errorf("error parsing flags and config: %w", err))
	}
	cfg := _cfg.node
	yes := c.Bool(flagYes)
	migrationsToRun := c.Uint(nMigrations)
	if !yes {
		fmt.Print("*WARNING* Are you sure you want to wipe the SQL DB and the key-value DBs? " +
			"[y/N]: ")
		var input string
		if _, err := fmt.Scanln(&input); err != nil {
			return common.Wrap(err)
		}
		input = strings.ToLower(input)
		if !(input == "y" || input == "yes") {
			return nil
		}
	}
	db, err := dbUtils.ConnectSQLDB(
		cfg.PostgreSQL.PortWrite,
		cfg.PostgreSQL.HostWrite,
		cfg.PostgreSQL.UserWrite,
		cfg.PostgreSQL.PasswordWrite,
		cfg.PostgreSQL.NameWrite,
	)
	if err != nil {
		return common.Wrap(err)
	}
	log.Info("Wiping SQL DB...")
	if err := dbUtils.MigrationsDown(db.DB, migrationsToRun); err != nil {
		return common.Wrap(fmt.Errorf("dbUtils.MigrationsDown: %w", err))
	}

	paths := []string{cfg.StateDB.Path, cfg.Exodus.Path}
	if _cfg.mode == node.ModeCoordinator {
		paths = append(paths, cfg.Coordinator.TxSelector.Path, cfg.Coordinator.BatchBuilder.Path)
	}
	for _, path := range paths {
		log.Infow("Wiping key-value DB", "path", path)
		if err := os.RemoveAll(path); err != nil {
			return common.Wrap(err)
		}
	}
	return nil
}

// loadDotEnv loads the environment variables of the .env file, if present
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnw("error loading .env file", "err", err)
	}
}

func main() {
	loadDotEnv()

	app := cli.NewApp()
	app.Name = "zkrollup-node"
	app.Version = version

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     flagMode,
			Usage:    fmt.Sprintf("Set node `MODE` (can be \"%v\" or \"%v\")", modeSync, modeCoord),
			Required: true,
		},
		&cli.StringFlag{
			Name:     flagCfg,
			Usage:    "Node configuration `FILE`",
			Required: false,
		},
	}

	app.Commands = []cli.Command{
		{
			Name:    "importkey",
			Aliases: []string{},
			Usage:   "Import ethereum private key",
			Action:  cmdImportKey,
			Flags: append(flags,
				&cli.StringFlag{
					Name:     flagSK,
					Usage:    "ethereum `PRIVATE_KEY` in hex",
					Required: true,
				}),
		},
		{
			Name:    "genbjj",
			Aliases: []string{},
			Usage:   "Generate a new BabyJubJub key and its pubkey hash",
			Action:  cmdGenBJJ,
		},
		{
			Name:    "wipedbs",
			Aliases: []string{},
			Usage: "Wipe the SQL DB (HistoryDB and L2DB) and the key-value DBs, " +
				"leaving the DBs in a clean state",
			Action: cmdWipeDBs,
			Flags: append(flags,
				&cli.BoolFlag{
					Name:  flagYes,
					Usage: "automatic yes to the prompt",
				},
				&cli.UintFlag{
					Name:  nMigrations,
					Usage: "amount of migrations to be done",
				}),
		},
		{
			Name:    "run",
			Aliases: []string{},
			Usage:   "Run the zkrollup-node in the indicated mode",
			Action:  cmdRun,
			Flags:   flags,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Printf("\nError: %v\n", common.Wrap(err))
		os.Exit(1)
	}
}
