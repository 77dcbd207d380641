// main.go - Wallet daemon demo: recover an account, sync its note history,
// reserve a deposit slot and build a self-verified withdrawal proof.
//
// With indexer_url configured the daemon runs against a live indexer;
// otherwise it seeds an in-memory oracle with one confirmed deposit so the
// whole allocate/discover/withdraw cycle can be exercised offline.
//
// Usage:
//   shinobid -config config.json -password <session password>

package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	bip39 "github.com/tyler-smith/go-bip39"

	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/allocator"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/discovery"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/field"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/indexer"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/keys"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/notes"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/store"
	"github.com/shinobi-cash/shinobi-mini-app-sub001/internal/withdraw"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the configuration file")
	password := flag.String("password", "", "session password (or SHINOBI_PASSWORD)")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	pw := *password
	if pw == "" {
		pw = os.Getenv("SHINOBI_PASSWORD")
	}
	if pw == "" {
		log.Fatal().Msg("a session password is required")
	}

	if err := run(context.Background(), cfg, *configPath, pw, log); err != nil {
		log.Fatal().Err(err).Msg("daemon failed")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}

func run(ctx context.Context, cfg *Config, configPath, password string, log zerolog.Logger) error {
	// First run generates a mnemonic and persists it back into the config.
	// Losing the mnemonic loses the wallet; everything else is rebuildable.
	if cfg.Mnemonic == "" {
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return err
		}
		mnemonic, err := bip39.NewMnemonic(entropy)
		if err != nil {
			return err
		}
		cfg.Mnemonic = mnemonic
		if err := SaveConfig(cfg, configPath); err != nil {
			return err
		}
		log.Info().Msg("generated new account mnemonic; back up the config file")
	}

	accountKey, err := keys.AccountKeyFromMnemonic(cfg.Mnemonic, "")
	if err != nil {
		return err
	}
	publicKey, err := keys.PublicKeyID(&accountKey)
	if err != nil {
		return err
	}
	log.Info().Str("publicKey", publicKey).Msg("account loaded")

	st, err := openStore(cfg, password)
	if err != nil {
		return err
	}
	defer st.ClearSession()

	var oracle indexer.Oracle
	var labels indexer.LabelFetcher
	demo := cfg.IndexerURL == ""
	if demo {
		mem, err := seedDemoOracle(&accountKey, cfg.PoolAddress)
		if err != nil {
			return err
		}
		oracle, labels = mem, mem
		log.Info().Msg("no indexer configured, running against a seeded in-memory oracle")
	} else {
		client := indexer.NewClient(cfg.IndexerURL, cfg.GatewayURL, log)
		oracle, labels = client, client
	}

	// Sync note history.
	engine := discovery.New(st, oracle, log)
	result, err := engine.Discover(ctx, &accountKey, cfg.PoolAddress, publicKey,
		discovery.WithProgress(func(p discovery.Progress) {
			log.Debug().Uint64("depositIndex", p.DepositIndex).Int("chains", p.ChainsFound).Msg("discovery progress")
		}))
	if err != nil {
		return err
	}
	log.Info().Int("chains", len(result.NoteChains)).Int("new", result.NewChainsFound).Msg("note history synced")
	for _, chain := range result.NoteChains {
		if tail, ok := chain.Unspent(); ok {
			log.Info().
				Uint64("depositIndex", tail.DepositIndex).
				Uint64("changeIndex", tail.ChangeIndex).
				Str("amount", tail.Amount.String()).
				Msg("unspent note")
		}
	}

	// Reserve the next deposit slot.
	alloc, err := allocator.New(st, oracle, log).AllocateDepositIndex(ctx, &accountKey, cfg.PoolAddress, publicKey)
	if err != nil {
		return err
	}
	log.Info().
		Uint64("depositIndex", alloc.DepositIndex).
		Str("precommitment", alloc.Precommitment.String()).
		Msg("deposit slot reserved; fund it with this precommitment")

	// Build a withdrawal proof for half of the first unspent note.
	note := firstUnspent(result.NoteChains)
	if note == nil {
		log.Info().Msg("no unspent notes, skipping withdrawal")
		return nil
	}

	if err := os.MkdirAll(cfg.KeyDir, 0755); err != nil {
		return err
	}
	proving, err := withdraw.Session(
		filepath.Join(cfg.KeyDir, "withdraw_pk.bin"),
		filepath.Join(cfg.KeyDir, "withdraw_vk.bin"),
	)
	if err != nil {
		return err
	}

	amount := new(big.Int).Rsh(note.Amount, 1)
	if amount.Sign() == 0 {
		log.Info().Msg("unspent note too small to split, skipping withdrawal")
		return nil
	}
	builder := withdraw.NewBuilder(oracle, labels, proving, log)
	bundle, err := builder.BuildProof(ctx, note, amount, withdraw.WithdrawalData{Recipient: "0x000000000000000000000000000000000000dead"}, &accountKey)
	if err != nil {
		return err
	}
	log.Info().
		Int("proofBytes", len(bundle.Proof)).
		Strs("publicSignals", bundle.PublicSignals).
		Str("change", bundle.NewNote.Amount.String()).
		Msg("withdrawal proof built")

	if demo {
		// Simulate on-chain confirmation of the relayed withdrawal and show
		// that the next sync picks up the change note with no local state.
		mem := oracle.(*indexer.MemoryOracle)
		nh, err := note.NullifierHash(&accountKey)
		if err != nil {
			return err
		}
		newCommitment, ok := new(big.Int).SetString(bundle.PublicSignals[6], 10)
		if !ok {
			return fmt.Errorf("malformed new commitment signal %q", bundle.PublicSignals[6])
		}
		mem.MarkSpent(cfg.PoolAddress, &indexer.SpendRecord{
			NullifierHash:   field.ToBig(nh),
			RemainingAmount: bundle.NewNote.Amount,
			TransactionHash: "0xdemo-withdraw",
			BlockNumber:     101,
			Timestamp:       1700000100,
		}, newCommitment)

		result, err = engine.Discover(ctx, &accountKey, cfg.PoolAddress, publicKey)
		if err != nil {
			return err
		}
		for _, chain := range result.NoteChains {
			if tail, ok := chain.Unspent(); ok {
				log.Info().
					Uint64("changeIndex", tail.ChangeIndex).
					Str("amount", tail.Amount.String()).
					Msg("change note discovered after spend")
			}
		}
	}
	return nil
}

// openStore opens the encrypted wallet file and initializes the account
// session. The argon2 salt lives next to the wallet in plaintext; it is not
// secret, only unique.
func openStore(cfg *Config, password string) (*store.Store, error) {
	saltPath := cfg.WalletPath + ".salt"
	salt, err := os.ReadFile(saltPath)
	if os.IsNotExist(err) {
		salt = []byte(cfg.AccountName + "|" + cfg.PoolAddress)
		if err := os.WriteFile(saltPath, salt, 0600); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	st := store.New(store.NewFileBackend(cfg.WalletPath))
	key := store.SessionKeyFromPassword(password, salt)
	if err := st.InitializeAccountSession(cfg.AccountName, key); err != nil {
		return nil, err
	}

	existing, err := st.GetAccount(cfg.AccountName)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if err := st.PutAccount(store.AccountRecord{Name: cfg.AccountName}); err != nil {
			return nil, err
		}
		if err := st.PutSessionMaterial(cfg.AccountName, store.SessionMaterial{Salt: salt, KDF: "argon2id"}); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// seedDemoOracle fakes the on-chain history the daemon would normally read
// from an indexer: one confirmed deposit for this account plus an approved
// label list containing its label.
func seedDemoOracle(accountKey *field.Element, pool string) (*indexer.MemoryOracle, error) {
	mem := indexer.NewMemoryOracle()

	note := notes.Note{
		PoolAddress:  pool,
		DepositIndex: 0,
		ChangeIndex:  0,
		Amount:       big.NewInt(1_000_000),
		Label:        big.NewInt(7001),
	}
	pre, err := note.Precommitment(accountKey)
	if err != nil {
		return nil, err
	}
	commitment, err := note.Commitment(accountKey)
	if err != nil {
		return nil, err
	}
	mem.AddDeposit(pool, &indexer.Deposit{
		Precommitment:   field.ToBig(pre),
		Label:           note.Label,
		Amount:          note.Amount,
		TransactionHash: "0xdemo-deposit",
		BlockNumber:     100,
		Timestamp:       1700000000,
	}, field.ToBig(commitment))

	approved := []*big.Int{big.NewInt(7000), big.NewInt(7001), big.NewInt(7002)}
	aspTree, err := withdraw.NewTree(approved)
	if err != nil {
		return nil, err
	}
	mem.SetLabels("bafydemolabels", field.ToBig(aspTree.Root()), approved)
	mem.SetScope(pool, big.NewInt(31337))
	return mem, nil
}

func firstUnspent(chains []notes.NoteChain) *notes.Note {
	for _, chain := range chains {
		if tail, ok := chain.Unspent(); ok {
			return tail
		}
	}
	return nil
}
