package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/holisticode/exec-tracer/common"
	"github.com/holisticode/exec-tracer/database"
	"github.com/holisticode/exec-tracer/replay"
	"github.com/holisticode/exec-tracer/snapshot"
	"github.com/urfave/cli/v2" // imports as package "cli"
)

var (
	logFlags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "log-json",
			Value:   false,
			Usage:   "log in JSON format",
			EnvVars: []string{"LOG_JSON"},
		},
		&cli.BoolFlag{
			Name:    "log-debug",
			Value:   false,
			Usage:   "log debug messages",
			EnvVars: []string{"LOG_DEBUG"},
		},
	}

	dbFlag = &cli.StringFlag{
		Name:    "db-connection-string",
		Usage:   "postgres database backend holding the uploaded snapshots",
		EnvVars: []string{"DB_CONNECTION_STRING"},
	}
	blockFlag = &cli.Uint64Flag{
		Name:  "block",
		Usage: "block index of a stored snapshot, read from the database instead of a file",
	}
)

func main() {
	app := &cli.App{
		Name:  "replay",
		Usage: "Inspect state snapshots and verify them against a ledger",
		Flags: logFlags,
		Commands: []*cli.Command{
			{
				Name:      "inspect",
				Usage:     "decode a snapshot file and print its summary",
				ArgsUsage: "<snapshot>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "entries", Usage: "print the entries as well"},
				},
				Action: inspect,
			},
			{
				Name:      "verify",
				Usage:     "check a snapshot against the ledger and apply it to an in-memory store",
				ArgsUsage: "[snapshot]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "rpc-endpoint",
						Usage:    "ledger JSON-RPC endpoint",
						EnvVars:  []string{"RPC_ENDPOINT"},
						Required: true,
					},
					&cli.Uint64Flag{
						Name:  "height",
						Usage: "expected block index, checked against the declared one",
					},
					dbFlag,
					blockFlag,
				},
				Action: verify,
			},
			{
				Name:  "export",
				Usage: "write a stored snapshot to a file",
				Flags: []cli.Flag{
					dbFlag,
					blockFlag,
					&cli.StringFlag{Name: "out", Usage: "destination file", Required: true},
					&cli.StringFlag{
						Name:  "format",
						Value: string(snapshot.FormatBinary),
						Usage: "file format: binary or json",
					},
				},
				Action: export,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupLogger(cCtx *cli.Context) *slog.Logger {
	return common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool("log-debug"),
		JSON:    cCtx.Bool("log-json"),
		Service: "replay",
		Version: common.Version,
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type summary struct {
	Path       string           `json:"path,omitempty"`
	Format     snapshot.Format  `json:"format"`
	BlockIndex uint32           `json:"blockIndex"` //nolint:tagliatelle
	BlockHash  string           `json:"blockHash"`  //nolint:tagliatelle
	EntryCount int              `json:"entryCount"` //nolint:tagliatelle
	Entries    []snapshot.Entry `json:"entries,omitempty"`
}

func inspect(cCtx *cli.Context) error {
	path := cCtx.Args().First()
	if path == "" {
		return errors.New("missing snapshot path")
	}
	loaded, err := snapshot.Load(path)
	if err != nil {
		return err
	}
	s := summary{Path: path, Format: loaded.Format, BlockIndex: loaded.BlockIndex()}
	var entries []snapshot.Entry
	if loaded.Binary != nil {
		entries = loaded.Binary.Entries
	} else {
		s.BlockHash = loaded.Text.Hash
		if entries, err = loaded.Text.Entries(); err != nil {
			return err
		}
	}
	s.EntryCount = len(entries)
	if cCtx.Bool("entries") {
		s.Entries = entries
	}
	return printJSON(s)
}

// loadStored reads the snapshot of --block from the database.
func loadStored(ctx context.Context, cCtx *cli.Context, log *slog.Logger) (*database.StoredSnapshot, error) {
	dsn := cCtx.String("db-connection-string")
	if dsn == "" {
		return nil, errors.New("--block needs --db-connection-string")
	}
	storage, err := database.NewStorage(dsn, log)
	if err != nil {
		return nil, err
	}
	defer storage.Close()
	index := uint32(cCtx.Uint64("block"))
	stored, err := storage.GetSnapshot(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("snapshot of block %d: %w", index, err)
	}
	return stored, nil
}

func verify(cCtx *cli.Context) error {
	log := setupLogger(cCtx)
	ctx, cancel := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var loaded *snapshot.Loaded
	if cCtx.IsSet("block") {
		stored, err := loadStored(ctx, cCtx, log)
		if err != nil {
			return err
		}
		if loaded, err = stored.Load(); err != nil {
			return err
		}
	} else {
		path := cCtx.Args().First()
		if path == "" {
			return errors.New("missing snapshot path or --block")
		}
		var err error
		if loaded, err = snapshot.Load(path); err != nil {
			return err
		}
	}

	var height *uint32
	if cCtx.IsSet("height") {
		h := uint32(cCtx.Uint64("height"))
		height = &h
	}

	store := replay.NewMemoryStore()
	verifier := replay.NewVerifier(replay.NewRPCLedger(cCtx.String("rpc-endpoint")), store, log)
	res, err := verifier.Verify(ctx, loaded, height)
	if res != nil {
		if perr := printJSON(res); perr != nil {
			log.Error("failed to print result", "err", perr)
		}
	}
	if err != nil {
		return err
	}
	log.Info("snapshot applied", "block", res.BlockIndex, "entries", res.Entries, "keys", store.Len())
	return nil
}

func export(cCtx *cli.Context) error {
	log := setupLogger(cCtx)
	if !cCtx.IsSet("block") {
		return errors.New("missing --block")
	}
	stored, err := loadStored(cCtx.Context, cCtx, log)
	if err != nil {
		return err
	}
	loaded, err := stored.Load()
	if err != nil {
		return err
	}
	f := loaded.Binary
	if f == nil {
		entries, err := loaded.Text.Entries()
		if err != nil {
			return err
		}
		f = &snapshot.File{BlockIndex: loaded.Text.Block, Entries: entries}
	}
	out := cCtx.String("out")
	if err := snapshot.WriteFile(out, f, snapshot.Format(cCtx.String("format")), stored.BlockHash); err != nil {
		return err
	}
	log.Info("snapshot exported", "block", f.BlockIndex, "entries", len(f.Entries), "path", out)
	return nil
}
