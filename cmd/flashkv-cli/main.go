// Command flashkv-cli is a command-line front end for an embedded flashkv
// store, built with github.com/urfave/cli/v3 the way oarkflow-velocity's
// cmd/velocity/main.go wires its db commands.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/flashkv/flashkv"
)

func dbPath() string {
	if path := os.Getenv("FLASHKV_DB_PATH"); path != "" {
		return path
	}
	return "./flashkvdb"
}

func openEngine(c *cli.Command) (*flashkv.Engine, error) {
	return flashkv.Open(c.String("db-path"))
}

func main() {
	app := &cli.Command{
		Name:    "flashkv-cli",
		Usage:   "flashkv command-line interface",
		Version: "1.0.0",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-path",
				Aliases: []string{"d"},
				Usage:   "database directory",
				Value:   dbPath(),
			},
		},

		Commands: []*cli.Command{
			putCommand(),
			getCommand(),
			deleteCommand(),
			scanCommand(),
			flushCommand(),
			compactCommand(),
			clearCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func putCommand() *cli.Command {
	return &cli.Command{
		Name:  "put",
		Usage: "store a key-value pair",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Required: true},
			&cli.StringFlag{Name: "value", Aliases: []string{"v"}, Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.Put([]byte(c.String("key")), []byte(c.String("value"))); err != nil {
				return fmt.Errorf("put failed: %w", err)
			}
			fmt.Fprintf(c.Root().Writer, "ok\n")
			return nil
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:  "get",
		Usage: "retrieve a value by key",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			value, err := e.Get([]byte(c.String("key")))
			if err != nil {
				return fmt.Errorf("get failed: %w", err)
			}
			fmt.Fprintf(c.Root().Writer, "%s\n", value)
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "delete a key",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.Delete([]byte(c.String("key"))); err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
			fmt.Fprintf(c.Root().Writer, "ok\n")
			return nil
		},
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "range scan keys in [start, end]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Required: true},
			&cli.StringFlag{Name: "end", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			it, err := e.Seek([]byte(c.String("start")), []byte(c.String("end")))
			if err != nil {
				return fmt.Errorf("seek failed: %w", err)
			}

			for {
				kv, ok, err := it.Next(ctx)
				if err != nil {
					return fmt.Errorf("scan failed: %w", err)
				}
				if !ok {
					return nil
				}
				fmt.Fprintf(c.Root().Writer, "%s=%s\n", kv.Key, kv.Value)
			}
		},
	}
}

func flushCommand() *cli.Command {
	return &cli.Command{
		Name:  "flush",
		Usage: "flush every sealed memtable to disk",
		Action: func(ctx context.Context, c *cli.Command) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.FlushAll(); err != nil {
				return fmt.Errorf("flush failed: %w", err)
			}
			fmt.Fprintf(c.Root().Writer, "ok\n")
			return nil
		},
	}
}

func compactCommand() *cli.Command {
	return &cli.Command{
		Name:  "compact",
		Usage: "run one compaction pass",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "tombstones", Usage: "run the tombstone-TTL compaction trigger instead"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			if c.Bool("tombstones") {
				if err := e.RunTombstoneCompaction(); err != nil {
					return fmt.Errorf("tombstone compaction failed: %w", err)
				}
			} else if err := e.RunCompaction(); err != nil {
				return fmt.Errorf("compaction failed: %w", err)
			}
			fmt.Fprintf(c.Root().Writer, "ok\n")
			return nil
		},
	}
}

func clearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "wipe every key from the database",
		Action: func(ctx context.Context, c *cli.Command) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.Clear(); err != nil {
				return fmt.Errorf("clear failed: %w", err)
			}
			fmt.Fprintf(c.Root().Writer, "ok\n")
			return nil
		},
	}
}
