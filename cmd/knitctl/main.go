package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/prn-tf/knitstore/internal/config"
	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/knit"
)

func insertOptionsFrom(noStoreSHA string) knit.InsertOptions {
	return knit.InsertOptions{NoStoreSHA: noStoreSHA}
}

func usage() {
	fmt.Fprintf(os.Stderr, `knitctl - knit store command line

Usage:
  knitctl insert [--config=path] [--parent=prefix/version]... <prefix> <version> <file>
  knitctl cat [--config=path] <prefix> <version>
  knitctl annotate [--config=path] <prefix> <version>
  knitctl check [--config=path]
  knitctl export [--config=path] [--dir=path] [--delta-closure] <container-id> <prefix/version>...
  knitctl import [--config=path] [--dir=path] <container-id>
  knitctl serve [--config=path] [--metrics-addr=:9090]

<prefix> and <version> form a key's components; a multi-component prefix
is written slash-separated (a/b/version). If <version> is "-", a
content-addressed version id is generated from the file's digest.

export/import move records between stores through a sealed container file
plus a JSON manifest instead of a live connection; <prefix/version> is the
same slash-joined key form used elsewhere.
`)
}

// stringSlice accumulates repeated --parent=... flag occurrences.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }
func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// parseKey splits a slash-separated key string into its components.
func parseKey(s string) domain.Key {
	return domain.Key(strings.Split(s, "/"))
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "insert":
		err = runInsert(args)
	case "cat":
		err = runCat(args)
	case "annotate":
		err = runAnnotate(args)
	case "check":
		err = runCheck(args)
	case "export":
		err = runExport(args)
	case "import":
		err = runImport(args)
	case "serve":
		err = runServe(args)
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "knitctl: unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "knitctl: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runInsert(args []string) error {
	fs := flag.NewFlagSet("insert", flag.ExitOnError)
	configPath := fs.String("config", "knitctl.yaml", "path to knitctl.yaml")
	noStoreSHA := fs.String("no-store-sha", "", "skip insert if this matches the content's SHA-1")
	var parents stringSlice
	fs.Var(&parents, "parent", "parent key (prefix/version), repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		return fmt.Errorf("insert: expected <prefix> <version> <file>")
	}
	prefix := parseKey(fs.Arg(0))
	versionID := fs.Arg(1)
	if versionID == "-" {
		versionID = ""
	}
	path := fs.Arg(2)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("insert: read %s: %w", path, err)
	}
	lines := splitLines(data)

	parentKeys := make([]domain.Key, len(parents))
	for i, p := range parents {
		parentKeys[i] = parseKey(p)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger()
	ctx := context.Background()

	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	defer cleanup.run()

	key, err := store.Insert(ctx, prefix, versionID, parentKeys, lines, insertOptionsFrom(*noStoreSHA))
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	fmt.Println(strings.Join([]string(key), "/"))
	return nil
}

func runCat(args []string) error {
	fs := flag.NewFlagSet("cat", flag.ExitOnError)
	configPath := fs.String("config", "knitctl.yaml", "path to knitctl.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("cat: expected <prefix> <version>")
	}
	key := append(parseKey(fs.Arg(0)), fs.Arg(1))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger()
	ctx := context.Background()

	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	defer cleanup.run()

	fulltext, err := store.GetFulltext(ctx, key)
	if err != nil {
		return fmt.Errorf("cat: %w", err)
	}
	_, err = os.Stdout.Write(fulltext)
	return err
}

func runAnnotate(args []string) error {
	fs := flag.NewFlagSet("annotate", flag.ExitOnError)
	configPath := fs.String("config", "knitctl.yaml", "path to knitctl.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("annotate: expected <prefix> <version>")
	}
	key := append(parseKey(fs.Arg(0)), fs.Arg(1))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger()
	ctx := context.Background()

	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	defer cleanup.run()

	lines, err := store.Annotate(ctx, key)
	if err != nil {
		return fmt.Errorf("annotate: %w", err)
	}
	for _, l := range lines {
		fmt.Printf("%s\t%s", strings.Join([]string(l.Origin), "/"), l.Text)
		if len(l.Text) == 0 || l.Text[len(l.Text)-1] != '\n' {
			fmt.Println()
		}
	}
	return nil
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "knitctl.yaml", "path to knitctl.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger()
	ctx := context.Background()

	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	defer cleanup.run()

	if err := store.Check(ctx); err != nil {
		return fmt.Errorf("check: %w", err)
	}
	fmt.Println("ok")
	return nil
}

// splitLines breaks data into lines, each retaining its trailing LF except
// possibly the last.
func splitLines(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i+1])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
