// Command indexctl is the operator CLI: it bulk-indexes text files straight
// into the corpus and runs ad-hoc queries without going through the API
// server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/buscadoc/buscadoc/pkg/config"
	"github.com/buscadoc/buscadoc/pkg/logger"
	pkgpostgres "github.com/buscadoc/buscadoc/pkg/postgres"

	"github.com/buscadoc/buscadoc/internal/indexer"
	"github.com/buscadoc/buscadoc/internal/searcher/executor"
	pgstorage "github.com/buscadoc/buscadoc/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	workers := flag.Int("workers", 4, "concurrent indexing workers")
	limit := flag.Int("limit", 10, "max results for search")
	debug := flag.Bool("debug", false, "include the evaluation trace in search output")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	if err := run(*configPath, *workers, *limit, *debug, flag.Args()); err != nil {
		slog.Error("indexctl failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  indexctl [flags] index <file-or-dir> [...]
  indexctl [flags] search <query>`)
	flag.PrintDefaults()
}

func run(configPath string, workers, limit int, debug bool, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Setup(cfg.Logging.Level, "text")

	pgClient, err := pkgpostgres.New(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pgClient.Close()

	ctx := context.Background()
	store := pgstorage.New(pgClient)
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}

	switch args[0] {
	case "index":
		if len(args) < 2 {
			usage()
			return fmt.Errorf("index needs at least one path")
		}
		return indexPaths(ctx, store, cfg.Indexer.SnippetLength, workers, args[1:])
	case "search":
		if len(args) < 2 {
			usage()
			return fmt.Errorf("search needs a query")
		}
		return search(ctx, store, cfg.Search.MaxResults, strings.Join(args[1:], " "), limit, debug)
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// indexPaths indexes every .txt file under the given paths with a bounded
// worker pool. A failing file is reported and skipped; the rest continue.
func indexPaths(ctx context.Context, store *pgstorage.Store, snippetLen, workers int, paths []string) error {
	files, err := collectTxtFiles(paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .txt files found under %v", paths)
	}

	ix := indexer.New(store, snippetLen)
	log := logger.WithComponent("indexctl")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range files {
		g.Go(func() error {
			docID, err := ix.IndexFile(gctx, path)
			if err != nil {
				log.Error("skipped", "file", path, "error", err)
				return nil
			}
			log.Info("indexed", "file", path, "doc_id", docID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("bulk index finished", "files", len(files))
	return nil
}

func collectTxtFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".txt") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func search(ctx context.Context, store *pgstorage.Store, maxResults int, query string, limit int, debug bool) error {
	ex := executor.New(store, maxResults)
	resp, err := ex.Search(ctx, query, limit, debug)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
