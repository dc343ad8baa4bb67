// cmd/batch/main.go
package main

import (
	"chatbot/config"
	"chatbot/logger"
	"chatbot/services"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// 保存が連続したときにまとめて1回だけ再取り込みする
const watchDebounce = 500 * time.Millisecond

type app struct {
	cfg *config.Config
	log *logger.Logger
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "batch",
		Short:         "Ingest site documents and inspect tenants",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogMode)
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, log.With("cmd", cmd.Name())
			return nil
		},
	}
	root.AddCommand(a.ingestCmd(), a.sitesCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) ingestCmd() *cobra.Command {
	var (
		file  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk, embed and store documents from a JSON Lines file",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.log.Sync()
			ctx := cmd.Context()

			embedder, err := services.NewOpenAIService(services.OpenAIOptions{
				APIKey:  a.cfg.OpenAIKey,
				BaseURL: a.cfg.OpenAIBaseURL,
				Model:   a.cfg.ChatModel,
			}, a.log)
			if err != nil {
				return err
			}
			store, closeStore, err := services.OpenDocumentStore(a.cfg, embedder)
			if err != nil {
				return err
			}
			defer closeStore()

			indexer := services.NewIndexer(embedder, store, a.log)
			if err := ingestFile(ctx, indexer, file); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return watchFile(ctx, file, a.log, func() {
				if err := ingestFile(ctx, indexer, file); err != nil {
					a.log.Error("re-ingest failed", "file", file, "error", err)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON Lines file with {siteId, url, title, content} per line")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-ingest whenever the file is written")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) sitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List sites in the record store",
		RunE: func(cmd *cobra.Command, args []string) error {
			sites := services.OpenSiteStore(a.cfg, nil)
			if sites == nil {
				return errors.New("SUPABASE_URL and SUPABASE_SERVICE_KEY are required to list sites")
			}
			list, err := sites.ListSites(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range list {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", s.ID, s.Status, s.Name, s.URL)
			}
			return nil
		},
	}
}

func ingestFile(ctx context.Context, indexer *services.Indexer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open input")
	}
	defer f.Close()

	docs, err := services.ReadDocuments(f)
	if err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	_, err = indexer.Index(ctx, docs)
	return err
}

// watchFile はファイルのあるディレクトリを監視する（エディタの置き換え保存にも反応させるため）
func watchFile(ctx context.Context, path string, log *logger.Logger, onChange func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "resolve path")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrap(err, "watch directory")
	}
	log.Info("watching for changes", "file", abs)

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(watchDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", "error", err)
		case <-timer.C:
			log.Info("file changed, re-ingesting", "file", abs)
			onChange()
		}
	}
}
