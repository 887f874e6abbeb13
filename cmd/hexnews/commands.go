package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/projection"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/seed"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the feed API and synchronize periodically",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization round and persist the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.indexer.SyncOnce(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "round %s: %d users, %d posts, %d votes (%d new posts) in %s\n",
				result.RoundID, result.Users, result.Posts, result.Votes, result.NewPosts, result.Duration)
			return err
		},
	}
}

func newGenDataCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gendata",
		Short: "Write the demo community into the configured log backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetString("sync.root_address") == "" {
				viper.Set("sync.root_address", seed.RootAddress())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.config.RootAddress != seed.RootAddress() {
				app.logger.Warn("configured root differs from the demo community root",
					zap.String("configured", app.config.RootAddress),
					zap.String("demo_root", seed.RootAddress()))
			}
			generated, err := seed.Generate(cmd.Context(), app.backend, app.syncOptions())
			if err != nil {
				return err
			}
			for _, member := range seed.Members {
				if err := app.nicknames.Set(cmd.Context(), member.Address, member.Nick); err != nil {
					return err
				}
			}
			if _, err := app.indexer.SyncOnce(cmd.Context()); err != nil {
				return err
			}
			app.logger.Info("demo community written",
				zap.Int("users", len(generated.Users)),
				zap.Int("posts", len(generated.Posts)),
				zap.Int("votes", len(generated.Votes)))
			return nil
		},
	}
}

func newPostCommand() *cobra.Command {
	var (
		address string
		title   string
		link    string
		text    string
		parent  string
	)
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Append a story or comment to an identity's log",
		RunE: func(cmd *cobra.Command, args []string) error {
			normalized, err := feed.NormalizeAddress(address)
			if err != nil {
				return err
			}
			if link != "" && text != "" {
				return fmt.Errorf("--link and --text are mutually exclusive")
			}
			app, err := bootstrap(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			hint := projection.NextLogIndex(app.indexer.Current(), normalized)
			update := feed.PostUpdate{Title: title, Link: link, Text: text, Parent: parent}
			index, err := app.publisher.Publish(cmd.Context(), feed.Identity{Address: normalized}, update, hint)
			if err != nil {
				return err
			}
			app.logger.Info("update published",
				zap.String("address", normalized),
				zap.Int("index", index),
				zap.String("post_id", feed.PostID(update)))
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "Identity address that owns the log")
	cmd.Flags().StringVar(&title, "title", "", "Story title")
	cmd.Flags().StringVar(&link, "link", "", "Story link")
	cmd.Flags().StringVar(&text, "text", "", "Story or comment text")
	cmd.Flags().StringVar(&parent, "parent", "", "Parent post id for comments")
	if err := cmd.MarkFlagRequired("address"); err != nil {
		panic(err)
	}
	return cmd
}

func runServer(ctx context.Context) error {
	dispatcher := server.NewRealtimeDispatcher()
	app, err := bootstrap(ctx, server.AnnounceRound(dispatcher, time.Now))
	if err != nil {
		return err
	}
	defer app.Close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Snapshots:     app.indexer,
		Publisher:     app.publisher,
		Logs:          app.backend,
		Nicknames:     app.nicknames,
		Dispatcher:    dispatcher,
		Metrics:       app.metrics.Handler(),
		FrontPageSize: app.config.FrontPageSize,
		Logger:        app.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    app.config.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if app.config.SyncInterval > 0 {
		go func() {
			if err := app.indexer.Run(signalCtx, app.config.SyncInterval); err != nil && !errors.Is(err, context.Canceled) {
				app.logger.Error("sync loop stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server starting", zap.String("address", app.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
