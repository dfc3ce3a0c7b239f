package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/api"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/app"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/cache"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/comments"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/config"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/logging"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/push"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newWatchCommand() *cobra.Command {
	var objectID string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open an object and print its comment thread whenever it changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd.OutOrStdout(), strings.TrimSpace(objectID))
		},
	}

	defaults := config.NewViper()
	flags := cmd.Flags()
	flags.StringVar(&objectID, "object", "", "Object (source) id to watch")
	flags.String("api-base-url", "", "SkyPortal base URL")
	flags.String("api-token", "", "SkyPortal API token")
	flags.String("push-url", "", "Push channel URL (defaults to the websocket endpoint of the base URL)")
	flags.Bool("include-associated", defaults.GetBool("comments.include_associated"), "Merge comments of the object's spectra into the thread")
	flags.Bool("fence-responses", defaults.GetBool("cache.fence_responses"), "Discard responses older than the newest applied one")
	_ = cmd.MarkFlagRequired("object")

	bindFlag(flags, "api.base_url", "api-base-url")
	bindFlag(flags, "api.token", "api-token")
	bindFlag(flags, "push.url", "push-url")
	bindFlag(flags, "comments.include_associated", "include-associated")
	bindFlag(flags, "cache.fence_responses", "fence-responses")
	return cmd
}

func runWatch(ctx context.Context, out io.Writer, objectID string) error {
	if objectID == "" {
		return errors.New("--object is required")
	}
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(clientConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	backend, err := api.NewClient(api.ClientConfig{
		BaseURL: clientConfig.BaseURL,
		Token:   clientConfig.Token,
		Logger:  logger.Named("api"),
	})
	if err != nil {
		return err
	}
	client, err := app.New(app.Config{
		Backend:        backend,
		Logger:         logger,
		FenceResponses: clientConfig.FenceResponses,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Session().Refresh(signalCtx); err != nil {
		return err
	}
	parent := resource.Identity{Kind: resource.KindObject, ID: objectID}
	includeAssociated := clientConfig.IncludeAssociated
	sourceUpdates := client.Sources.Watch(signalCtx)
	spectraUpdates := client.Spectra.Watch(signalCtx)
	if err := client.Open(signalCtx, parent, includeAssociated); err != nil {
		return err
	}
	view := client.ThreadView(parent, includeAssociated)

	socket, err := client.PushChannel(push.Config{
		URL:            clientConfig.PushURL,
		ReconnectDelay: clientConfig.ReconnectDelay,
	})
	if err != nil {
		return err
	}
	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socket.Run(signalCtx)
	}()

	followUpdates(signalCtx, sourceUpdates, spectraUpdates, func() {
		if err := printThread(out, view); err != nil {
			logger.Warn("cannot render thread", zap.String("parent", parent.String()), zap.Error(err))
		}
	})
	<-socketDone
	return nil
}

// followUpdates calls render after every source or spectra replacement until
// ctx ends or both streams are closed.
func followUpdates(ctx context.Context, sourceUpdates <-chan cache.Snapshot[model.Source], spectraUpdates <-chan cache.Snapshot[model.SpectrumList], render func()) {
	for sourceUpdates != nil || spectraUpdates != nil {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sourceUpdates:
			if !ok {
				sourceUpdates = nil
				continue
			}
		case _, ok := <-spectraUpdates:
			if !ok {
				spectraUpdates = nil
				continue
			}
		}
		render()
	}
}

func printThread(out io.Writer, view *comments.ThreadView) error {
	entries, err := view.Entries()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "== %s: %d comments (bots shown: %t)\n", view.Parent(), len(entries), view.ShowBots())
	for _, entry := range entries {
		author := entry.Author.Username
		if entry.FromBot() {
			author += " [bot]"
		}
		fmt.Fprintf(out, "%s  %-20s %s\n", entry.CreatedAt.Format("2006-01-02 15:04:05"), author, entry.Text)
		if entry.HasAttachment() {
			fmt.Fprintf(out, "%22s attachment: %s (%s)\n", "", entry.ShortAttachment, entry.AttachmentCategory)
		}
		if entry.Parent != view.Parent() {
			fmt.Fprintf(out, "%22s on %s\n", "", entry.Parent)
		}
	}
	return nil
}
