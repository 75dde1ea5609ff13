package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/samber/do"
	"github.com/serroba/resume-tracker/internal/analytics"
	"github.com/serroba/resume-tracker/internal/artifact"
	"github.com/serroba/resume-tracker/internal/container"
	"github.com/serroba/resume-tracker/internal/ledger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// linksCLI runs management commands directly against the configured ledger and artifact store.
type linksCLI struct {
	ledger    *ledger.Ledger
	artifacts artifact.Store
	publish   analytics.Publishers
	baseURL   string
	logger    *zap.Logger
	in        io.Reader
	out       io.Writer
}

func (c *linksCLI) list() error {
	links := c.ledger.ListLinks()
	if len(links) == 0 {
		_, err := fmt.Fprintln(c.out, "no tracked links")

		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVIEWS\tLAST VIEWED\tCREATED")

	for _, link := range links {
		lastViewed := "-"
		if link.LastViewedAt != nil {
			lastViewed = link.LastViewedAt.Format(time.RFC3339)
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			link.ID, link.DisplayName, link.ViewCount, lastViewed, link.CreatedAt.Format(time.RFC3339))
	}

	return w.Flush()
}

func (c *linksCLI) show(id string) error {
	link, err := c.ledger.GetLink(ledger.LinkID(id))
	if err != nil {
		return err
	}

	doc := struct {
		ledger.TrackedLink

		ShareURL string `json:"shareUrl"`
	}{TrackedLink: link, ShareURL: fmt.Sprintf("%s/r/%s", strings.TrimRight(c.baseURL, "/"), link.ID)}

	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")

	return enc.Encode(doc)
}

func (c *linksCLI) remove(ctx context.Context, id string, deleteArtifact bool) error {
	link, err := c.ledger.GetLink(ledger.LinkID(id))
	if err != nil {
		return err
	}

	if err := c.ledger.DeleteLink(ctx, link.ID); err != nil {
		return err
	}

	artifactDeleted := false

	if deleteArtifact {
		if err := c.artifacts.Delete(ctx, link.ArtifactRef); err != nil && !errors.Is(err, artifact.ErrNotFound) {
			return fmt.Errorf("link deleted but artifact %s was not: %w", link.ArtifactRef, err)
		}

		artifactDeleted = true
	}

	err = c.publish.LinkDeleted(ctx, &analytics.LinkDeletedEvent{
		LinkID:          string(link.ID),
		ArtifactRef:     link.ArtifactRef,
		ArtifactDeleted: artifactDeleted,
		ViewCount:       link.ViewCount,
		DeletedAt:       time.Now().UTC(),
	})
	if err != nil {
		c.logger.Warn("failed to publish analytics event", zap.String("link_id", string(link.ID)), zap.Error(err))
	}

	_, err = fmt.Fprintf(c.out, "deleted %s (%d views)\n", link.ID, link.ViewCount)

	return err
}

func (c *linksCLI) wipe(ctx context.Context) error {
	confirmation := c.ledger.RequestDeleteAll()

	fmt.Fprintf(c.out, "This deletes %d links and their view history. Artifacts are kept.\n", c.ledger.Len())
	fmt.Fprintf(c.out, "Confirmation token (valid until %s):\n%s\n", confirmation.ExpiresAt.Format(time.RFC3339), confirmation.Token)
	fmt.Fprint(c.out, "Type the token to proceed: ")

	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	deleted, err := c.ledger.DeleteAll(ctx, strings.TrimSpace(line))
	if errors.Is(err, ledger.ErrInvalidInput) {
		return fmt.Errorf("wipe aborted: %w", err)
	}

	if err != nil {
		return err
	}

	err = c.publish.LedgerWiped(ctx, &analytics.LedgerWipedEvent{Deleted: deleted, WipedAt: time.Now().UTC()})
	if err != nil {
		c.logger.Warn("failed to publish analytics event", zap.Int("deleted", deleted), zap.Error(err))
	}

	_, err = fmt.Fprintf(c.out, "deleted %d links\n", deleted)

	return err
}

// withLinks wires the ledger for one command invocation and exits non-zero when fn fails.
func withLinks(cmd *cobra.Command, opts *container.Options, fn func(*linksCLI) error) {
	injector := do.New()
	do.ProvideValue(injector, opts)
	container.LoggerPackage(injector)
	container.RedisPackage(injector)
	container.PostgresPackage(injector)
	container.LedgerPackage(injector)
	container.ArtifactPackage(injector)
	container.MetricsPackage(injector)
	container.EventBusPackage(injector)
	container.PublisherGroupPackage(injector)

	err := runLinks(cmd, injector, opts, fn)

	logger := do.MustInvoke[*zap.Logger](injector)

	if shutdownErr := injector.Shutdown(); shutdownErr != nil {
		logger.Warn("shutdown error", zap.Error(shutdownErr))
	}

	_ = do.MustInvoke[*container.Closers](injector).Close()
	_ = logger.Sync()

	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		os.Exit(1)
	}
}

func runLinks(cmd *cobra.Command, injector *do.Injector, opts *container.Options, fn func(*linksCLI) error) error {
	l, err := do.Invoke[*ledger.Ledger](injector)
	if err != nil {
		return err
	}

	artifacts, err := do.Invoke[artifact.Store](injector)
	if err != nil {
		return err
	}

	// Only a shared bus has readers outside this process.
	publish := analytics.DiscardPublishers()
	if opts.EventBus == container.BackendRedis {
		if publish, err = do.Invoke[analytics.Publishers](injector); err != nil {
			return err
		}
	}

	return fn(&linksCLI{
		ledger:    l,
		artifacts: artifacts,
		publish:   publish,
		baseURL:   opts.PublicURL(),
		logger:    do.MustInvoke[*zap.Logger](injector).Named("links"),
		in:        cmd.InOrStdin(),
		out:       cmd.OutOrStdout(),
	})
}

func linksCommand() *cobra.Command {
	links := &cobra.Command{
		Use:   "links",
		Short: "Inspect and manage tracked links",
		Long: "Inspect and manage tracked links directly in the configured ledger backend.\n" +
			"A running server keeps its own copy of the ledger loaded at start, so stop it before\n" +
			"deleting links or wiping the ledger from here.",
	}

	links.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tracked links with their view counts",
		Args:  cobra.NoArgs,
		Run: humacli.WithOptions(func(cmd *cobra.Command, _ []string, opts *container.Options) {
			withLinks(cmd, opts, func(c *linksCLI) error { return c.list() })
		}),
	})

	links.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a link with its full view history",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *container.Options) {
			withLinks(cmd, opts, func(c *linksCLI) error { return c.show(args[0]) })
		}),
	})

	var deleteArtifact bool

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a link and its view history",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *container.Options) {
			withLinks(cmd, opts, func(c *linksCLI) error {
				return c.remove(cmd.Context(), args[0], deleteArtifact)
			})
		}),
	}
	deleteCmd.Flags().BoolVar(&deleteArtifact, "delete-artifact", false, "Also remove the stored artifact")
	links.AddCommand(deleteCmd)

	links.AddCommand(&cobra.Command{
		Use:   "wipe",
		Short: "Delete every link after re-typing a confirmation token",
		Args:  cobra.NoArgs,
		Run: humacli.WithOptions(func(cmd *cobra.Command, _ []string, opts *container.Options) {
			withLinks(cmd, opts, func(c *linksCLI) error { return c.wipe(cmd.Context()) })
		}),
	})

	return links
}
