// Command treeverse reconstructs the reply tree of a tweet and prints it as a
// Mermaid diagram, an indented feed, or JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/anatolykoptev/go-treeverse"
	"github.com/anatolykoptev/go-treeverse/archive"
	"github.com/anatolykoptev/go-treeverse/queue"
	"github.com/anatolykoptev/go-treeverse/tree"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

var statusURLRe = regexp.MustCompile(`/status(?:es)?/(\d+)`)

func main() {
	initConfig()
	initLog()

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: treeverse <tweet id or status URL>")
		os.Exit(2)
	}
	focalID := tweetIDFromArg(os.Args[1])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, focalID, os.Stdout); err != nil {
		slog.Error("treeverse failed", slog.String("tweet", focalID), slog.Any("error", err))
		os.Exit(1)
	}
}

// tweetIDFromArg accepts a bare id or any x.com/twitter.com status URL.
func tweetIDFromArg(arg string) string {
	if m := statusURLRe.FindStringSubmatch(arg); m != nil {
		return m[1]
	}
	return strings.TrimSpace(arg)
}

func run(ctx context.Context, focalID string, out io.Writer) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()
	unsubscribe := client.Queue().Subscribe(statusPrinter{})
	defer unsubscribe()

	var store *archive.Store
	if dsn := viper.GetString(keyArchiveDSN); dsn != "" {
		if store, err = archive.Open(dsn); err != nil {
			return err
		}
		defer store.Close()
	}

	exp, err := openConversation(ctx, client, store, focalID)
	if err != nil {
		return err
	}
	exp.ExhaustAfterEmpty = viper.GetInt(keyExhaustAfter)

	if viper.GetBool(keyExpand) {
		auto := tree.NewAutoExpander(exp, tree.AutoConfig{
			Interval: viper.GetDuration(keyExpandInterval),
			MaxNodes: viper.GetInt(keyExpandMaxNodes),
			OnStep: func(id string, added int) {
				slog.Info("expanded", slog.String("node", id), slog.Int("added", added))
			},
		})
		if err := auto.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	var writeErr error
	exp.View(func(t *tree.Tree) {
		if store != nil {
			if err := store.SaveTree(t); err != nil {
				slog.Warn("archive failed", slog.Any("error", err))
			}
		}
		writeErr = write(out, t, viper.GetString(keyOutput))
	})
	return writeErr
}

func newClient() (*treeverse.Client, error) {
	session := treeverse.NewSession(viper.GetString(keyAuthToken), viper.GetString(keyCSRFToken), "")
	fetcher, err := treeverse.NewStealthFetcher(treeverse.StealthConfig{
		Session: session,
		Proxy:   viper.GetString(keyProxy),
		Jitter:  viper.GetBool(keyJitter),
	})
	if err != nil {
		return nil, err
	}

	queryInfo := treeverse.NewSniffedQueryInfo(viper.GetDuration(keyQueryTTL))
	if id := viper.GetString(keyQueryID); id != "" {
		queryInfo.Set(treeverse.QueryInfo{QueryID: id, Features: viper.GetString(keyFeatures)})
	}

	return treeverse.NewClient(treeverse.ClientConfig{
		Fetcher:   fetcher,
		QueryInfo: queryInfo,
		MetricsHook: func(endpoint string, success, rateLimited bool) {
			slog.Debug("api call", slog.String("endpoint", endpoint),
				slog.Bool("success", success), slog.Bool("rate_limited", rateLimited))
		},
	})
}

// openConversation resumes an archived tree when asked to, otherwise fetches the first page.
func openConversation(ctx context.Context, client *treeverse.Client, store *archive.Store, focalID string) (*tree.Expander, error) {
	if store != nil && viper.GetBool(keyFromArchive) {
		t, err := store.LoadTree(focalID)
		switch {
		case err == nil:
			slog.Info("resumed from archive", slog.String("root", focalID), slog.Int("nodes", t.Len()))
			return tree.NewExpander(t, client), nil
		case !errors.Is(err, archive.ErrNotFound):
			return nil, err
		}
	}
	return tree.Open(ctx, client, focalID)
}

func write(out io.Writer, t *tree.Tree, format string) error {
	switch format {
	case "mermaid":
		_, err := io.WriteString(out, t.ExportMarkdown())
		return err
	case "diagram":
		_, err := io.WriteString(out, t.ExportDiagram())
		return err
	case "feed":
		return writeFeed(out, t)
	case "json":
		return writeJSON(out, t)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func writeFeed(out io.Writer, t *tree.Tree) error {
	for _, n := range t.Traverse() {
		depth := len(t.Ancestors(n.ID())) - 1
		when := "unknown time"
		if !n.Tweet.CreatedAt.IsZero() {
			when = humanize.Time(n.Tweet.CreatedAt)
		}
		delay := ""
		if n.ParentID != "" {
			delay = " [" + tree.DelayBucket(t.ReplyDelay(n)) + "]"
		}
		more := ""
		if n.HasMore() {
			more = " (+)"
		}
		_, err := fmt.Fprintf(out, "%s@%s · %s%s%s\n%s  %s\n",
			strings.Repeat("  ", depth), n.Tweet.Handle, when, delay, more,
			strings.Repeat("  ", depth), strings.Join(strings.Fields(n.Tweet.BodyText), " "))
		if err != nil {
			return err
		}
	}
	return nil
}

type jsonNode struct {
	ID          string    `json:"id"`
	ParentID    string    `json:"parent_id,omitempty"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
	Replies     int       `json:"replies"`
	Images      []string  `json:"images,omitempty"`
	URL         string    `json:"url"`
	HasMore     bool      `json:"has_more"`
}

func writeJSON(out io.Writer, t *tree.Tree) error {
	nodes := t.Traverse()
	rows := make([]jsonNode, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, jsonNode{
			ID:          n.ID(),
			ParentID:    n.ParentID,
			Handle:      n.Tweet.Handle,
			DisplayName: n.Tweet.DisplayName,
			Text:        n.Tweet.BodyText,
			CreatedAt:   n.Tweet.CreatedAt,
			Replies:     n.Tweet.Replies,
			Images:      n.Tweet.Images,
			URL:         n.Tweet.URL(),
			HasMore:     n.HasMore(),
		})
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// statusPrinter reports lane pauses on stderr.
type statusPrinter struct{}

var _ queue.Observer = statusPrinter{}

func (statusPrinter) OnPaused(reset time.Time) {
	fmt.Fprintf(os.Stderr, "rate limited, resuming %s\n", humanize.Time(reset))
}

func (statusPrinter) OnCountdown(remaining int) {
	if remaining%30 == 0 || remaining <= 5 {
		fmt.Fprintf(os.Stderr, "resuming in %ds\n", remaining)
	}
}

func (statusPrinter) OnResumed() {
	fmt.Fprintln(os.Stderr, "resumed")
}
