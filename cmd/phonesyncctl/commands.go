package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"phonesync/api/internal/auth"
	"phonesync/api/internal/config"
	"phonesync/api/internal/markup"
	"phonesync/api/internal/merge"
	"phonesync/api/internal/rbac"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "phonesyncctl",
		Short:         "Operate the phonesync forum buffer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTokenCmd(), newMergeCmd(), newParseCmd())
	return root
}

func newTokenCmd() *cobra.Command {
	token := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}

	var (
		subject string
		role    string
		ttl     time.Duration
		secret  string
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = config.Load().TokenSecret
			}
			if secret == "" {
				return errors.New("no secret: pass --secret or set PHONESYNC_TOKEN_SECRET")
			}
			if rbac.Normalize(role) != rbac.Role(role) {
				return fmt.Errorf("unknown role %q (reader, writer, admin)", role)
			}
			claims := auth.NewClaims(subject, role, ttl, time.Now())
			issued, err := auth.IssueToken([]byte(secret), claims)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), issued)
			return err
		},
	}
	issue.Flags().StringVar(&subject, "subject", "host", "client the token is issued to")
	issue.Flags().StringVar(&role, "role", string(rbac.RoleWriter), "reader, writer or admin")
	issue.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	issue.Flags().StringVar(&secret, "secret", "", "signing secret (default $PHONESYNC_TOKEN_SECRET)")

	token.AddCommand(issue)
	return token
}

func newMergeCmd() *cobra.Command {
	var (
		output string
		at     string
	)
	cmd := &cobra.Command{
		Use:   "merge STORED INCOMING",
		Short: "Merge generated content into a stored buffer, as the service would",
		Long: "Reads the stored buffer and the incoming content, merges them and prints the " +
			"rewritten buffer. Use - to read either file from stdin.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "-" && args[1] == "-" {
				return errors.New("only one input may come from stdin")
			}
			now := time.Now().UTC()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("parse --at: %w", err)
				}
				now = parsed.UTC()
			}
			stored, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			incoming, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}

			section := markup.SplitSection(stored)
			merged, stats := merge.MergeWithStats(markup.Parse(section.Body), markup.ParseSection(incoming), now)
			result := section.Join(markup.Serialize(merged))

			fmt.Fprintf(cmd.ErrOrStderr(), "+%d threads, +%d replies, +%d sub-replies, %d duplicates\n",
				stats.NewThreads, stats.NewReplies, stats.NewSubReplies, stats.Duplicates)
			if output == "" {
				_, err = io.WriteString(cmd.OutOrStdout(), result+"\n")
				return err
			}
			return os.WriteFile(output, []byte(result+"\n"), 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the merged buffer to a file")
	cmd.Flags().StringVar(&at, "at", "", "merge time as RFC3339 (default now)")
	return cmd
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse FILE",
		Short: "Print the forum held in a buffer as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			doc := markup.ParseSection(text)
			type thread struct {
				markup.Thread
				Replies []markup.Reply `json:"replies"`
			}
			threads := []thread{}
			for _, t := range markup.Ordered(doc) {
				replies := doc.Replies[t.ID]
				if replies == nil {
					replies = []markup.Reply{}
				}
				threads = append(threads, thread{Thread: t, Replies: replies})
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(map[string]any{"threads": threads})
		},
	}
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
