package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/krishkalaria12/snap-edit/auth"
	"github.com/krishkalaria12/snap-edit/client"
	"github.com/krishkalaria12/snap-edit/config"
	"github.com/krishkalaria12/snap-edit/session"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "snap-edit",
	Short:        "AI photo edits with durable edit history",
	SilenceUsage: true,
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	log.SetLevel(level)
	return cfg, nil
}

// clientSession resolves who the CLI acts as. The API derives the user from the
// token; the local id is only known when the secret is available to verify it.
func clientSession(cfg *config.Config) (auth.Session, error) {
	if cfg.Client.APIToken == "" {
		return auth.Session{}, errors.New("API_TOKEN is not set")
	}
	sess := auth.Session{Token: cfg.Client.APIToken}
	if cfg.JWTSecret != "" {
		v, err := auth.NewVerifier(cfg.JWTSecret)
		if err != nil {
			return auth.Session{}, err
		}
		if sess, err = v.Verify(cfg.Client.APIToken); err != nil {
			return auth.Session{}, err
		}
	}
	return sess, nil
}

func newManager(cmd *cobra.Command, photo session.Photo) (*session.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	sess, err := clientSession(cfg)
	if err != nil {
		return nil, err
	}
	api := client.New(cfg.Client.APIURL, sess, nil)
	m := session.New(sess, photo, api, api, api, session.WithMaxRetries(cfg.Client.SessionMaxRetries))
	if err := m.Load(cmd.Context()); err != nil {
		return nil, fmt.Errorf("loading edits: %w", err)
	}
	return m, nil
}

var editCmd = &cobra.Command{
	Use:   "edit INSTRUCTIONS",
	Short: "Submit a new edit of a photo",
	Long: `Submit a new edit of a photo and print the photo's edits afterwards.

Examples:
  snap-edit edit --photo 42 --url https://cdn.example.com/42.png "make it look like a watercolor painting"
  snap-edit edit --photo 42 --url https://cdn.example.com/42.png --auto-retry "remove the background"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		photoID, _ := cmd.Flags().GetString("photo")
		photoURL, _ := cmd.Flags().GetString("url")
		autoRetry, _ := cmd.Flags().GetBool("auto-retry")

		m, err := newManager(cmd, session.Photo{ID: photoID, URL: photoURL})
		if err != nil {
			return err
		}

		item, err := m.Submit(cmd.Context(), strings.Join(args, " "))
		for err != nil && autoRetry && item.Status == session.StatusFailed {
			log.WithError(err).Warnf("Edit failed, retrying (%d/%d)", m.RetryAttempts()+1, m.MaxRetries())
			item, err = m.Retry(cmd.Context(), item.ID)
		}
		printEdits(cmd.OutOrStdout(), m.Edits())
		return err
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry ID",
	Short: "Run a failed edit again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		photoID, _ := cmd.Flags().GetString("photo")
		photoURL, _ := cmd.Flags().GetString("url")

		m, err := newManager(cmd, session.Photo{ID: photoID, URL: photoURL})
		if err != nil {
			return err
		}
		_, err = m.Retry(cmd.Context(), args[0])
		printEdits(cmd.OutOrStdout(), m.Edits())
		return err
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the edits of a photo, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		photoID, _ := cmd.Flags().GetString("photo")

		m, err := newManager(cmd, session.Photo{ID: photoID})
		if err != nil {
			return err
		}
		printEdits(cmd.OutOrStdout(), m.Edits())
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an edit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		photoID, _ := cmd.Flags().GetString("photo")

		m, err := newManager(cmd, session.Photo{ID: photoID})
		if err != nil {
			return err
		}
		if err := m.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		printEdits(cmd.OutOrStdout(), m.Edits())
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{editCmd, retryCmd, listCmd, deleteCmd} {
		c.Flags().String("photo", "", "id of the original photo")
		_ = c.MarkFlagRequired("photo")
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{editCmd, retryCmd} {
		c.Flags().String("url", "", "public URL of the original photo")
		_ = c.MarkFlagRequired("url")
	}
	editCmd.Flags().Bool("auto-retry", false, "retry a failed edit until the retry limit is reached")
}

func printEdits(out io.Writer, edits []session.EditingPhoto) {
	if len(edits) == 0 {
		fmt.Fprintln(out, "no edits")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tINSTRUCTIONS\tRESULT")
	for _, e := range edits {
		result := e.EditedImageURL
		if e.Status == session.StatusFailed {
			result = e.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Status, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Instructions, result)
	}
	_ = w.Flush()
}
