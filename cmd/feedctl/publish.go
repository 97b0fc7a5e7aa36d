package main

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/blackmichael/bluesky-listfeed/internal/bluesky"
	"github.com/spf13/cobra"
)

type loginFlags struct {
	handle   string
	password string
	pds      string
	rkey     string
}

func (l *loginFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&l.handle, "handle", os.Getenv("BLUESKY_HANDLE"), "Bluesky handle (env BLUESKY_HANDLE)")
	cmd.Flags().StringVar(&l.password, "password", os.Getenv("BLUESKY_APP_PASSWORD"), "app password (env BLUESKY_APP_PASSWORD)")
	cmd.Flags().StringVar(&l.pds, "pds", envOr("BLUESKY_PDS", "https://bsky.social"), "PDS URL (env BLUESKY_PDS)")
	cmd.Flags().StringVar(&l.rkey, "rkey", "", "record key of the feed (default: FEEDGEN_FEED_NAME)")
}

func (l *loginFlags) login(cmd *cobra.Command) (*bluesky.Client, error) {
	if l.handle == "" || l.password == "" {
		return nil, fmt.Errorf("--handle and --password are required (or set BLUESKY_HANDLE and BLUESKY_APP_PASSWORD)")
	}
	client := bluesky.NewClient(l.pds)
	if err := client.Login(cmd.Context(), l.handle, l.password); err != nil {
		return nil, err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Authenticated as %s\n", client.DID())
	return client, nil
}

func publishCmd(g *globalFlags) *cobra.Command {
	var (
		login       loginFlags
		displayName string
		description string
		avatarPath  string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Create or update the feed generator record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			if login.rkey == "" {
				login.rkey = cfg.FeedName
			}
			if displayName == "" {
				return fmt.Errorf("--name is required")
			}

			client, err := login.login(cmd)
			if err != nil {
				return err
			}

			record := bluesky.FeedGeneratorRecord{
				DID:         cfg.ServiceDID(),
				DisplayName: displayName,
				Description: description,
				CreatedAt:   time.Now().UTC().Format(time.RFC3339),
			}

			if avatarPath != "" {
				data, err := os.ReadFile(avatarPath)
				if err != nil {
					return fmt.Errorf("read avatar: %w", err)
				}
				blob, err := client.UploadBlob(cmd.Context(), data, imageType(avatarPath, data))
				if err != nil {
					return err
				}
				record.Avatar = blob
			}

			if err := client.PublishFeedGenerator(cmd.Context(), login.rkey, record); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Feed published: %s\n", client.FeedURI(login.rkey))
			return nil
		},
	}

	login.register(cmd)
	cmd.Flags().StringVar(&displayName, "name", "", "feed display name (max 24 characters)")
	cmd.Flags().StringVar(&description, "description", "", "feed description (max 300 characters)")
	cmd.Flags().StringVar(&avatarPath, "avatar", "", "path to a PNG or JPEG avatar")
	return cmd
}

func unpublishCmd(g *globalFlags) *cobra.Command {
	var login loginFlags

	cmd := &cobra.Command{
		Use:   "unpublish",
		Short: "Delete the feed generator record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			if login.rkey == "" {
				login.rkey = cfg.FeedName
			}

			client, err := login.login(cmd)
			if err != nil {
				return err
			}
			if err := client.UnpublishFeedGenerator(cmd.Context(), login.rkey); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Feed unpublished: %s\n", client.FeedURI(login.rkey))
			return nil
		},
	}

	login.register(cmd)
	return cmd
}

func imageType(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
