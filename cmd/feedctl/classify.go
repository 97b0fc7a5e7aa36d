package main

import (
	"fmt"
	"strings"

	"github.com/blackmichael/bluesky-listfeed/internal/domain"
	"github.com/spf13/cobra"
)

type classifyResult struct {
	DID            string       `json:"did"`
	NormalizedText string       `json:"normalized_text"`
	Score          domain.Score `json:"score"`
}

func classifyCmd(g *globalFlags) *cobra.Command {
	var (
		did      string
		text     string
		linkURL  string
		linkDesc string
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Score a piece of text against a viewer profile",
		Example: `  feedctl classify --did did:plc:abc --text "new release of the go toolchain"
  feedctl classify --did did:plc:abc --text "read this" --link https://go.dev/blog/go1.24`,
		RunE: func(cmd *cobra.Command, args []string) error {
			did, err := parseDID(did)
			if err != nil {
				return err
			}
			if text == "" {
				text = strings.Join(args, " ")
			}
			if strings.TrimSpace(text) == "" && linkURL == "" {
				return fmt.Errorf("--text or --link is required")
			}

			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			record := &domain.PostRecord{Text: text}
			if linkURL != "" {
				record.Embed = domain.EmbedExternal{URI: linkURL, Description: linkDesc}
			}

			normalized, score, err := a.Feed.ScorePost(cmd.Context(), did, record)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), classifyResult{DID: did, NormalizedText: normalized, Score: score})
		},
	}

	cmd.Flags().StringVar(&did, "did", "", "viewer DID whose profile scores the text")
	cmd.Flags().StringVar(&text, "text", "", "post text (default: the arguments)")
	cmd.Flags().StringVar(&linkURL, "link", "", "attach a link card pointing at this URL")
	cmd.Flags().StringVar(&linkDesc, "link-description", "", "description of the link card")
	_ = cmd.MarkFlagRequired("did")
	return cmd
}

type inspectResult struct {
	URI        string `json:"uri"`
	Text       string `json:"text"`
	Dimensions int    `json:"dimensions"`
}

func inspectCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <post-uri>",
		Short: "Print the stored text and vector size of an indexed post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			pv, err := a.Repo.GetPostVector(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("post %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), inspectResult{URI: args[0], Text: pv.Text, Dimensions: pv.Vector.Dim()})
		},
	}
}
