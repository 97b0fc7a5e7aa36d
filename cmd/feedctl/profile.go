package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/blackmichael/bluesky-listfeed/internal/domain"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/spf13/cobra"
)

// listDocument is one list in the import/export file.
type listDocument struct {
	Words  []string  `json:"words"`
	URLs   []string  `json:"urls"`
	Vector []float32 `json:"vector,omitempty"`
}

// profileDocument is the import/export file format.
type profileDocument struct {
	DID        string        `json:"did,omitempty"`
	ModifiedAt string        `json:"modified_at,omitempty"`
	WhiteList  *listDocument `json:"white_list,omitempty"`
	BlackList  *listDocument `json:"black_list,omitempty"`
}

func newProfileDocument(p *domain.Profile, withVectors bool) profileDocument {
	toList := func(l domain.ProfileList) *listDocument {
		doc := &listDocument{
			Words: strings.Fields(l.Text),
			URLs:  l.URLs,
		}
		if doc.Words == nil {
			doc.Words = []string{}
		}
		if doc.URLs == nil {
			doc.URLs = []string{}
		}
		if withVectors {
			doc.Vector = l.Vector
		}
		return doc
	}
	doc := profileDocument{
		DID:       p.DID,
		WhiteList: toList(p.Whitelist),
		BlackList: toList(p.Blacklist),
	}
	if !p.ModifiedAt.IsZero() {
		doc.ModifiedAt = p.ModifiedAt.UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return doc
}

func (d profileDocument) lists() map[domain.ListKind]*listDocument {
	out := make(map[domain.ListKind]*listDocument, 2)
	if d.WhiteList != nil {
		out[domain.Whitelist] = d.WhiteList
	}
	if d.BlackList != nil {
		out[domain.Blacklist] = d.BlackList
	}
	return out
}

func readProfileDocument(r io.Reader) (profileDocument, error) {
	var doc profileDocument
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return doc, fmt.Errorf("decode profile: %w", err)
	}
	if doc.WhiteList == nil && doc.BlackList == nil {
		return doc, fmt.Errorf("profile has neither white_list nor black_list")
	}
	return doc, nil
}

func parseDID(raw string) (string, error) {
	did, err := syntax.ParseDID(raw)
	if err != nil {
		return "", fmt.Errorf("--did: %w", err)
	}
	return did.String(), nil
}

// splitWords accepts both repeated flags and space separated values.
func splitWords(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.Fields(v)...)
	}
	return out
}

func profileCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show and edit viewer profiles",
	}
	cmd.AddCommand(profileSetCmd(g))
	cmd.AddCommand(profileShowCmd(g))
	cmd.AddCommand(profileListCmd(g))
	cmd.AddCommand(profileImportCmd(g))
	cmd.AddCommand(profileExportCmd(g))
	return cmd
}

func profileSetCmd(g *globalFlags) *cobra.Command {
	var (
		did   string
		list  string
		words []string
		urls  []string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace one list of a profile",
		Example: `  feedctl profile set --did did:plc:abc --list white --words "golang rust" --urls https://go.dev/blog
  feedctl profile set --did did:plc:abc --list black --words crypto,nft`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			did, err := parseDID(did)
			if err != nil {
				return err
			}
			kind, err := domain.ParseListKind(list)
			if err != nil {
				return err
			}

			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			ok, err := a.ProfileEditor.UpdateList(cmd.Context(), did, kind, splitWords(words), urls)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no keywords or usable urls, %s left unchanged", kind)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s of %s\n", kind, did)
			return nil
		},
	}

	cmd.Flags().StringVar(&did, "did", "", "viewer DID")
	cmd.Flags().StringVar(&list, "list", "", "white or black")
	cmd.Flags().StringSliceVar(&words, "words", nil, "keywords")
	cmd.Flags().StringSliceVar(&urls, "urls", nil, "pages whose text describes the list")
	_ = cmd.MarkFlagRequired("did")
	_ = cmd.MarkFlagRequired("list")
	return cmd
}

func profileShowCmd(g *globalFlags) *cobra.Command {
	var (
		did     string
		vectors bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			did, err := parseDID(did)
			if err != nil {
				return err
			}
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.ProfileEditor.GetProfile(cmd.Context(), did)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), newProfileDocument(p, vectors))
		},
	}

	cmd.Flags().StringVar(&did, "did", "", "viewer DID")
	cmd.Flags().BoolVar(&vectors, "vectors", false, "include list vectors")
	_ = cmd.MarkFlagRequired("did")
	return cmd
}

func profileListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the DIDs that have a profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			profiles, err := a.Profiles.ListProfiles(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range profiles {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.DID, p.ModifiedAt.UTC().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func profileImportCmd(g *globalFlags) *cobra.Command {
	var (
		did  string
		file string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load the lists of a profile from a JSON file",
		Long: `Load a profile from JSON in the form

  {"white_list": {"words": [], "urls": []}, "black_list": {"words": [], "urls": []}}

Either list may be omitted; an omitted list is left unchanged. Vectors are
always recomputed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := io.Reader(os.Stdin)
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			doc, err := readProfileDocument(in)
			if err != nil {
				return err
			}
			if did == "" {
				did = doc.DID
			}
			did, err := parseDID(did)
			if err != nil {
				return err
			}

			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			return importLists(cmd.Context(), cmd.OutOrStdout(), a.ProfileEditor, did, doc)
		},
	}

	cmd.Flags().StringVar(&did, "did", "", "viewer DID (default: the did in the file)")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON file, - for stdin")
	return cmd
}

type listUpdater interface {
	UpdateList(ctx context.Context, did string, kind domain.ListKind, words, urls []string) (bool, error)
}

func importLists(ctx context.Context, out io.Writer, editor listUpdater, did string, doc profileDocument) error {
	for _, kind := range []domain.ListKind{domain.Whitelist, domain.Blacklist} {
		list, ok := doc.lists()[kind]
		if !ok {
			continue
		}
		updated, err := editor.UpdateList(ctx, did, kind, list.Words, list.URLs)
		if err != nil {
			return err
		}
		if updated {
			fmt.Fprintf(out, "Updated %s of %s\n", kind, did)
		} else {
			fmt.Fprintf(out, "Skipped %s of %s: nothing usable\n", kind, did)
		}
	}
	return nil
}

func profileExportCmd(g *globalFlags) *cobra.Command {
	var (
		did     string
		file    string
		vectors bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a profile as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			did, err := parseDID(did)
			if err != nil {
				return err
			}
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.ProfileEditor.GetProfile(cmd.Context(), did)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if file != "-" {
				f, err := os.Create(file)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return printJSON(out, newProfileDocument(p, vectors))
		},
	}

	cmd.Flags().StringVar(&did, "did", "", "viewer DID")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "output file, - for stdout")
	cmd.Flags().BoolVar(&vectors, "vectors", false, "include list vectors")
	_ = cmd.MarkFlagRequired("did")
	return cmd
}
