package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"postcast/internal/richtext"
	"postcast/internal/submission"
)

var renderCmd = &cobra.Command{
	Use:   "render <submission.yaml>",
	Short: "Print the description each destination would receive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dests, _ := cmd.Flags().GetStringSlice("destination")
		pretty, _ := cmd.Flags().GetBool("pretty")

		sub, err := submission.Load(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if len(dests) == 0 {
			dests = a.Registry().IDs()
		}

		var md func(string) (string, error)
		if pretty {
			r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
			if err != nil {
				return err
			}
			md = r.Render
		}

		out := cmd.OutOrStdout()
		for i, raw := range dests {
			t, err := submission.ParseTarget(raw)
			if err != nil {
				return err
			}
			desc, tags, err := a.Poster().Render(sub, t)
			if err != nil {
				return fmt.Errorf("%s: %w", t, err)
			}
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "== %s", t)
			if len(tags) > 0 {
				fmt.Fprintf(out, " [%s]", strings.Join(tags, " "))
			}
			fmt.Fprintln(out)

			adapter, _ := a.Registry().Get(t.Destination)
			if md != nil && adapter != nil && adapter.Metadata().Formatter == richtext.Markdown {
				if pd, err := md(desc); err == nil {
					desc = strings.TrimRight(pd, "\n")
				}
			}
			fmt.Fprintln(out, desc)
		}
		return nil
	},
}

func init() {
	renderCmd.Flags().StringSliceP("destination", "d", nil, "destination[:account] to render for (default: all)")
	renderCmd.Flags().Bool("pretty", false, "style markdown output for the terminal")
	rootCmd.AddCommand(renderCmd)
}
