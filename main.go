package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/briangreenhill/storefront/internal/config"
	"github.com/briangreenhill/storefront/internal/routes"
	"github.com/briangreenhill/storefront/internal/site"
	"github.com/briangreenhill/storefront/internal/urls"
)

const version = "v0.1.0"

func main() {
	if err := runCLI(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func runCLI(args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "storefront",
		Short: "Headless storefront client runtime",
		Long: `Storefront renders marketplace pages the way the browser client does:
views fetch their data in deferred blocks, results are cached and shared
through per-type model stores, and a navigation stack tracks back history.

Configuration is read from STOREFRONT_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(newBrowseCmd(stderr), newRoutesCmd(), newVersionCmd())
	return root
}

func newBrowseCmd(stderr io.Writer) *cobra.Command {
	var (
		pages  int
		asJSON bool
		token  string
	)
	cmd := &cobra.Command{
		Use:   "browse <path>",
		Short: "Render a page and print its HTML",
		Example: `  storefront browse /
  storefront browse /app/maps --json
  storefront browse "/search?q=maps" --pages 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, stderr)

			s, err := site.New(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := s.Close(); err != nil {
					logger.Error().Err(err).Msg("close site")
				}
			}()
			if token != "" {
				s.SignIn(token)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			page, err := s.Browse(ctx, args[0], pages)
			if err != nil {
				return err
			}
			return printPage(cmd.OutOrStdout(), page, asJSON)
		},
	}
	cmd.Flags().IntVarP(&pages, "pages", "p", 0, "Additional pages to load for paginated lists")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the page as JSON")
	cmd.Flags().StringVar(&token, "token", "", "Sign in with this API token")
	return cmd
}

func printPage(w io.Writer, page site.Page, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}
	_, err := fmt.Fprintln(w, page.HTML)
	return err
}

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the route table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table := routes.Storefront(urls.New(urls.DefaultEndpoints, nil))
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, v := range table.Views() {
				fmt.Fprintf(tw, "%s\t%s\n", v.Name, v.Pattern)
			}
			return tw.Flush()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Storefront %s\n", version)
			return err
		},
	}
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(cfg.Level()).With().Timestamp().Logger()
}
