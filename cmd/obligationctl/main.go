// obligationctl operates a settlement node directly against its stores. It
// acts as the node's own party.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/segyhp/settlement-engine/internal/app"
	"github.com/segyhp/settlement-engine/internal/config"
	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/pkg/logger"
)

var (
	jsonOutput bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "obligationctl",
	Short: "Settlement node operator CLI",
	Long: `obligationctl creates, settles and repairs obligations on this node.

Commands run as the node party configured by NODE_PARTY_KEY. A settle that fails
with UNRECORDED_PAYMENT left money moving without a local record: look the
payment up on the rail and run attach-reference with its reference.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log node activity to stderr")
	registerCommands(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func registerCommands(root *cobra.Command) {
	root.AddCommand(listCmd())
	root.AddCommand(showCmd())
	root.AddCommand(createCmd())
	root.AddCommand(setMethodCmd())
	root.AddCommand(settleCmd())
	root.AddCommand(novateCmd())
	root.AddCommand(cancelCmd())
	root.AddCommand(attachReferenceCmd())
	root.AddCommand(resumeCmd())
	root.AddCommand(defaultsCmd())
}

// withApp runs fn against a node built from the environment.
func withApp(ctx context.Context, fn func(ctx context.Context, node *app.App, me domain.Party) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Discard()
	if verbose {
		log = logger.NewWithWriter(os.Stderr, cfg.Logging.Level, "text")
	}
	node, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer node.Close(context.Background())
	return fn(ctx, node, app.NodeParty(cfg))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
