// Command primp sends browser-impersonating HTTP requests and inspects the
// built-in fingerprint profiles.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "primp",
		Short:         "Browser-impersonating HTTP client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	g.register(root)

	root.AddCommand(newGetCmd(g))
	root.AddCommand(newRequestCmd(g))
	root.AddCommand(newProfilesCmd())
	root.AddCommand(newFingerprintCmd(g))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
