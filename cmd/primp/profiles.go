package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sardanioss/primp/fingerprint"
)

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the browser profiles and their operating systems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range fingerprint.Available() {
				oses, err := fingerprint.OperatingSystems(name)
				if err != nil {
					return err
				}
				// the default OS comes first
				fmt.Fprintf(tw, "%s\t%s\n", name, strings.Join(oses, ","))
			}
			return tw.Flush()
		},
	}
}

func newFingerprintCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint PROFILE",
		Short: "Print the JA3 and Akamai HTTP/2 fingerprints of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := fingerprint.Resolve(args[0], g.os)
			if err != nil {
				return err
			}
			// read the strings back so the breakdown shows what a server
			// would decode from the wire
			tlsSpec, err := fingerprint.ParseJA3(p.JA3())
			if err != nil {
				return err
			}
			h2Spec, err := fingerprint.ParseAkamai(p.Akamai())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "profile:    %s\n", p.ID())
			fmt.Fprintf(out, "ja3:        %s\n", p.JA3())
			fmt.Fprintf(out, "  ciphers %d, extensions %d, curves %d\n",
				len(tlsSpec.CipherSuites), len(tlsSpec.Extensions), len(tlsSpec.Curves))
			fmt.Fprintf(out, "akamai:     %s\n", p.Akamai())
			fmt.Fprintf(out, "  settings %d, window update %d, pseudo %s\n",
				len(h2Spec.Settings), h2Spec.WindowUpdate, strings.Join(h2Spec.PseudoOrder, ","))
			fmt.Fprintf(out, "user-agent: %s\n", p.UserAgent())
			return nil
		},
	}
}
