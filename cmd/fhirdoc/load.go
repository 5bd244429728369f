package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"fhirdoc/internal/fixtures"
)

func newLoadCmd(root *rootOptions) *cobra.Command {
	var sample bool
	cmd := &cobra.Command{
		Use:   "load [bundle.json]",
		Short: "Import the entries of a collection bundle into the record store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !sample && len(args) == 0 {
				return fmt.Errorf("a bundle file or --sample is required")
			}
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()
			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			var body []byte
			if sample {
				body, err = fixtures.DocumentScenario().CollectionBundle()
			} else {
				body, err = readInput(cmd, args[0])
			}
			if err != nil {
				return err
			}
			recs, err := a.service.ImportBundle(cmd.Context(), body)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s/_history/%s\n", rec.Key, rec.VersionID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sample, "sample", false, "Load the built-in sample document instead of a file")
	return cmd
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
