package main

import (
	"bytes"

	"github.com/spf13/cobra"

	"fhirdoc/internal/core"
	"fhirdoc/internal/encoding"
	"fhirdoc/internal/fixtures"
)

func newDocumentCmd(root *rootOptions) *cobra.Command {
	var (
		format  string
		pretty  bool
		persist bool
		sample  bool
		baseURL string
	)
	cmd := &cobra.Command{
		Use:   "document <composition-id>",
		Short: "Assemble a Composition into a document bundle and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc, err := encoding.NewRegistry().Negotiate(format, "")
			if err != nil {
				return err
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
			if persist && !a.service.CanArchive() {
				return core.ErrArchiveDisabled
			}
			if sample {
				if err := fixtures.DocumentScenario().Load(cmd.Context(), a.store); err != nil {
					return err
				}
			}

			doc, err := a.service.Document(cmd.Context(), args[0], core.DocumentOptions{BaseURL: baseURL})
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := enc.Encode(&buf, doc.Bundle, pretty); err != nil {
				return err
			}
			if persist {
				if _, err := a.service.SaveDocument(cmd.Context(), doc); err != nil {
					return err
				}
			}
			_, err = buf.WriteTo(cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Output format (json, ndjson)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent JSON output")
	cmd.Flags().BoolVar(&persist, "persist", false, "Store the bundle in the configured archive")
	cmd.Flags().BoolVar(&sample, "sample", false, "Load the built-in sample document first")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Base URL for fullUrl values (overrides server.base_url)")
	return cmd
}
