package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "[REDACTED]"

func newConfigCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with credentials redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(cmd.Context())
			if err != nil {
				return err
			}
			out := *cfg
			for _, s := range []*string{&out.Gateway.SupabaseKey, &out.Tenant.Secret} {
				if *s != "" {
					*s = redacted
				}
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(out); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
