package main

import (
	"fmt"
	"time"

	"github.com/loykin/webvisor/internal/tls"
	"github.com/spf13/cobra"
)

// createCertCommand creates the cert subcommand
func createCertCommand(certFlags *CertFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Generate a self-signed certificate for development",
		Long: `Generate a self-signed certificate and key usable as ssl.cert_path
and ssl.key_path. With --ca the certificate is also written for ca_path.

Examples:
  webvisor cert --cert certs/server.crt --key certs/server.key
  webvisor cert --cn app.local --hosts app.local,127.0.0.1 --cert app.crt --key app.key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := tls.CertConfig{
				CommonName: certFlags.CommonName,
				Hosts:      certFlags.Hosts,
				CertPath:   certFlags.CertPath,
				KeyPath:    certFlags.KeyPath,
				CACertPath: certFlags.CAPath,
			}
			if certFlags.ValidFor > 0 {
				cfg.NotAfter = time.Now().Add(certFlags.ValidFor)
			}
			if err := tls.GenerateSelfSignedCert(cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s\n", cfg.CertPath, cfg.KeyPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&certFlags.CommonName, "cn", "localhost", "certificate common name")
	cmd.Flags().StringSliceVar(&certFlags.Hosts, "hosts", []string{"localhost", "127.0.0.1"}, "DNS names and IPs")
	cmd.Flags().StringVar(&certFlags.CertPath, "cert", "server.crt", "certificate output path")
	cmd.Flags().StringVar(&certFlags.KeyPath, "key", "server.key", "key output path")
	cmd.Flags().StringVar(&certFlags.CAPath, "ca", "", "optional copy of the certificate for ca_path")
	cmd.Flags().DurationVar(&certFlags.ValidFor, "valid-for", 365*24*time.Hour, "certificate lifetime")

	return cmd
}
