package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thephotocrm/thephotocrm-sub005/internal/dkim"
)

var (
	dkimDomain    string
	dkimSelector  string
	dkimAlgorithm string
	dkimOutDir    string
)

var dkimCmd = &cobra.Command{
	Use:   "dkim",
	Short: "DKIM key management commands",
}

var dkimKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a DKIM key and print its DNS record",
	RunE:  runDKIMKeygen,
}

func init() {
	dkimKeygenCmd.Flags().StringVar(&dkimDomain, "domain", "", "Sending domain (required)")
	dkimKeygenCmd.Flags().StringVar(&dkimSelector, "selector", "photocrm", "DKIM selector")
	dkimKeygenCmd.Flags().StringVar(&dkimAlgorithm, "algorithm", string(dkim.AlgorithmRSA), "Key algorithm (rsa, ed25519)")
	dkimKeygenCmd.Flags().StringVar(&dkimOutDir, "out", ".", "Output directory for the key file")
	dkimKeygenCmd.MarkFlagRequired("domain")

	dkimCmd.AddCommand(dkimKeygenCmd)
	rootCmd.AddCommand(dkimCmd)
}

func runDKIMKeygen(cmd *cobra.Command, args []string) error {
	kp, err := dkim.GenerateKey(dkim.Algorithm(dkimAlgorithm), dkimDomain, dkimSelector)
	if err != nil {
		return err
	}
	value, err := kp.RecordValue()
	if err != nil {
		return err
	}

	keyPath := filepath.Join(dkimOutDir, fmt.Sprintf("%s.%s.pem", dkimSelector, dkimDomain))
	if err := kp.SavePrivateKey(keyPath); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}

	fmt.Printf("DKIM key generated\n\n")
	fmt.Printf("Private key saved to: %s\n\n", keyPath)
	fmt.Printf("DNS Record:\n")
	fmt.Printf("  Name:  %s\n", kp.RecordName())
	fmt.Printf("  Type:  TXT\n")
	fmt.Printf("  Value: %s\n\n", value)
	fmt.Printf("Then set transport.dkim.key_file to %s\n", keyPath)
	return nil
}
