// Command ledgerctl is the operator and analysis tool for a record
// ledger node: key management, funding, storing and updating records,
// and inspecting chain state.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/interstellar/starlight/env"
	"github.com/spf13/cobra"

	"github.com/PhoenixWild29/secureai-ledger/client"
	"github.com/PhoenixWild29/secureai-ledger/wallet"
)

var (
	nodeURL      string
	walletPath   string
	programID    string
	registryPath string
)

var rootCmd = &cobra.Command{
	Use:          "ledgerctl",
	Short:        "Store and inspect authenticity records on a ledger node",
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&nodeURL, "node", env.String("LEDGER_NODE", "http://localhost:2423"), "node URL")
	rootCmd.PersistentFlags().StringVar(&walletPath, "wallet", wallet.DefaultPath(), "path to wallet file")
	rootCmd.PersistentFlags().StringVar(&programID, "program", "", "record program address (default: the built-in program)")
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "", "path to the analysis registry (default: registry.db next to the wallet)")

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(nodeURL, programID)
}

func loadWallet() (*wallet.Keypair, error) {
	return wallet.Load(walletPath)
}

func openRegistry() (*client.Registry, error) {
	path := registryPath
	if path == "" {
		path = filepath.Join(filepath.Dir(walletPath), "registry.db")
	}
	return client.OpenRegistry(path)
}

func printJSON(v interface{}) error {
	bits, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(bits))
	return nil
}
