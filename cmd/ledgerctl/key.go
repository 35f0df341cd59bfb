package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/PhoenixWild29/secureai-ledger/wallet"
)

func init() {
	keyCmd.AddCommand(keyNewCmd, keyShowCmd)
	rootCmd.AddCommand(keyCmd)
}

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the wallet keypair",
}

var keyNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a keypair and write it to the wallet file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(walletPath); err == nil {
			return fmt.Errorf("wallet %s already exists", walletPath)
		}
		k, err := wallet.Generate()
		if err != nil {
			return err
		}
		err = os.MkdirAll(filepath.Dir(walletPath), 0700)
		if err != nil {
			return err
		}
		err = wallet.Save(walletPath, k)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %s\naddress: %s\n", walletPath, k.Address())
		return nil
	},
}

var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the wallet address",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := loadWallet()
		if err != nil {
			return err
		}
		fmt.Println(k.Address())
		return nil
	},
}
