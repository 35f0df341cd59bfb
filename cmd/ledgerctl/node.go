package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(airdropCmd, statusCmd, verifyCmd, watchCmd)
}

var airdropCmd = &cobra.Command{
	Use:   "airdrop <lamports>",
	Short: "Ask the node's faucet to fund the wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lamports, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("parsing lamports: %s", err)
		}
		k, err := loadWallet()
		if err != nil {
			return err
		}
		acct, err := newClient().Airdrop(cmd.Context(), k.Address(), lamports)
		if err != nil {
			return err
		}
		return printJSON(acct)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print node health and the current slot",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newClient().Status(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <tx-signature>",
	Short: "Check that a signature names a real transaction on the node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := newClient().VerifyTx(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("invalid")
			os.Exit(1)
		}
		fmt.Println("valid")
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [height]",
	Short: "Stream slots as they close, starting from height",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c := newClient()
		// Slot requests long-poll while the chain is idle.
		c.HTTP.Timeout = 0

		var height uint64
		if len(args) == 1 {
			var err error
			height, err = strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("parsing height: %s", err)
			}
		} else {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			height = st.Slot + 1
		}

		for ; ; height++ {
			ev, err := c.Slot(ctx, height)
			if err != nil {
				return err
			}
			fmt.Printf("slot %d: %d transaction(s)\n", ev.Slot.Height, len(ev.Txs))
			for _, tx := range ev.Txs {
				fmt.Printf("  %s %s", tx.ID, tx.Status)
				if tx.Err != "" {
					fmt.Printf(" (%s)", tx.Err)
				}
				fmt.Println()
				for _, line := range tx.Log {
					fmt.Printf("    %s\n", line)
				}
			}
		}
	},
}
