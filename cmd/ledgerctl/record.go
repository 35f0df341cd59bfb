package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/PhoenixWild29/secureai-ledger/store"
	"github.com/PhoenixWild29/secureai-ledger/wallet"
)

func init() {
	rootCmd.AddCommand(registerCmd, updateCmd, showCmd)
}

var registerCmd = &cobra.Command{
	Use:   "register <content-hash> <score>",
	Short: "Store a fresh analysis record in a new storage account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("parsing score: %s", err)
		}
		payer, err := loadWallet()
		if err != nil {
			return err
		}
		storage, err := wallet.Generate()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		c := newClient()
		tx, err := c.BuildCreate(storage, payer, args[0], score)
		if err != nil {
			return err
		}
		result, err := c.SubmitWait(ctx, tx)
		if err != nil {
			return err
		}
		if result.Status != store.TxOK {
			return fmt.Errorf("transaction %s failed: %s", result.ID, result.Err)
		}

		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()
		analysisID, err := reg.Add(ctx, storage.Address(), result.ID)
		if err != nil {
			return err
		}

		return printJSON(map[string]interface{}{
			"analysis_id": analysisID,
			"address":     storage.Address(),
			"tx":          result.ID,
			"slot":        result.Slot,
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <address|analysis-id> <content-hash> <score>",
	Short: "Replace the record in an existing storage account",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("parsing score: %s", err)
		}
		payer, err := loadWallet()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		addr, err := resolveAddress(ctx, args[0])
		if err != nil {
			return err
		}
		c := newClient()
		tx, err := c.BuildOverwrite(addr, payer, args[1], score)
		if err != nil {
			return err
		}
		result, err := c.SubmitWait(ctx, tx)
		if err != nil {
			return err
		}
		if result.Status != store.TxOK {
			return fmt.Errorf("transaction %s failed: %s", result.ID, result.Err)
		}

		return printJSON(map[string]interface{}{
			"address": addr,
			"tx":      result.ID,
			"slot":    result.Slot,
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <address|analysis-id>",
	Short: "Print the record held by a storage account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		addr, err := resolveAddress(ctx, args[0])
		if err != nil {
			return err
		}
		info, err := newClient().Record(ctx, addr)
		if err != nil {
			return err
		}
		return printJSON(info)
	},
}

// resolveAddress accepts either a storage account address or an
// analysis UUID from the local registry.
func resolveAddress(ctx context.Context, arg string) (string, error) {
	if _, err := uuid.Parse(arg); err != nil {
		return arg, nil
	}
	reg, err := openRegistry()
	if err != nil {
		return "", err
	}
	defer reg.Close()
	e, err := reg.Lookup(ctx, arg)
	if err != nil {
		return "", err
	}
	return e.Address, nil
}
