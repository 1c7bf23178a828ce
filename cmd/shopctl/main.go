package main

import (
	"fmt"
	"os"

	"shop-service/config"
	"shop-service/internal/payment"
	"shop-service/internal/util"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	_ = util.InitLogger("test")

	rootCmd := &cobra.Command{
		Use:     "shopctl",
		Short:   "Operator tooling for the shop service",
		Version: Version,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(signCallbackCmd())
	rootCmd.AddCommand(verifyCallbackCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// gatewayFromEnv builds the gateway from the same LIQPAY_* settings the server reads
func gatewayFromEnv() *payment.LiqPay {
	cfg := config.Load()
	return payment.NewLiqPay(payment.Config{
		PublicKey:  cfg.Gateway.PublicKey,
		PrivateKey: cfg.Gateway.PrivateKey,
		APIURL:     cfg.Gateway.APIURL,
		Currency:   cfg.Gateway.Currency,
		Sandbox:    cfg.Gateway.Sandbox,
	})
}
