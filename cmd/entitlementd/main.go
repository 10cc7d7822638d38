package main

import (
	"context"
	"fmt"
	"os"

	"github.com/chatmockup/entitlementd/internal/clerk"
	"github.com/chatmockup/entitlementd/internal/server"
	"github.com/chatmockup/entitlementd/internal/stripe"
	"github.com/spf13/cobra"
	stripelib "github.com/stripe/stripe-go/v82"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "entitlementd",
	Short:   "entitlementd - billing entitlement service for Chat Mockup Studio",
	Long:    `entitlementd keeps Clerk user metadata in sync with Stripe billing state: it receives Clerk and Stripe webhooks, links users to billing customers, and writes the pro/free plan back to each user.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Run(cmd.Context(), Version)
	},
}

var applyFree bool

var repairCmd = &cobra.Command{
	Use:   "repair <user-id>",
	Short: "Re-derive one user's plan from Stripe and write it back",
	Long: `repair fetches the user's linked Stripe customer with its subscriptions,
derives the plan the user should have, and writes it to Clerk. Downgrades to
free are only written with --apply-free; without it the command reports what
it would do.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := server.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		stripelib.Key = cfg.StripeSecretKey

		users := clerk.NewClient(cfg.ClerkSecretKey)
		reconciler := stripe.NewReconciler(users)

		result, err := reconciler.Repair(cmd.Context(), args[0], applyFree)
		if err != nil {
			return err
		}

		fmt.Printf("User:         %s\n", result.UserID)
		fmt.Printf("Customer:     %s\n", result.CustomerID)
		fmt.Printf("Before:       plan=%q stripeCustomerId=%q\n",
			result.Before.Plan, result.Before.StripeCustomerID)
		if result.SubscriptionID != "" {
			fmt.Printf("Subscription: %s (%s)\n", result.SubscriptionID, result.Status)
		} else {
			fmt.Println("Subscription: none")
		}
		fmt.Printf("Derived plan: %s\n", result.Plan)
		if result.Applied {
			fmt.Println("Applied:      yes")
		} else {
			fmt.Println("Applied:      no (downgrade skipped; re-run with --apply-free)")
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("entitlementd %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	repairCmd.Flags().BoolVar(&applyFree, "apply-free", false, "write downgrades to the free plan, not just upgrades")
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
