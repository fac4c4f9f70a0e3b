package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/menudeck/webhooks/internal/db"
)

var (
	cfgFile    string
	dsn        string
	timeout    time.Duration
	outputJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hookctl",
	Short: "Menudeck webhooks CLI - Manage endpoints and inspect deliveries",
	Long: `hookctl is a command line tool for operating the Menudeck webhook
delivery subsystem.

You can use it to register endpoints, inspect delivery attempts, view ledger
statistics, and emit test events.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hookctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (defaults to the DSN env var)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "command timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".hookctl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	if !rootCmd.PersistentFlags().Changed("dsn") {
		if s := viper.GetString("dsn"); s != "" {
			dsn = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
}

// getPool connects to the ledger database. The returned cleanup closes the
// pool and cancels the command context.
func getPool() (*pgxpool.Pool, context.Context, func(), error) {
	if dsn == "" {
		return nil, nil, nil, fmt.Errorf("no DSN configured; pass --dsn or set it in $HOME/.hookctl.yaml")
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	pool, err := db.Connect(ctx, dsn, 2)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("failed to connect: %w", err)
	}

	cleanup := func() {
		pool.Close()
		cancel()
	}
	return pool, ctx, cleanup, nil
}

// printOutput prints the response in the requested format
func printOutput(v any) {
	if outputJSON {
		jsonData, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling to JSON: %v\n", err)
			return
		}
		fmt.Println(string(jsonData))
		return
	}
	fmt.Printf("%+v\n", v)
}
