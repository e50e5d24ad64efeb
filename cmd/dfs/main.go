package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dfs-go/internal/app"
	"dfs-go/internal/config"
	"dfs-go/internal/dfs"
	"dfs-go/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	app.ApplyEnv(cfg)
	return cfg, nil
}

func newPrompter() *app.TerminalPrompter {
	return app.NewTerminalPrompter(os.Stdin, os.Stderr)
}

// newApp reads the config and creates a DFSApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "upload", "share").
func newApp(cmd *cobra.Command, operation string, args []string) (*app.DFSApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	op := app.NewOperation(operation, strings.Join(args, " "), time.Now())
	a, err := app.NewDFSApp(cmd.Context(), cfg, op, newPrompter(), level)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func printRecord(r *dfs.FileRecord) {
	flags := ""
	if r.IsDeleted {
		flags += "  [deleted]"
	}
	if r.Provisional {
		flags += "  [pending refresh]"
	}
	fmt.Printf("%-30s  v%-3d  %s  %s%s\n", r.FileName, r.Version, r.ContentID, r.Description, flags)
	for _, a := range r.SharedWith {
		fmt.Printf("    shared with %s\n", a.Hex())
	}
}

var rootCmd = &cobra.Command{
	Use:          "dfs",
	Short:        "Decentralized file sharing over IPFS and an EVM registry",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Println("Next: create a signing key with `dfs wallet new`.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Store:    %s (gateway %s)\n", cfg.Store.Type, cfg.Store.GatewayURL)
		switch cfg.Ledger.Type {
		case "ethereum":
			fmt.Printf("Ledger:   ethereum %s contract %s (chain %d)\n", cfg.Ledger.RPCURL, cfg.Ledger.ContractAddress, cfg.Ledger.ChainID)
		default:
			fmt.Printf("Ledger:   %s %s (chain %d)\n", cfg.Ledger.Type, cfg.Ledger.DataDir, cfg.Ledger.ChainID)
		}
		fmt.Printf("Wallet:   %s %s\n", cfg.Wallet.Type, cfg.Wallet.KeystoreDir)
		fmt.Printf("Server:   %s\n", cfg.Server.Addr)
		return nil
	},
}

// wallet command
var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage signing keys",
}

// newPassphrase asks for a passphrase twice.
func newPassphrase(ctx context.Context, p *app.TerminalPrompter) (string, error) {
	pass, err := p.Passphrase(ctx, "New passphrase")
	if err != nil {
		return "", err
	}
	again, err := p.Passphrase(ctx, "Repeat passphrase")
	if err != nil {
		return "", err
	}
	if pass != again {
		return "", errors.New("passphrases do not match")
	}
	return pass, nil
}

var walletNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p := newPrompter()
		ks, err := app.OpenKeystore(cfg, p)
		if err != nil {
			return err
		}
		pass, err := newPassphrase(cmd.Context(), p)
		if err != nil {
			return err
		}
		addr, err := ks.Create(pass)
		if err != nil {
			return err
		}
		fmt.Printf("Created account %s\n", addr.Hex())
		return nil
	},
}

var walletImportCmd = &cobra.Command{
	Use:   "import [HEXKEY]",
	Short: "Import a private key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p := newPrompter()
		ks, err := app.OpenKeystore(cfg, p)
		if err != nil {
			return err
		}

		var hexKey string
		if len(args) > 0 {
			hexKey = args[0]
		} else if hexKey, err = p.Passphrase(cmd.Context(), "Private key (hex)"); err != nil {
			return err
		}

		pass, err := newPassphrase(cmd.Context(), p)
		if err != nil {
			return err
		}
		addr, err := ks.Import(hexKey, pass)
		if err != nil {
			return err
		}
		fmt.Printf("Imported account %s\n", addr.Hex())
		return nil
	},
}

var walletListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ks, err := app.OpenKeystore(cfg, nil)
		if err != nil {
			return err
		}
		accounts, err := ks.List()
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts. Create one with `dfs wallet new`.")
			return nil
		}
		active, err := ks.Active()
		if err != nil {
			return err
		}
		for _, a := range accounts {
			marker := " "
			if a == active {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, a.Hex())
		}
		return nil
	},
}

var walletUseCmd = &cobra.Command{
	Use:   "use ADDRESS",
	Short: "Select the active account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := dfs.ParseAccount(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ks, err := app.OpenKeystore(cfg, nil)
		if err != nil {
			return err
		}
		if err := ks.Use(addr); err != nil {
			return err
		}
		fmt.Printf("Active account: %s\n", addr.Hex())
		return nil
	},
}

// upload command
var uploadCmd = &cobra.Command{
	Use:   "upload PATH",
	Short: "Pin a file and register it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		description, _ := cmd.Flags().GetString("description")

		a, err := newApp(cmd, "upload", args)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.UploadFile(cmd.Context(), args[0], name, description)
		if err != nil {
			if cid, ok := dfs.PinnedContentID(err); ok {
				fmt.Fprintf(os.Stderr, "Content stays pinned as %s; finish with `dfs register %s NAME -d DESCRIPTION`.\n", cid, cid)
			}
			return err
		}
		fmt.Printf("Registered %s v%d (%s)\n", rec.FileName, rec.Version, rec.ContentID)
		fmt.Printf("Gateway: %s\n", a.Registry().Resolve(rec.ContentID))
		return nil
	},
}

// register command
var registerCmd = &cobra.Command{
	Use:   "register CID NAME",
	Short: "Register content that is already pinned",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		a, err := newApp(cmd, "register", args)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Register(cmd.Context(), args[0], args[1], description)
		if err != nil {
			return err
		}
		fmt.Printf("Registered %s v%d (%s)\n", rec.FileName, rec.Version, rec.ContentID)
		return nil
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List your files, or files shared with you",
	RunE: func(cmd *cobra.Command, args []string) error {
		shared, _ := cmd.Flags().GetBool("shared")

		a, err := newApp(cmd, "ls", args)
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.List(cmd.Context(), shared)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No files.")
			return nil
		}
		for _, r := range records {
			printRecord(r)
			if shared {
				fmt.Printf("    owner %s\n", r.Owner.Hex())
			}
		}
		return nil
	},
}

// share command
var shareCmd = &cobra.Command{
	Use:   "share CID ADDRESS",
	Short: "Grant an account access to one of your files",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "share", args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Share(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Shared %s with %s\n", args[0], args[1])
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm NAME VERSION",
	Short: "Delete one version of a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}

		a, err := newApp(cmd, "rm", args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Delete(cmd.Context(), args[0], version); err != nil {
			return err
		}
		fmt.Printf("Deleted %s v%d\n", args[0], version)
		return nil
	},
}

// get command
var getCmd = &cobra.Command{
	Use:   "get CID [NAME]",
	Short: "Download content",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := newApp(cmd, "get", args)
		if err != nil {
			return err
		}
		defer a.Close()

		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		path, err := a.Download(cmd.Context(), args[0], name, output)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", path)
		return nil
	},
}

// preview command
var previewCmd = &cobra.Command{
	Use:   "preview CID NAME",
	Short: "Show how a file would be rendered",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "preview", args)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.Preview(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		switch p.Kind {
		case dfs.PreviewUnsupported:
			fmt.Printf("No preview for %s.\n", p.FileName)
		case dfs.PreviewText:
			fmt.Printf("%s (%s):\n\n%s\n", p.FileName, p.SniffedType, p.Text)
		default:
			fmt.Printf("%s %s: %s\n", p.Kind, p.FileName, p.URL)
		}
		return nil
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log NAME",
	Short: "View the versions of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "log", args)
		if err != nil {
			return err
		}
		defer a.Close()

		versions, err := a.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Println("No versions.")
			return nil
		}
		for _, r := range versions {
			printRecord(r)
		}
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the wallet connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "status", args)
		if err != nil {
			return err
		}
		defer a.Close()

		st := a.Status()
		if st.Connected {
			fmt.Printf("Account: %s\n", st.Account)
		} else {
			fmt.Println("Account: not connected")
		}
		fmt.Printf("Store:   %s\n", st.Store)
		fmt.Printf("Ledger:  %s\n", st.Ledger)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		a, err := newApp(cmd, "serve", args)
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := a.Config()
		if addr == "" {
			addr = cfg.Server.Addr
		}

		if _, err := a.Connect(cmd.Context()); err != nil {
			return err
		}

		srv := server.New(a.Session(), a.Registry(), a.Logger(), server.Options{AllowedOrigins: cfg.Server.AllowedOrigins})
		fmt.Printf("Listening on http://%s\n", addr)
		return srv.Run(cmd.Context(), addr)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// wallet subcommands
	walletCmd.AddCommand(walletNewCmd)
	walletCmd.AddCommand(walletImportCmd)
	walletCmd.AddCommand(walletListCmd)
	walletCmd.AddCommand(walletUseCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(walletCmd)
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringP("name", "n", "", "File name to register (default: base name of PATH)")
	uploadCmd.Flags().StringP("description", "d", "", "File description")
	uploadCmd.MarkFlagRequired("description")
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().StringP("description", "d", "", "File description")
	registerCmd.MarkFlagRequired("description")
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().Bool("shared", false, "List files shared with you")
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringP("output", "o", "", "Output file or directory")
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default: server.addr from config)")
}
