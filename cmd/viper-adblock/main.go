package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/LeFroid/Viper-Browser-sub001/internal/adblock"
	"github.com/LeFroid/Viper-Browser-sub001/internal/fetcher"
	"github.com/LeFroid/Viper-Browser-sub001/internal/models"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cfg     models.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "viper-adblock",
	Short: "Ad and tracker filter engine for the Viper browser",
	Long: `A filter engine that loads uBlock Origin and Adblock Plus subscriptions,
decides which requests a page may make and builds the cosmetic stylesheets
and scripts injected into pages.`,
	SilenceUsage: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	RunE:  runInit,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed subscriptions",
	RunE:  runList,
}

var installCmd = &cobra.Command{
	Use:   "install [url...]",
	Short: "Download and install subscriptions",
	RunE:  runInstall,
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update subscriptions whose expiry passed",
	Args:  cobra.NoArgs,
	RunE:  runUpdate,
}

var checkCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Show the decision and cosmetics for a request",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the hook API and refresh subscriptions periodically",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./configs/viper_adblock.toml)")

	listCmd.Flags().Bool("configured", false, "list the lists of the config file instead")

	installCmd.Flags().Bool("all", false, "install every enabled list of the config file")

	checkCmd.Flags().String("first-party", "", "URL of the page making the request")
	checkCmd.Flags().String("type", "other", "resource type of the request")

	rootCmd.AddCommand(initCmd, listCmd, installCmd, updateCmd, checkCmd, serveCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("viper_adblock")
		viper.SetConfigType("toml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("VIPER_ADBLOCK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("adblock.enabled", true)
	viper.SetDefault("adblock.config_file", "./data/adblock.json")
	viper.SetDefault("adblock.data_dir", "./data")
	viper.SetDefault("http.timeout", "30s")
	viper.SetDefault("http.retries", 3)
	viper.SetDefault("http.max_size", "64MB")
	viper.SetDefault("cache.size", 24)
	viper.SetDefault("refresh.interval", "1h")
	viper.SetDefault("server.listen", "127.0.0.1:8089")
	viper.SetDefault("log.format", string(slogutil.FormatText))
	viper.SetDefault("log.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
		}
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := viper.Unmarshal(&cfg, hook); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
	}
}

// newLogger creates the base logger from the log section of the config
func newLogger() (l *slog.Logger, err error) {
	format, err := slogutil.NewFormat(cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("log format: %w", err)
	}

	var lvl slog.Level
	err = lvl.UnmarshalText([]byte(cfg.Log.Level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	return slogutil.New(&slogutil.Config{
		Format:       format,
		Level:        lvl,
		AddTimestamp: true,
	}), nil
}

// newManager creates the engine from the config and loads the installed
// subscriptions
func newManager(ctx context.Context, logger *slog.Logger, mtrc adblock.Metrics) (m *adblock.Manager, err error) {
	f := fetcher.New(&fetcher.Config{
		Logger:  logger,
		Timeout: cfg.HTTP.Timeout,
		Retries: cfg.HTTP.Retries,
		MaxSize: cfg.HTTP.MaxSize,
	})

	m, err = adblock.New(ctx, &adblock.Config{
		Logger:     logger,
		Downloader: f,
		Metrics:    mtrc,
		ConfigFile: cfg.AdBlock.ConfigFile,
		DataDir:    cfg.AdBlock.DataDir,
		CacheSize:  cfg.Cache.Size,
		Enabled:    cfg.AdBlock.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	err = m.LoadSubscriptions(ctx)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// setup creates the logger and the engine for the one-shot commands
func setup(ctx context.Context) (m *adblock.Manager, err error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	if !cfg.AdBlock.Enabled {
		return nil, adblock.ErrDisabled
	}

	return newManager(ctx, logger, adblock.EmptyMetrics{})
}

func runList(cmd *cobra.Command, args []string) error {
	configured, _ := cmd.Flags().GetBool("configured")
	if configured {
		fmt.Println("Configured filter lists:")
		fmt.Println()
		for _, list := range cfg.Lists {
			fmt.Printf("  [%s] %s\n", status(list.Enabled), list.Name)
			fmt.Printf("         %s\n\n", list.URL)
		}

		return nil
	}

	m, err := setup(cmd.Context())
	if err != nil {
		return err
	}

	infos := m.Subscriptions()
	if len(infos) == 0 {
		fmt.Println("No subscriptions installed")

		return nil
	}

	fmt.Println("Installed subscriptions:")
	fmt.Println()
	for _, info := range infos {
		fmt.Printf("  %d. [%s] %s (%d filters)\n", info.Index, status(info.Enabled), info.Name, info.Filters)
		if info.Source != "" {
			fmt.Printf("         %s\n", info.Source)
		}
		if !info.NextUpdate.IsZero() {
			fmt.Printf("         next update: %s\n", info.NextUpdate.Format("2006-01-02 15:04"))
		}
	}

	return nil
}

func status(enabled bool) string {
	if enabled {
		return "enabled"
	}

	return "disabled"
}

func runInstall(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")

	urls := args
	if all {
		for _, list := range cfg.EnabledLists() {
			urls = append(urls, list.URL)
		}
	}

	if len(urls) == 0 {
		return fmt.Errorf("no filter lists to install")
	}

	ctx := cmd.Context()
	m, err := setup(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, u := range urls {
		fmt.Printf("  Installing %s...\n", u)
		if err = m.InstallSubscription(ctx, u); err != nil {
			fmt.Printf("    ERROR: %v\n", err)
			errs = append(errs, err)
		}
	}

	if err = m.Save(); err != nil {
		errs = append(errs, fmt.Errorf("saving subscriptions: %w", err))
	}

	return errors.Join(errs...)
}

func runUpdate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	m, err := setup(ctx)
	if err != nil {
		return err
	}

	err = m.UpdateSubscriptions(ctx)
	if saveErr := m.Save(); saveErr != nil {
		err = errors.Join(err, fmt.Errorf("saving subscriptions: %w", saveErr))
	}

	return err
}

func runCheck(cmd *cobra.Command, args []string) error {
	firstParty, _ := cmd.Flags().GetString("first-party")
	typeName, _ := cmd.Flags().GetString("type")

	rt := models.ParseResourceType(typeName)
	if rt == models.ResourceUnknown && !strings.EqualFold(typeName, "other") {
		return fmt.Errorf("resource type %q: %w", typeName, errors.ErrBadEnumValue)
	}

	ctx := cmd.Context()
	m, err := setup(ctx)
	if err != nil {
		return err
	}

	reqURL := args[0]
	if firstParty == "" {
		firstParty = reqURL
	}

	d := m.ShouldBlockRequest(ctx, reqURL, firstParty, rt)
	switch {
	case d.RedirectTo != "":
		fmt.Printf("redirect: %s\n", d.RedirectTo)
	case d.Block:
		fmt.Println("block")
	default:
		fmt.Println("allow")
	}

	if css := m.DomainStylesheet(ctx, firstParty); css != "" {
		fmt.Printf("\nDomain stylesheet:\n%s\n", css)
	}
	if script := m.DomainJavaScript(ctx, firstParty); script != "" {
		fmt.Printf("\nDomain script: %d bytes\n", len(script))
	}

	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := "./configs/viper_adblock.toml"
	if cfgFile != "" {
		configPath = cfgFile
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return err
	}

	fmt.Printf("Created config file: %s\n", configPath)

	return nil
}

const defaultConfig = `# Viper ad block engine configuration

# Engine switch and storage
[adblock]
enabled = true
config_file = "./data/adblock.json"
data_dir = "./data"

# HTTP client settings
[http]
timeout = "30s"
retries = 3
max_size = "64MB"

# Number of domains kept in each cosmetic cache
[cache]
size = 24

# Subscription refresh schedule of the serve command
[refresh]
interval = "1h"

# Hook API
[server]
listen = "127.0.0.1:8089"

[log]
format = "text"
level = "info"

# Lists installed by "install --all" and on the first start of "serve"
# Set enabled = false to skip a list

[[lists]]
name = "easylist"
url = "https://easylist.to/easylist/easylist.txt"
enabled = true

[[lists]]
name = "easyprivacy"
url = "https://easylist.to/easylist/easyprivacy.txt"
enabled = true

[[lists]]
name = "ublock-filters"
url = "https://ublockorigin.github.io/uAssets/filters/filters.txt"
enabled = true

[[lists]]
name = "ublock-privacy"
url = "https://ublockorigin.github.io/uAssets/filters/privacy.txt"
enabled = true

[[lists]]
name = "ublock-badware"
url = "https://ublockorigin.github.io/uAssets/filters/badware.txt"
enabled = true

[[lists]]
name = "ublock-unbreak"
url = "https://ublockorigin.github.io/uAssets/filters/unbreak.txt"
enabled = true

[[lists]]
name = "peter-lowe"
url = "https://pgl.yoyo.org/adservers/serverlist.php?hostformat=hosts&showintro=1&mimetype=plaintext"
enabled = false
`
