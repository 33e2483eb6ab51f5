package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/estatedesk/crm/client"
)

// Build-time variables set via ldflags.
var (
	version   = "0.1.0"
	commit    = ""
	buildDate = ""
)

const defaultURL = "http://localhost:3040"

var (
	apiClient *client.Client
	flagURL   string
	flagToken string
	flagFmt   string
)

func versionString() string {
	if commit != "" && buildDate != "" {
		return fmt.Sprintf("crmctl version %s (commit: %s, built: %s)", version, commit, buildDate)
	}
	return fmt.Sprintf("crmctl version %s-dev", version)
}

type configFile struct {
	// Flat format
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// Profile format
	Profiles      map[string]configProfile `yaml:"profiles"`
	ActiveProfile string                   `yaml:"active_profile"`
}

type configProfile struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "crmctl",
		Short:   "crmctl, operator CLI for the brokerage CRM",
		Version: versionString(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			resolveConfig()
			var opts []client.Option
			if flagToken != "" {
				opts = append(opts, client.WithToken(flagToken))
			}
			apiClient = client.New(flagURL, opts...)
		},
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&flagURL, "url", defaultURL, "CRM server URL (env: CRM_URL)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Bearer token (env: CRM_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&flagFmt, "format", "json", "Output format: json|table|quiet")

	skip := func(cmd *cobra.Command, args []string) {} // skip client setup
	initCmd := newInitCmd()
	initCmd.PersistentPreRun = skip
	doctorCmd := newDoctorCmd()
	doctorCmd.PersistentPreRun = skip
	tokenCmd := newTokenCmd()
	tokenCmd.PersistentPreRun = skip

	rootCmd.AddCommand(initCmd, doctorCmd, tokenCmd)
	for _, r := range resourceKinds {
		rootCmd.AddCommand(newResourceCmd(r))
	}
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".crm", "config.yaml"), nil
}

// resolveSettings picks the URL and token. Flag takes precedence, then env,
// then the config file.
func resolveSettings(url, token string, cfg *configFile) (string, string) {
	if url == defaultURL {
		if v := os.Getenv("CRM_URL"); v != "" {
			url = v
		}
	}
	if token == "" {
		token = os.Getenv("CRM_TOKEN")
	}
	if cfg == nil {
		return url, token
	}

	// Resolve from profiles if available, fall back to flat format
	resolvedURL := cfg.URL
	resolvedToken := cfg.Token
	if cfg.Profiles != nil {
		profileName := cfg.ActiveProfile
		if profileName == "" {
			profileName = "default"
		}
		if p, ok := cfg.Profiles[profileName]; ok {
			if p.URL != "" {
				resolvedURL = p.URL
			}
			if p.Token != "" {
				resolvedToken = p.Token
			}
		}
	}
	if url == defaultURL && resolvedURL != "" {
		url = resolvedURL
	}
	if token == "" && resolvedToken != "" {
		token = resolvedToken
	}
	return url, token
}

func loadConfig() (string, *configFile, error) {
	cfgPath, err := configPath()
	if err != nil {
		return "", nil, err
	}
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return cfgPath, nil, err
	}
	var cfg configFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfgPath, nil, err
	}
	return cfgPath, &cfg, nil
}

func resolveConfig() {
	// A missing or malformed config file is ignored.
	_, cfg, _ := loadConfig()
	flagURL, flagToken = resolveSettings(flagURL, flagToken, cfg)
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	if vc, ok := client.AsVersionConflict(err); ok {
		fmt.Fprintf(os.Stderr, "   Hint: record is at version %d; refetch and retry with --version %d\n", vc.CurrentVersion, vc.CurrentVersion)
	}
	os.Exit(1)
}
