package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanq16/danzo-agent/agent"
	"github.com/tanq16/danzo-agent/internal/output"
	"github.com/tanq16/danzo-agent/internal/utils"
)

var (
	outputDir        string
	fileName         string
	urlListFile      string
	configPath       string
	maxDownloads     int
	timeout          time.Duration
	kaTimeout        time.Duration
	userAgent        string
	proxyURL         string
	proxyUsername    string
	proxyPassword    string
	headers          []string
	tunedSockets     bool
	pauseOnInterrupt bool
	resumeFile       string
	debug            bool
)

var DanzoVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "danzo-agent [URL...]",
	Short:   "Resumable HTTP download agent",
	Version: DanzoVersion,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if len(args) == 0 && urlListFile == "" {
			output.PrintError("No URL or URL list provided")
			os.Exit(1)
		}
		if urlListFile != "" && len(args) > 0 {
			output.PrintError("Cannot specify url argument and --urllist together, choose one")
			os.Exit(1)
		}
		if fileName != "" && len(args) > 1 {
			output.PrintError("--name only applies to a single URL")
			os.Exit(1)
		}
		cfg, err := buildConfig(cmd)
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		var entries []utils.DownloadEntry
		if urlListFile != "" {
			entries, err = utils.ReadDownloadList(urlListFile)
			if err != nil {
				output.PrintError(fmt.Sprintf("Failed to read URL list file: %v", err))
				os.Exit(1)
			}
		} else {
			for _, arg := range args {
				entries = append(entries, utils.DownloadEntry{URL: arg, FileName: fileName})
			}
		}
		execute(cfg, entries)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&outputDir, "output", "o", ".", "Directory to save downloads into")
	flags.StringVarP(&configPath, "config", "c", "", "Path to a YAML agent config file")
	flags.IntVarP(&maxDownloads, "max-downloads", "w", agent.DefaultConfig().MaxDownloads, "Number of downloads running at once")
	flags.DurationVarP(&timeout, "timeout", "t", 60*time.Second, "Response header timeout (eg. 5s, 10m)")
	flags.DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 60*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	flags.StringVarP(&userAgent, "user-agent", "a", utils.DefaultUserAgent, "User agent ('randomize' picks a browser agent)")
	flags.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	flags.StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	flags.StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	flags.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	flags.BoolVar(&tunedSockets, "tuned-sockets", false, "Use large socket buffers")
	flags.BoolVar(&pauseOnInterrupt, "pause-on-interrupt", false, "On Ctrl+C pause downloads and save resume entries instead of canceling")
	flags.StringVar(&resumeFile, "resume-file", "danzo-resume.yaml", "Where --pause-on-interrupt writes resume entries")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.Flags().StringVarP(&urlListFile, "urllist", "l", "", "Path to YAML file containing URLs and output paths")
	rootCmd.Flags().StringVarP(&fileName, "name", "n", "", "File name for a single URL (inferred if not provided)")

	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
}

func setupLogging() {
	if debug {
		utils.InitLogger(true, nil)
		return
	}
	utils.DisableLogging()
}

// buildConfig layers explicitly set flags over the config file, or over the
// defaults when no file is given.
func buildConfig(cmd *cobra.Command) (agent.Config, error) {
	cfg := agent.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = agent.LoadConfig(configPath); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("output") || configPath == "" {
		cfg.InstallPath = outputDir
	}
	if flags.Changed("max-downloads") || configPath == "" {
		cfg.MaxDownloads = maxDownloads
	}
	if flags.Changed("timeout") || configPath == "" {
		cfg.Timeout = timeout
	}
	if flags.Changed("keep-alive-timeout") || configPath == "" {
		cfg.KATimeout = kaTimeout
	}
	if flags.Changed("user-agent") || configPath == "" {
		cfg.UserAgent = userAgent
	}
	if cfg.UserAgent == "randomize" {
		cfg.UserAgent = utils.GetRandomUserAgent()
	}
	if flags.Changed("tuned-sockets") {
		cfg.TunedSockets = tunedSockets
	}
	if flags.Changed("proxy") {
		cfg.ProxyURL = proxyURL
	}
	if flags.Changed("proxy-username") {
		cfg.ProxyUsername = proxyUsername
	}
	if flags.Changed("proxy-password") {
		cfg.ProxyPassword = proxyPassword
	}
	// Check if proxy URL contains auth
	if parsedProxy, err := u.Parse(cfg.ProxyURL); err == nil && parsedProxy.User != nil && cfg.ProxyUsername == "" {
		cfg.ProxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			cfg.ProxyPassword = password
		}
		parsedProxy.User = nil
		cfg.ProxyURL = parsedProxy.String()
	}
	if cfg.MaxDownloads <= 0 {
		return cfg, fmt.Errorf("--max-downloads must be positive")
	}
	if err := os.MkdirAll(cfg.InstallPath, 0755); err != nil {
		return cfg, fmt.Errorf("error creating output directory: %v", err)
	}
	return cfg, nil
}

// execute runs entries to completion and exits non-zero if any failed.
func execute(cfg agent.Config, entries []utils.DownloadEntry) {
	ctx, stop := interruptContext()
	defer stop()
	result, err := runDownloads(ctx, cfg, entries, runOptions{
		Headers:          headers,
		PauseOnInterrupt: pauseOnInterrupt,
		Out:              os.Stdout,
	})
	if err != nil {
		output.PrintError(fmt.Sprintf("Encountered failed download(s): %v", err))
	}
	if len(result.Resume) > 0 {
		if werr := utils.WriteDownloadList(resumeFile, result.Resume); werr != nil {
			output.PrintError(werr.Error())
			os.Exit(1)
		}
		output.PrintWarning(fmt.Sprintf("Paused %d download(s); continue with: danzo-agent batch %s", len(result.Resume), resumeFile))
	}
	if err != nil {
		os.Exit(1)
	}
}
