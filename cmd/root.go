package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/riptidehq/riptide/internal/engine"
	"github.com/riptidehq/riptide/internal/output"
	"github.com/riptidehq/riptide/internal/progress"
	"github.com/riptidehq/riptide/internal/utils"
)

var (
	outputPath    string
	numTargets    int64
	connections   int
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	s3Profile     string
	headers       []string
	retries       int
	debug         bool
	quiet         bool
	cleanOutput   bool
)

var RiptideVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "riptide [URL...]",
	Short:   "Riptide is an adaptive parallel download engine",
	Version: RiptideVersion,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if cleanOutput {
			if err := utils.Clean(outputPath); err != nil {
				output.PrintError("Error cleaning up temporary files")
				os.Exit(1)
			}
			output.PrintSuccess("Temporary files cleaned up")
			return
		}
		if len(args) == 0 {
			output.PrintError("No URL provided")
			os.Exit(1)
		}
		targets := make([]engine.Target, 0, len(args))
		for _, link := range args {
			if _, err := u.Parse(link); err != nil {
				output.PrintError(fmt.Sprintf("Invalid URL: %s", link))
				os.Exit(1)
			}
			targets = append(targets, engine.Target{
				URL:         link,
				OutputPath:  outputPath,
				RetryBudget: retries,
			})
		}
		if runTargets(targets) > 0 {
			fmt.Println()
			output.PrintError("Encountered failed download(s)")
			os.Exit(1)
		}
	},
}

// runTargets drives a set of targets to completion with the live display
// attached, returning the number of failures.
func runTargets(targets []engine.Target) int {
	utils.InitLogger(debug)
	eng := engine.New(engine.Config{
		Connections:          connections,
		MaxConcurrentTargets: numTargets,
		ClientConfig:         buildClientConfig(),
		S3Profile:            s3Profile,
	})

	manager := output.NewManager()
	manager.SetQuiet(quiet || debug)
	displayDone := make(chan struct{})
	go func() {
		defer close(displayDone)
		manager.Run(eng.ProgressUpdates())
	}()

	ids := eng.BatchSubmit(targets)
	for i, id := range ids {
		if id == "" {
			output.PrintWarning(fmt.Sprintf("Skipped duplicate URL: %s", targets[i].URL))
		}
	}
	eng.Wait()

	failed := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if snap, ok := eng.Status(id); ok && snap.Status == progress.StatusFailed {
			failed++
		}
	}
	eng.Close()
	<-displayDone
	return failed
}

func buildClientConfig() utils.HTTPClientConfig {
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	// Pull credentials embedded in the proxy URL into their own fields
	parsedProxy, err := u.Parse(proxyURL)
	if err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	return utils.HTTPClientConfig{
		Timeout:        timeout,
		KATimeout:      kaTimeout,
		ProxyURL:       proxyURL,
		ProxyUsername:  proxyUsername,
		ProxyPassword:  proxyPassword,
		UserAgent:      userAgent,
		Headers:        utils.ParseHeaderArgs(headers),
		HighThreadMode: connections > 8,
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (riptide infers file name if not provided)")
	rootCmd.Flags().Int64VarP(&numTargets, "workers", "w", 4, "Number of targets to download in parallel")
	rootCmd.Flags().IntVarP(&connections, "connections", "c", 8, "Connection cap per download (above 8 enables high-thread-mode)")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	rootCmd.Flags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.Flags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a browser UA)")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.Flags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.Flags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.Flags().StringVar(&s3Profile, "aws-profile", "", "AWS profile for s3:// targets")
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.Flags().IntVarP(&retries, "retries", "r", 0, "Retry budget per fetch unit (0 uses the default, negative disables retries)")

	// flags without shorthand
	rootCmd.Flags().BoolVar(&cleanOutput, "clean", false, "Clean up temporary files for provided output path")
	rootCmd.Flags().BoolVar(&quiet, "quiet", false, "Disable the live progress display")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
}
