package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner.
func PrintBanner(config *Config, logger arbor.ILogger) {
	version := GetVersion()
	build := GetBuild()
	serviceURL := fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)

	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("HARMONY ORCHESTRATION CORE")
	b.PrintCenteredText("request-driven geospatial transformation orchestration")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Build", build, 15)
	b.PrintKeyValue("Environment", config.Environment, 15)
	b.PrintKeyValue("Service URL", serviceURL, 15)
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().
		Str("version", version).
		Str("build", build).
		Str("environment", config.Environment).
		Str("service_url", serviceURL).
		Msg("Application started")

	fmt.Printf("Configuration:\n")
	fmt.Printf("   - Postgres: %s\n", redactDSN(config.Postgres.DSN))
	fmt.Printf("   - Object store: %s\n", config.Storage.Badger.Path)
	fmt.Printf("   - Catalog backend: %s\n", config.Catalog.BaseURL)
	fmt.Printf("   - Dispatch visibility timeout: %s\n", config.Dispatch.VisibilityTimeout)
	fmt.Printf("   - Reaper interval: %s\n", config.Reaper.Interval)
	if config.Metrics.Enabled {
		fmt.Printf("   - Metrics: %s\n", config.Metrics.Path)
	}
	fmt.Printf("\n")

	logger.Info().
		Int32("postgres_max_conns", config.Postgres.MaxConns).
		Str("object_store_path", config.Storage.Badger.Path).
		Str("catalog_base_url", config.Catalog.BaseURL).
		Int("max_granule_limit", config.Planner.MaxGranuleLimit).
		Bool("metrics_enabled", config.Metrics.Enabled).
		Msg("Configuration loaded")
}

// redactDSN strips credentials from a Postgres DSN before it is printed.
func redactDSN(dsn string) string {
	at := -1
	for i := len(dsn) - 1; i >= 0; i-- {
		if dsn[i] == '@' {
			at = i
			break
		}
	}
	schemeEnd := -1
	for i := 0; i < len(dsn)-2; i++ {
		if dsn[i] == ':' && dsn[i+1] == '/' && dsn[i+2] == '/' {
			schemeEnd = i + 3
			break
		}
	}
	if at == -1 || schemeEnd == -1 || at < schemeEnd {
		return dsn
	}
	return dsn[:schemeEnd] + "***@" + dsn[at+1:]
}

// PrintShutdownBanner displays the application shutdown banner.
func PrintShutdownBanner(logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText("HARMONY CORE")
	b.PrintBottomLine()
	fmt.Println()

	logger.Info().Msg("Application shutting down")
}

// PrintColorizedMessage prints a message in the given color and logs it.
func PrintColorizedMessage(color, message string, logger arbor.ILogger) {
	fmt.Printf("%s%s%s\n", color, message, banner.ColorReset)
}

// PrintSuccess prints and logs a success message.
func PrintSuccess(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorGreen, fmt.Sprintf("[ok] %s", message), logger)
	logger.Info().Str("type", "success").Msg(message)
}

// PrintError prints and logs an error message.
func PrintError(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorRed, fmt.Sprintf("[error] %s", message), logger)
	logger.Error().Str("type", "error").Msg(message)
}

// PrintWarning prints and logs a warning message.
func PrintWarning(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorYellow, fmt.Sprintf("[warn] %s", message), logger)
	logger.Warn().Str("type", "warning").Msg(message)
}

// PrintInfo prints and logs an informational message.
func PrintInfo(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorCyan, fmt.Sprintf("[info] %s", message), logger)
	logger.Info().Str("type", "info").Msg(message)
}
