package cmd

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/autoreply/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and backend reachability",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("autoreply doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config invalid: %s\n", err)
		return
	}
	fmt.Println("  Validation: OK")
	fmt.Println()

	fmt.Println("  AI backend:")
	fmt.Printf("    %-10s %s\n", "URL:", cfg.Agent.BaseURL)
	fmt.Printf("    %-10s %s\n", "API key:", presence(cfg.Agent.APIKey))
	probe(cfg.Agent.BaseURL + "/health")
	fmt.Println()

	fmt.Println("  Send API:")
	fmt.Printf("    %-10s %s\n", "URL:", cfg.Sender.BaseURL)
	fmt.Printf("    %-10s %s\n", "Token:", presence(cfg.Sender.Token))
}

func probe(url string) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("    %-10s UNREACHABLE (%s)\n", "Health:", err)
		return
	}
	resp.Body.Close()
	fmt.Printf("    %-10s %s\n", "Health:", resp.Status)
}

func presence(secret string) string {
	if strings.TrimSpace(secret) == "" {
		return "(not set)"
	}
	return "set"
}
