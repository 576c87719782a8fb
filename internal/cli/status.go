package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/storeforge/storeforge/internal/config"
	"github.com/storeforge/storeforge/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service status",
	Long:  `Query the running service's health endpoint and print its status.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pid, err := daemon.ReadPID(cfg.DataDir)
	if err != nil {
		fmt.Println("Service is not running (no PID file)")
		return nil
	}

	host := cfg.Server.Host
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s:%d/health", host, cfg.Server.Port)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("Service PID %d recorded but health check failed: %v\n", pid, err)
		return nil
	}
	defer resp.Body.Close()

	var health struct {
		Status   string  `json:"status"`
		Uptime   float64 `json:"uptime"`
		Sessions int     `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}

	fmt.Printf("Status:          %s\n", health.Status)
	fmt.Printf("PID:             %d\n", pid)
	fmt.Printf("Uptime:          %s\n", (time.Duration(health.Uptime) * time.Second).Round(time.Second))
	fmt.Printf("Active sessions: %d\n", health.Sessions)

	return nil
}
