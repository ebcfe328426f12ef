package warden

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the health of the local Warden service",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 3 * time.Second}
	out := cmd.OutOrStdout()

	resp, err := client.Get(base + "/healthz")
	if err != nil {
		fmt.Fprintln(out, "status: service is not running")
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(out, "status: service returned %s\n", resp.Status)
		return nil
	}

	resp, err = client.Get(base + "/readyz")
	if err == nil {
		resp.Body.Close()
	}
	if err != nil || resp.StatusCode != http.StatusOK {
		fmt.Fprintln(out, "status: service is up but cannot execute commands")
		return nil
	}
	fmt.Fprintln(out, "status: service is healthy")
	return nil
}
