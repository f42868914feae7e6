package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/searchlab/searchtrace/internal/config"
)

func init() {
	rootCmd.AddCommand(recordCmd, uploadCmd)
	recordCmd.AddCommand(recordStartCmd, recordStopCmd, recordStatusCmd)
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Control the recording session on a running agent",
}

var recordStartCmd = &cobra.Command{
	Use:   "start <participant-id>",
	Short: "Start a recording session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		var resp struct {
			SessionID string `json:"sessionId"`
		}
		err := controlCall(cfg, http.MethodPost, "/control/start",
			map[string]string{"participantId": args[0]}, &resp)
		if err != nil {
			return err
		}
		fmt.Printf("Recording started: %s\n", resp.SessionID)
		return nil
	},
}

var recordStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active recording session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		var resp struct {
			SessionID string `json:"sessionId"`
		}
		if err := controlCall(cfg, http.MethodPost, "/control/stop", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("Recording stopped: %s\n", resp.SessionID)
		return nil
	},
}

var recordStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recording status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		var resp struct {
			IsRecording   bool   `json:"isRecording"`
			SessionID     string `json:"sessionId"`
			ParticipantID string `json:"participantId"`
			EventCount    int64  `json:"eventCount"`
			EventsSent    int64  `json:"eventsSent"`
		}
		if err := controlCall(cfg, http.MethodGet, "/control/status", nil, &resp); err != nil {
			return err
		}
		if !resp.IsRecording {
			fmt.Println("Not recording.")
			return nil
		}
		fmt.Printf("Recording session %s\n", resp.SessionID)
		fmt.Printf("  participant: %s\n", resp.ParticipantID)
		fmt.Printf("  events buffered: %d\n", resp.EventCount)
		fmt.Printf("  events uploaded: %d\n", resp.EventsSent)
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Force an immediate flush to the collector",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := controlCall(cfg, http.MethodPost, "/control/upload", nil, nil); err != nil {
			return err
		}
		fmt.Println("Flush requested.")
		return nil
	},
}

// controlCall talks to the running agent's control API.
func controlCall(cfg *config.Config, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, "http://"+cfg.ListenAddr+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("agent not reachable at %s (is `searchtrace serve` running?): %w", cfg.ListenAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("agent returned status %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
