package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/searchlab/searchtrace/internal/buffer"
	"github.com/searchlab/searchtrace/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionClearCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect locally buffered sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions with locally buffered events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		eventLog := buffer.NewEventLog(cfg.DataDir)
		meta := buffer.NewMetaStore(cfg.DataDir)
		ctx := context.Background()

		active, err := meta.Load(ctx)
		if err != nil {
			return fmt.Errorf("load session meta: %w", err)
		}

		sessionsDir := filepath.Join(cfg.DataDir, "sessions")
		entries, err := os.ReadDir(sessionsDir)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("No sessions found.")
				return nil
			}
			return fmt.Errorf("read sessions dir: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tSTATUS\tBUFFERED")
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			sessionID := types.SessionID(entry.Name())
			count, err := eventLog.Count(ctx, sessionID)
			if err != nil {
				count = 0
			}
			status := "idle"
			if active != nil && active.Active && active.SessionID == sessionID {
				status = "recording"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\n", sessionID, status, count)
		}
		return w.Flush()
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <id|all>",
	Short: "Delete locally buffered session data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessionsDir := filepath.Join(cfg.DataDir, "sessions")

		if args[0] == "all" {
			if err := os.RemoveAll(sessionsDir); err != nil {
				return fmt.Errorf("remove sessions directory: %w", err)
			}
			if err := os.RemoveAll(filepath.Join(cfg.DataDir, "pending")); err != nil {
				return fmt.Errorf("remove pending directory: %w", err)
			}
			fmt.Println("All buffered sessions cleared.")
			return nil
		}

		// Validate path to prevent traversal
		sessionDir := filepath.Join(sessionsDir, args[0])
		if !strings.HasPrefix(filepath.Clean(sessionDir), filepath.Clean(sessionsDir)+string(os.PathSeparator)) {
			return fmt.Errorf("invalid session id: %s", args[0])
		}
		if _, err := os.Stat(sessionDir); os.IsNotExist(err) {
			return fmt.Errorf("session not found: %s", args[0])
		}
		if err := os.RemoveAll(sessionDir); err != nil {
			return fmt.Errorf("remove session directory: %w", err)
		}
		fmt.Printf("Session %s cleared.\n", args[0])
		return nil
	},
}
