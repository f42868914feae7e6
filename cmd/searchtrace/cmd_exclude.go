package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(excludeCmd)
	excludeCmd.AddCommand(excludeListCmd, excludeAddCmd, excludeRemoveCmd)
}

var excludeCmd = &cobra.Command{
	Use:   "exclude",
	Short: "Manage excluded domains",
}

var excludeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List excluded domains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		domains := cfg.ExcludedDomains
		var resp struct {
			Domains []string `json:"domains"`
		}
		if err := controlCall(cfg, http.MethodGet, "/control/excluded-domains", nil, &resp); err == nil {
			domains = resp.Domains
		}
		if len(domains) == 0 {
			fmt.Println("No excluded domains.")
			return nil
		}
		for _, d := range domains {
			fmt.Println(d)
		}
		return nil
	},
}

var excludeAddCmd = &cobra.Command{
	Use:   "add <domain>",
	Short: "Add an excluded domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateExclusions(args[0], true)
	},
}

var excludeRemoveCmd = &cobra.Command{
	Use:   "remove <domain>",
	Short: "Remove an excluded domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateExclusions(args[0], false)
	},
}

// updateExclusions pushes the change through the running agent so it takes
// effect immediately; with no agent running it edits the config file
// directly.
func updateExclusions(domain string, add bool) error {
	cfg := loadConfig()
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return fmt.Errorf("domain must not be empty")
	}

	domains := cfg.ExcludedDomains
	var current struct {
		Domains []string `json:"domains"`
	}
	viaAgent := controlCall(cfg, http.MethodGet, "/control/excluded-domains", nil, &current) == nil
	if viaAgent {
		domains = current.Domains
	}

	updated := make([]string, 0, len(domains)+1)
	for _, d := range domains {
		if d != domain {
			updated = append(updated, d)
		}
	}
	if add {
		updated = append(updated, domain)
	}

	if viaAgent {
		body := map[string][]string{"domains": updated}
		if err := controlCall(cfg, http.MethodPut, "/control/excluded-domains", body, nil); err != nil {
			return err
		}
	} else {
		cfg.ExcludedDomains = updated
		if err := cfg.Save(); err != nil {
			return err
		}
	}

	if add {
		fmt.Printf("Excluded %s.\n", domain)
	} else {
		fmt.Printf("Removed %s from exclusions.\n", domain)
	}
	return nil
}
