package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/estatedesk/crm/client"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration and connectivity",
		Long:  "Run diagnostic checks against config, server readiness, and auth",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor()
		},
	}
}

type checkResult struct {
	Name   string
	Passed bool
	Detail string
	Hint   string
}

func runDoctor() error {
	fmt.Println("\nCRM Doctor")
	fmt.Println("==========")

	var results []checkResult

	cfgPath, cfg, cfgErr := loadConfig()
	if cfgErr != nil {
		results = append(results, checkResult{
			Name: "Config file", Passed: false, Detail: cfgPath, Hint: "Run: crmctl init",
		})
	} else {
		results = append(results, checkResult{
			Name: "Config file", Passed: true, Detail: fmt.Sprintf("found (%s)", cfgPath),
		})
	}

	url, token := resolveSettings(flagURL, flagToken, cfg)
	results = append(results, checkResult{Name: "Server URL", Passed: true, Detail: url})

	if token == "" {
		results = append(results, checkResult{
			Name: "Token", Passed: false,
			Hint: "Set --token, CRM_TOKEN, or run crmctl init",
		})
	} else {
		results = append(results, checkResult{Name: "Token", Passed: true, Detail: "configured"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := client.New(url, client.WithToken(token), client.WithTimeout(5*time.Second))

	if health, err := c.Health(ctx); err != nil {
		results = append(results, checkResult{
			Name: "Server reachable", Passed: false, Detail: url,
			Hint: fmt.Sprintf("Is crm-server running? Error: %v", err),
		})
	} else {
		results = append(results, checkResult{
			Name: "Server reachable", Passed: true,
			Detail: fmt.Sprintf("v%s, schema %d, database %s", health.Version, health.SchemaVersion, health.Database),
		})
	}

	if checks, err := doctorCheckReady(ctx, url); err != nil {
		results = append(results, checkResult{
			Name: "Ready", Passed: false, Detail: fmt.Sprint(checks),
			Hint: fmt.Sprintf("Check the database and migrations. Error: %v", err),
		})
	} else {
		results = append(results, checkResult{Name: "Ready", Passed: true})
	}

	if token != "" {
		if _, err := c.Leads.List(ctx, &client.ListOptions{Limit: 1}); err != nil {
			results = append(results, checkResult{
				Name: "Authentication", Passed: false,
				Hint: fmt.Sprintf("Check your token (crmctl token can sign one). Error: %v", err),
			})
		} else {
			results = append(results, checkResult{Name: "Authentication", Passed: true, Detail: "valid"})
		}
	}

	fmt.Println()
	allPassed := true
	for _, r := range results {
		mark := "✅"
		if !r.Passed {
			mark = "❌"
			allPassed = false
		}
		if r.Detail != "" {
			fmt.Printf("%s %s: %s\n", mark, r.Name, r.Detail)
		} else {
			fmt.Printf("%s %s\n", mark, r.Name)
		}
		if !r.Passed && r.Hint != "" {
			fmt.Printf("   Hint: %s\n", r.Hint)
		}
	}

	fmt.Println()
	if !allPassed {
		fmt.Println("❌ Some checks failed.")
		return fmt.Errorf("doctor found issues")
	}
	fmt.Println("✅ All checks passed!")
	return nil
}

func doctorCheckReady(ctx context.Context, url string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/api/v1/ready", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return body.Checks, fmt.Errorf("status %d (%s)", resp.StatusCode, body.Status)
	}
	return body.Checks, nil
}
