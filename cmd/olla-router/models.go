package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List every model_id the sealed registry resolves to an engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, styled, cleanup, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			rt, err := buildRuntime(cfg, log, styled)
			if err != nil {
				return fmt.Errorf("building runtime: %w", err)
			}

			seen := make(map[string]struct{})
			type row struct {
				ModelID  string `json:"model_id"`
				Engine   string `json:"engine"`
				Endpoint string `json:"endpoint"`
				Priority int    `json:"priority"`
			}
			var rows []row
			for _, entry := range rt.registry.All() {
				key := entry.ModelID + "|" + entry.Upstream().Key()
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				rows = append(rows, row{
					ModelID:  entry.ModelID,
					Engine:   entry.EngineType.String(),
					Endpoint: entry.Endpoint,
					Priority: entry.Priority,
				})
			}
			return printJSON(rows)
		},
	}
}
