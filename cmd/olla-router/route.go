package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/olla-project/inforoute/internal/core/domain"
)

func newRouteCmd() *cobra.Command {
	var (
		modelID     string
		prompt      string
		temperature float64
		topP        float64
		maxTokens   int
		stream      bool
	)

	cmd := &cobra.Command{
		Use:   "route",
		Short: "Issue a single inference request against the configured engines",
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
			rt.health.Start(cmd.Context())
			defer rt.health.Stop()

			req := &domain.InferenceRequest{
				ModelID:     modelID,
				Prompt:      prompt,
				Temperature: temperature,
				TopP:        topP,
				MaxTokens:   maxTokens,
				Stream:      stream,
			}
			if err := req.Validate(); err != nil {
				return err
			}

			return runRoute(cmd.Context(), rt, req)
		},
	}

	cmd.Flags().StringVar(&modelID, "model", "", "model_id to route to (required)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "completion prompt")
	cmd.Flags().Float64Var(&temperature, "temperature", 1.0, "sampling temperature")
	cmd.Flags().Float64Var(&topP, "top-p", 1.0, "nucleus sampling mass")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 16, "maximum tokens to generate")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the response chunk by chunk instead of waiting for completion")
	cmd.MarkFlagRequired("model")

	return cmd
}

func runRoute(ctx context.Context, rt *runtime, req *domain.InferenceRequest) error {
	if !req.Stream {
		resp, err := rt.router.Route(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(resp)
	}

	stream, err := rt.router.RouteStream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	enc := json.NewEncoder(os.Stdout)
	for {
		chunk, ok, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := enc.Encode(chunk); err != nil {
			return err
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
