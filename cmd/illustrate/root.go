package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"storybook/internal/bootstrap"
	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/jobs"
)

var errNoIllustrations = errors.New("no scene could be illustrated")

type summary struct {
	StoryID    string                `json:"storyId,omitempty"`
	StoryTitle string                `json:"storyTitle,omitempty"`
	Results    []domain.Illustration `json:"results"`
	Failures   []domain.SceneFailure `json:"failures,omitempty"`
}

func newRootCmd() *cobra.Command {
	var storyPath, outPath string
	root := &cobra.Command{
		Use:           "illustrate",
		Short:         "Illustrate a story file synchronously",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readRequest(storyPath)
			if err != nil {
				return err
			}
			svc, logger, err := build()
			if err != nil {
				return err
			}
			defer svc.Store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := run(ctx, svc.Orchestrator, req)
			logger.Info().Int("results", len(out.Results)).Int("failures", len(out.Failures)).Msg("story illustrated")

			w := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer f.Close()
				w = f
			}
			if err := writeSummary(w, out); err != nil {
				return err
			}
			if len(out.Results) == 0 {
				return errNoIllustrations
			}
			return nil
		},
	}
	root.Flags().StringVarP(&storyPath, "story", "s", "", "path to a job request JSON file")
	root.Flags().StringVarP(&outPath, "out", "o", "", "write the summary here instead of stdout")
	_ = root.MarkFlagRequired("story")

	root.AddCommand(&cobra.Command{
		Use:   "providers",
		Short: "List the provider tiers in fallback order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := build()
			if err != nil {
				return err
			}
			defer svc.Store.Close()
			for i, name := range svc.Orchestrator.Providers() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, name)
			}
			return nil
		},
	})
	return root
}

func build() (*bootstrap.Services, *infra.Logger, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := infra.NewLogger(cfg.AppEnv)
	svc, err := bootstrap.Build(cfg, &logger)
	if err != nil {
		return nil, nil, err
	}
	return svc, &logger, nil
}

func readRequest(path string) (domain.JobRequest, error) {
	var req domain.JobRequest
	data, err := os.ReadFile(path)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("decode %s: %w", path, err)
	}
	if req.Character.Name == "" || len(req.Scenes) == 0 {
		return req, fmt.Errorf("%w: character name and scenes are required", domain.ErrInvalidRequest)
	}
	return req, nil
}

// run illustrates scenes in order; a failed scene is recorded and skipped.
func run(ctx context.Context, ill jobs.Illustrator, req domain.JobRequest) summary {
	out := summary{StoryID: req.StoryID, StoryTitle: req.StoryTitle, Results: []domain.Illustration{}}
	for i, scene := range req.Scenes {
		if ctx.Err() != nil {
			break
		}
		page := scene.PageNumber
		if page <= 0 {
			page = i + 1
		}
		res, err := ill.GenerateIllustration(ctx, req.Character, scene.Description, req.StoryTitle, page)
		if err != nil {
			out.Failures = append(out.Failures, domain.SceneFailure{
				PageNumber: page,
				Message:    fmt.Sprintf("Failed scene p%d: %s", page, domain.UserMessage(err)),
			})
			continue
		}
		out.Results = append(out.Results, res.Illustration(scene.Description, page))
	}
	return out
}

func writeSummary(w io.Writer, out summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
