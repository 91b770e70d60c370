/*
Copyright 2024 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/vmalloc/vmalloc/pkg/allocation/algorithms"
	"github.com/vmalloc/vmalloc/pkg/allocation/util"
	"github.com/vmalloc/vmalloc/pkg/api/v1alpha1"
)

// NewSolveCommand creates the solve command.
func NewSolveCommand(out io.Writer) *cobra.Command {
	opts := &SolveOptions{}
	cmd := &cobra.Command{
		Use:   "solve -f instance.yaml",
		Short: "Search the Pareto frontier of an instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunSolve(cmd.Context(), opts, out)
		},
	}
	opts.AddFlags(cmd.Flags())
	_ = cmd.MarkFlagRequired("filename")
	return cmd
}

// RunSolve loads the instance, runs the configured search and writes the
// resulting Frontier document. A search that runs out of time is not an
// error: its partial frontier is written and a warning is logged.
func RunSolve(ctx context.Context, opts *SolveOptions, out io.Writer) error {
	logger := klog.FromContext(ctx)

	inst, err := v1alpha1.LoadInstance(opts.InstanceFile)
	if err != nil {
		return err
	}
	opts.ApplyTo(&inst.Spec.Search)
	if errs := v1alpha1.ValidateSearchSpec(field.NewPath("spec", "search"), &inst.Spec.Search); len(errs) > 0 {
		return errs.ToAggregate()
	}
	in, err := v1alpha1.ToFramework(inst)
	if err != nil {
		return err
	}
	cfg, err := v1alpha1.ToSearchConfig(&inst.Spec.Search)
	if err != nil {
		return err
	}

	if opts.OTLPEndpoint != "" {
		shutdown, err := setupTracing(ctx, opts.OTLPEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error(err, "Failed to flush traces")
			}
		}()
	}

	reg := prometheus.NewRegistry()
	cfg.Metrics = algorithms.NewMetrics()
	if err := cfg.Metrics.Register(reg); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	clk := clock.RealClock{}
	cfg.Clock = clk
	cfg.Reporter = algorithms.NewLogReporter(logger.WithValues("instance", in.Name), clk)
	cfg.Deadline = algorithms.NewDeadline(clk, inst.Spec.Search.Budget())

	a, err := algorithms.New(inst.Spec.Search.Algorithm, in, cfg)
	if err != nil {
		return err
	}
	res, err := algorithms.Run(ctx, a)
	if err != nil {
		return err
	}
	if res.State == algorithms.TimedOut {
		logger.Info("Warning: search timed out, the frontier may be incomplete", "solutions", len(res.Frontier))
	}

	if err := writeFrontier(opts.OutputFile, out, v1alpha1.NewFrontier(in, res)); err != nil {
		return err
	}
	if opts.PlotFile != "" && len(res.Frontier) > 0 {
		title := fmt.Sprintf("%s on %s", res.Algorithm, in.Name)
		if err := util.PlotFrontier(res.Frontier, nil, title, opts.PlotFile); err != nil {
			return fmt.Errorf("plotting frontier: %w", err)
		}
	}
	if opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, reg); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}

func writeFrontier(path string, out io.Writer, f *v1alpha1.Frontier) error {
	if path == "" {
		return v1alpha1.WriteFrontier(out, f)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := v1alpha1.WriteFrontier(file, f); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
