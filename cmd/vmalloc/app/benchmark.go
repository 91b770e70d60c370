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
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/vmalloc/vmalloc/pkg/allocation/algorithms"
	"github.com/vmalloc/vmalloc/pkg/allocation/benchmarks"
)

// BenchmarkOptions configures the benchmark command.
type BenchmarkOptions struct {
	Algorithms    []string
	Budget        time.Duration
	OutputDir     string
	GreedyVectors int
}

// AddFlags registers the benchmark flags on fs.
func (o *BenchmarkOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringSliceVar(&o.Algorithms, "algorithms", []string{algorithms.GIAName, algorithms.ParetoCLDName, benchmarks.GreedyName}, "Algorithms to compare.")
	fs.DurationVar(&o.Budget, "budget", time.Minute, "Time budget of each run. Zero disables the deadline.")
	fs.StringVar(&o.OutputDir, "output-dir", "", "Directory receiving one frontier plot per run.")
	fs.IntVar(&o.GreedyVectors, "greedy-vectors", 5, "Number of weight vectors of the greedy baseline.")
}

// NewBenchmarkCommand creates the benchmark command.
func NewBenchmarkCommand(out io.Writer) *cobra.Command {
	opts := &BenchmarkOptions{}
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Compare the searches against exhaustive frontiers of small instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunBenchmark(cmd.Context(), opts, out)
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

// RunBenchmark runs the standard problems and prints one line per run. It
// fails when an exact run misses part of a frontier.
func RunBenchmark(ctx context.Context, opts *BenchmarkOptions, out io.Writer) error {
	for _, name := range opts.Algorithms {
		switch name {
		case algorithms.GIAName, algorithms.ParetoCLDName, benchmarks.GreedyName:
		default:
			return fmt.Errorf("%q does not search a frontier", name)
		}
	}
	suite := benchmarks.NewSuite(benchmarks.SuiteConfig{
		Algorithms:    opts.Algorithms,
		Budget:        opts.Budget,
		OutputDir:     opts.OutputDir,
		GreedyVectors: opts.GreedyVectors,
	})
	suite.AddStandardProblems()

	reports, err := suite.Run(ctx)
	if err != nil {
		return err
	}
	for _, r := range reports {
		if _, err := fmt.Fprintln(out, r); err != nil {
			return err
		}
	}
	klog.FromContext(ctx).V(1).Info("Benchmark finished", "runs", len(reports))
	return benchmarks.Verify(reports)
}
