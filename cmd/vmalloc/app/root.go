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

// Package app implements the vmalloc command line.
package app

import (
	goflag "flag"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"k8s.io/component-base/version"
	"k8s.io/klog/v2"
)

// NewVmallocCommand creates the root command with every subcommand.
func NewVmallocCommand(out, errOut io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vmalloc",
		Short: "vmalloc searches for Pareto-optimal virtual machine placements",
		Long: `vmalloc places jobs on physical machines minimizing energy consumption,
resource wastage and migration cost, and reports the Pareto frontier of
the trade-offs between them.`,
		SilenceUsage: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	fs := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(fs)
	cmd.PersistentFlags().AddGoFlagSet(fs)

	cmd.AddCommand(
		NewSolveCommand(out),
		NewSnapshotCommand(out),
		NewBenchmarkCommand(out),
		NewVersionCommand(out),
	)
	return cmd
}

// NewVersionCommand prints build information.
func NewVersionCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of vmalloc",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(out, "vmalloc version %+v\n", version.Get())
			return err
		},
	}
}
