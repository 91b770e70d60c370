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
	"time"

	"github.com/spf13/pflag"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/vmalloc/vmalloc/pkg/api/v1alpha1"
)

// SolveOptions holds the flags of the solve command. Search flags that are
// set on the command line override the instance document.
type SolveOptions struct {
	InstanceFile string
	OutputFile   string
	PlotFile     string
	MetricsFile  string
	OTLPEndpoint string

	Algorithm            string
	Objective            string
	HashFunction         string
	EnumerationThreshold int32
	MaxEmptyCells        int32
	Timeout              time.Duration
	Seed                 uint64

	flags *pflag.FlagSet
}

// AddFlags adds flags for a specific SolveOptions to the specified FlagSet.
func (o *SolveOptions) AddFlags(fs *pflag.FlagSet) {
	o.flags = fs
	fs.StringVarP(&o.InstanceFile, "filename", "f", "", "Instance document to solve")
	fs.StringVarP(&o.OutputFile, "output", "o", "", "File to write the Frontier document to. Defaults to standard output")
	fs.StringVar(&o.PlotFile, "plot", "", "Write an HTML plot of the frontier to this file")
	fs.StringVar(&o.MetricsFile, "metrics-file", "", "Write search metrics in the Prometheus text format to this file")
	fs.StringVar(&o.OTLPEndpoint, "otlp-endpoint", "", "host:port of an OTLP gRPC collector receiving search traces")

	fs.StringVar(&o.Algorithm, "algorithm", v1alpha1.DefaultAlgorithm, "Search algorithm: gia, pareto-cld or pbo")
	fs.StringVar(&o.Objective, "objective", v1alpha1.DefaultObjective, "Objective minimized by pbo: energy, wastage or migration")
	fs.StringVar(&o.HashFunction, "hash-function", v1alpha1.DefaultHashFunction, "Hash function partitioning the search space: none or xor")
	fs.Int32Var(&o.EnumerationThreshold, "enumeration-threshold", v1alpha1.DefaultEnumerationThreshold, "Solutions enumerated in a cell before it is replaced")
	fs.Int32Var(&o.MaxEmptyCells, "max-empty-cells", v1alpha1.DefaultMaxEmptyCells, "Consecutive empty cells after which hashing is turned off. Negative keeps hashing until the timeout")
	fs.DurationVar(&o.Timeout, "timeout", 0, "Time budget of the search. Zero means no deadline")
	fs.Uint64Var(&o.Seed, "seed", 0, "Seed of the hash functions")
}

func (o *SolveOptions) changed(name string) bool {
	return o.flags != nil && o.flags.Changed(name)
}

// ApplyTo overrides the search settings of spec with the flags set on the
// command line.
func (o *SolveOptions) ApplyTo(spec *v1alpha1.SearchSpec) {
	if o.changed("algorithm") {
		spec.Algorithm = o.Algorithm
	}
	if o.changed("objective") {
		spec.Objective = o.Objective
	}
	if o.changed("hash-function") {
		spec.HashFunction = o.HashFunction
	}
	if o.changed("enumeration-threshold") {
		spec.EnumerationThreshold = o.EnumerationThreshold
	}
	if o.changed("max-empty-cells") {
		spec.MaxEmptyCells = o.MaxEmptyCells
	}
	if o.changed("timeout") {
		spec.Timeout = &metav1.Duration{Duration: o.Timeout}
	}
	if o.changed("seed") {
		spec.Seed = o.Seed
	}
}
