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

	"github.com/spf13/cobra"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"

	"github.com/vmalloc/vmalloc/pkg/api/v1alpha1"
	"github.com/vmalloc/vmalloc/pkg/snapshot"
)

// SnapshotOptions holds the flags of the snapshot command.
type SnapshotOptions struct {
	Kubeconfig  string
	VMIManifest string
	OutputFile  string
	snapshot.Options
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(out io.Writer) *cobra.Command {
	opts := &SnapshotOptions{}
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Import an instance from the nodes and workloads of a cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := clientcmd.BuildConfigFromFlags("", opts.Kubeconfig)
			if err != nil {
				return fmt.Errorf("loading kubeconfig: %w", err)
			}
			client, err := kubernetes.NewForConfig(config)
			if err != nil {
				return err
			}
			return RunSnapshot(cmd.Context(), client, opts, out)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.Kubeconfig, "kubeconfig", os.Getenv("KUBECONFIG"), "Path to a kubeconfig file. Empty means in-cluster configuration")
	fs.StringVar(&opts.VMIManifest, "vmi-manifest", "", "Import KubeVirt VirtualMachineInstances from this manifest instead of pods")
	fs.StringVarP(&opts.OutputFile, "output", "o", "", "File to write the Instance document to. Defaults to standard output")
	fs.StringVar(&opts.Name, "name", "", "Name of the instance")
	fs.StringVarP(&opts.Namespace, "namespace", "n", "", "Only import pods from this namespace")
	fs.StringVarP(&opts.LabelSelector, "selector", "l", "", "Only import pods matching this label selector")
	fs.BoolVar(&opts.IncludeUnschedulable, "include-unschedulable", false, "Keep cordoned nodes as machines")
	return cmd
}

// RunSnapshot imports an instance using client and writes it.
func RunSnapshot(ctx context.Context, client kubernetes.Interface, opts *SnapshotOptions, out io.Writer) error {
	inst, err := takeSnapshot(ctx, client, opts)
	if err != nil {
		return err
	}
	klog.FromContext(ctx).V(1).Info("Snapshot taken", "machines", len(inst.Spec.Machines), "jobs", len(inst.Spec.Jobs))

	if opts.OutputFile == "" {
		return v1alpha1.WriteInstance(out, inst)
	}
	f, err := os.Create(opts.OutputFile)
	if err != nil {
		return err
	}
	if err := v1alpha1.WriteInstance(f, inst); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func takeSnapshot(ctx context.Context, client kubernetes.Interface, opts *SnapshotOptions) (*v1alpha1.Instance, error) {
	if opts.VMIManifest == "" {
		return snapshot.FromCluster(ctx, client, opts.Options)
	}
	vmis, err := snapshot.LoadVirtualMachineInstances(opts.VMIManifest)
	if err != nil {
		return nil, err
	}
	nodes, err := client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	return snapshot.FromVirtualMachineInstances(nodes.Items, vmis, opts.Options), nil
}
