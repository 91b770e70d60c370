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

// Package snapshot builds placement instances from the state of a cluster.
// Schedulable nodes become machines and running workloads become jobs
// mapped to the node they run on.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/sets"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
	kubevirtv1 "kubevirt.io/api/core/v1"

	"github.com/vmalloc/vmalloc/pkg/api/v1alpha1"
)

const (
	IdlePowerAnnotation = "vmalloc.io/idle-power"
	MaxPowerAnnotation  = "vmalloc.io/max-power"
)

var (
	DefaultIdlePower = resource.MustParse("100")
	DefaultMaxPower  = resource.MustParse("250")
)

// Options configures a snapshot.
type Options struct {
	// Name of the resulting instance
	Name string
	// Namespace restricts the imported pods. Empty means all namespaces.
	Namespace string
	// LabelSelector restricts the imported pods.
	LabelSelector string
	// IncludeUnschedulable keeps cordoned nodes as machines. Otherwise they
	// are treated as being decommissioned.
	IncludeUnschedulable bool
}

// FromCluster imports the nodes and running pods of a cluster.
func FromCluster(ctx context.Context, client kubernetes.Interface, opts Options) (*v1alpha1.Instance, error) {
	logger := klog.FromContext(ctx)
	selector, err := labels.Parse(opts.LabelSelector)
	if err != nil {
		return nil, fmt.Errorf("parsing label selector: %w", err)
	}

	nodes, err := client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	pods, err := client.CoreV1().Pods(opts.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return nil, fmt.Errorf("listing pods: %w", err)
	}

	sort.Slice(nodes.Items, func(i, j int) bool { return nodes.Items[i].Name < nodes.Items[j].Name })
	sort.Slice(pods.Items, func(i, j int) bool {
		a, b := pods.Items[i], pods.Items[j]
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		return a.Name < b.Name
	})

	b := newBuilder(opts)
	b.addNodes(logger, nodes.Items)
	for i := range pods.Items {
		pod := &pods.Items[i]
		if reason := skipPod(pod, selector); reason != "" {
			logger.V(4).Info("Skipping pod", "pod", klog.KObj(pod), "reason", reason)
			continue
		}
		cpu, mem := podRequests(pod)
		b.addJob(pod.Namespace+"/"+pod.Name, cpu, mem, pod.Spec.NodeName)
	}
	logger.V(1).Info("Imported cluster", "machines", len(b.inst.Spec.Machines), "jobs", len(b.inst.Spec.Jobs), "onDecommissioned", b.decommissioned)
	return b.inst, nil
}

// FromVirtualMachineInstances imports KubeVirt virtual machine instances as
// jobs running on the given nodes.
func FromVirtualMachineInstances(nodes []v1.Node, vmis []kubevirtv1.VirtualMachineInstance, opts Options) *v1alpha1.Instance {
	logger := klog.Background()
	b := newBuilder(opts)
	b.addNodes(logger, nodes)
	for i := range vmis {
		vmi := &vmis[i]
		if vmi.Status.Phase == kubevirtv1.Succeeded || vmi.Status.Phase == kubevirtv1.Failed {
			continue
		}
		cpu, mem := vmiRequests(vmi)
		b.addJob(vmi.Namespace+"/"+vmi.Name, cpu, mem, vmi.Status.NodeName)
	}
	return b.inst
}

// LoadVirtualMachineInstances decodes a YAML or JSON stream of
// VirtualMachineInstance documents.
func LoadVirtualMachineInstances(path string) ([]kubevirtv1.VirtualMachineInstance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []kubevirtv1.VirtualMachineInstance
	dec := utilyaml.NewYAMLOrJSONDecoder(f, 4096)
	for {
		var vmi kubevirtv1.VirtualMachineInstance
		err := dec.Decode(&vmi)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if vmi.Name == "" {
			continue
		}
		out = append(out, vmi)
	}
}

type builder struct {
	opts     Options
	inst     *v1alpha1.Instance
	machines sets.Set[string]
	// decommissioned counts jobs mapped to a node that is not a machine.
	decommissioned int
}

func newBuilder(opts Options) *builder {
	name := opts.Name
	if name == "" {
		name = "snapshot"
	}
	inst := &v1alpha1.Instance{
		TypeMeta: metav1.TypeMeta{
			APIVersion: v1alpha1.SchemeGroupVersion.String(),
			Kind:       v1alpha1.InstanceKind,
		},
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}
	return &builder{opts: opts, inst: inst, machines: sets.New[string]()}
}

func (b *builder) addNodes(logger klog.Logger, nodes []v1.Node) {
	for i := range nodes {
		node := &nodes[i]
		if node.Spec.Unschedulable && !b.opts.IncludeUnschedulable {
			logger.V(3).Info("Treating cordoned node as decommissioned", "node", klog.KObj(node))
			continue
		}
		b.machines.Insert(node.Name)
		b.inst.Spec.Machines = append(b.inst.Spec.Machines, v1alpha1.MachineSpec{
			Name:      node.Name,
			CPU:       node.Status.Allocatable.Cpu().DeepCopy(),
			Memory:    node.Status.Allocatable.Memory().DeepCopy(),
			IdlePower: powerAnnotation(logger, node, IdlePowerAnnotation, DefaultIdlePower),
			MaxPower:  powerAnnotation(logger, node, MaxPowerAnnotation, DefaultMaxPower),
		})
	}
}

func (b *builder) addJob(name string, cpu, mem resource.Quantity, nodeName string) {
	b.inst.Spec.Jobs = append(b.inst.Spec.Jobs, v1alpha1.JobSpec{
		Name:   name,
		CPU:    cpu,
		Memory: mem,
	})
	if nodeName != "" {
		if !b.machines.Has(nodeName) {
			b.decommissioned++
		}
		b.inst.Spec.Mappings = append(b.inst.Spec.Mappings, v1alpha1.Mapping{Job: name, Machine: nodeName})
	}
}

func powerAnnotation(logger klog.Logger, node *v1.Node, key string, def resource.Quantity) resource.Quantity {
	value, ok := node.Annotations[key]
	if !ok {
		return def.DeepCopy()
	}
	q, err := resource.ParseQuantity(value)
	if err != nil {
		logger.Error(err, "Ignoring malformed power annotation", "node", klog.KObj(node), "annotation", key)
		return def.DeepCopy()
	}
	return q
}

// skipPod returns why pod is not imported, or "" when it is.
func skipPod(pod *v1.Pod, selector labels.Selector) string {
	switch {
	case pod.Status.Phase == v1.PodSucceeded || pod.Status.Phase == v1.PodFailed:
		return "terminated"
	case pod.Spec.NodeName == "":
		return "not scheduled"
	case !selector.Matches(labels.Set(pod.Labels)):
		return "not selected"
	}
	if _, ok := pod.Annotations[v1.MirrorPodAnnotationKey]; ok {
		return "mirror pod"
	}
	if owner := metav1.GetControllerOf(pod); owner != nil && owner.Kind == "DaemonSet" {
		return "daemonset pod"
	}
	return ""
}

func podRequests(pod *v1.Pod) (cpu, mem resource.Quantity) {
	for _, c := range pod.Spec.Containers {
		if q, ok := c.Resources.Requests[v1.ResourceCPU]; ok {
			cpu.Add(q)
		}
		if q, ok := c.Resources.Requests[v1.ResourceMemory]; ok {
			mem.Add(q)
		}
	}
	return cpu, mem
}

func vmiRequests(vmi *kubevirtv1.VirtualMachineInstance) (cpu, mem resource.Quantity) {
	domain := vmi.Spec.Domain
	if q, ok := domain.Resources.Requests[v1.ResourceCPU]; ok {
		cpu = q.DeepCopy()
	} else if domain.CPU != nil {
		cores := int64(domain.CPU.Cores)
		if domain.CPU.Sockets > 0 {
			cores *= int64(domain.CPU.Sockets)
		}
		if domain.CPU.Threads > 0 {
			cores *= int64(domain.CPU.Threads)
		}
		cpu = *resource.NewQuantity(cores, resource.DecimalSI)
	}
	if q, ok := domain.Resources.Requests[v1.ResourceMemory]; ok {
		mem = q.DeepCopy()
	} else if domain.Memory != nil && domain.Memory.Guest != nil {
		mem = domain.Memory.Guest.DeepCopy()
	}
	return cpu, mem
}
