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

package v1alpha1

import (
	"github.com/shopspring/decimal"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	GroupName    = "vmalloc.io"
	InstanceKind = "Instance"
	FrontierKind = "Frontier"
)

// SchemeGroupVersion is the group version of every document in this package.
var SchemeGroupVersion = schema.GroupVersion{Group: GroupName, Version: "v1alpha1"}

// Instance is a placement problem: machines, jobs, their current mapping and
// how to search for placements.
type Instance struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec InstanceSpec `json:"spec"`
}

// InstanceSpec defines the placement problem
type InstanceSpec struct {
	// Machines are the physical machines jobs may be placed on
	Machines []MachineSpec `json:"machines"`

	// Jobs are the virtual machines to place
	Jobs []JobSpec `json:"jobs"`

	// Mappings is the current placement. A mapping to a machine that is not
	// listed in Machines marks the machine as being decommissioned.
	Mappings []Mapping `json:"mappings,omitempty"`

	// Search configures the search
	Search SearchSpec `json:"search,omitempty"`
}

// MachineSpec describes a physical machine
type MachineSpec struct {
	Name   string            `json:"name"`
	CPU    resource.Quantity `json:"cpu"`
	Memory resource.Quantity `json:"memory"`

	// IdlePower is the power drawn by the machine when on and empty
	IdlePower resource.Quantity `json:"idlePower"`

	// MaxPower is the power drawn at full CPU utilization
	MaxPower resource.Quantity `json:"maxPower"`
}

// JobSpec describes a virtual machine
type JobSpec struct {
	Name   string            `json:"name"`
	CPU    resource.Quantity `json:"cpu"`
	Memory resource.Quantity `json:"memory"`

	// MigrationWeight is the cost of moving the job off its current machine
	MigrationWeight *int64 `json:"migrationWeight,omitempty"`

	// AntiColocationGroup forbids placing two jobs of the same group on one machine
	AntiColocationGroup string `json:"antiColocationGroup,omitempty"`

	// AllowedMachines restricts the machines the job may be placed on
	AllowedMachines []string `json:"allowedMachines,omitempty"`
}

// Mapping places a job on a machine
type Mapping struct {
	Job     string `json:"job"`
	Machine string `json:"machine"`
}

// SearchSpec configures the search
type SearchSpec struct {
	// Algorithm is one of gia, pareto-cld or pbo
	Algorithm string `json:"algorithm,omitempty"`

	// Objective is the objective minimized by pbo: energy, wastage or migration
	Objective string `json:"objective,omitempty"`

	// HashFunction is none or xor
	HashFunction string `json:"hashFunction,omitempty"`

	// HashFunctions is the number of parity constraints per cell
	HashFunctions int32 `json:"hashFunctions,omitempty"`

	// HashDensity is the probability of a placement variable joining a parity constraint
	HashDensity *resource.Quantity `json:"hashDensity,omitempty"`

	// EnumerationThreshold is the number of solutions after which the cell is replaced
	EnumerationThreshold int32 `json:"enumerationThreshold,omitempty"`

	// MaxEmptyCells is the number of consecutive empty cells after which hashing stops
	MaxEmptyCells int32 `json:"maxEmptyCells,omitempty"`

	// Timeout bounds the search. Unset means no deadline.
	Timeout *metav1.Duration `json:"timeout,omitempty"`

	// Precision is the number of decimal places of objective coefficients
	Precision int32 `json:"precision,omitempty"`

	Seed uint64 `json:"seed,omitempty"`
}

// Frontier is the outcome of a search over an Instance.
type Frontier struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Status FrontierStatus `json:"status"`
}

// FrontierStatus holds the solutions found
type FrontierStatus struct {
	Algorithm string `json:"algorithm"`

	// State is Done, TimedOut or Unsatisfiable
	State string `json:"state"`

	// Exact is set when the solutions are known to cover the whole Pareto frontier
	Exact   bool            `json:"exact"`
	Elapsed metav1.Duration `json:"elapsed"`
	Solves  int32           `json:"solves"`

	Solutions []SolutionStatus `json:"solutions,omitempty"`

	// Incumbent is the best solution reached when the search timed out
	// before proving it optimal
	Incumbent *SolutionStatus `json:"incumbent,omitempty"`
}

// SolutionStatus is a placement and its objective values
type SolutionStatus struct {
	// Placements maps job name to machine name
	Placements map[string]string `json:"placements"`

	Energy    decimal.Decimal `json:"energy"`
	Wastage   decimal.Decimal `json:"wastage"`
	Migration int64           `json:"migration"`

	// Moved lists the jobs placed away from their current machine
	Moved []string `json:"moved,omitempty"`
}
