package v1alpha1_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/vmalloc/vmalloc/pkg/allocation/algorithms"
	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
	"github.com/vmalloc/vmalloc/pkg/allocation/hashing"
	"github.com/vmalloc/vmalloc/pkg/allocation/objectives"
	"github.com/vmalloc/vmalloc/pkg/api/v1alpha1"
)

const exampleInstance = `
apiVersion: vmalloc.io/v1alpha1
kind: Instance
metadata:
  name: small
spec:
  machines:
  - {name: pm-0, cpu: "10", memory: 16Gi, idlePower: "100", maxPower: "250"}
  - {name: pm-1, cpu: "8", memory: 8Gi, idlePower: "80", maxPower: "200"}
  jobs:
  - {name: vm-0, cpu: "6", memory: 4Gi, antiColocationGroup: web}
  - {name: vm-1, cpu: 500m, memory: 512Mi, migrationWeight: 3, allowedMachines: [pm-1]}
  - {name: vm-2, cpu: "2", memory: 1Gi}
  mappings:
  - {job: vm-0, machine: pm-1}
  - {job: vm-2, machine: pm-9}
  search:
    algorithm: pareto-cld
    timeout: 30s
`

func TestDecodeInstanceAppliesDefaults(t *testing.T) {
	inst, err := v1alpha1.DecodeInstance([]byte(exampleInstance))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := inst.Spec.Search
	if s.Algorithm != "pareto-cld" || s.Objective != v1alpha1.DefaultObjective || s.HashFunction != v1alpha1.DefaultHashFunction {
		t.Errorf("unexpected search spec: %+v", s)
	}
	if s.EnumerationThreshold != v1alpha1.DefaultEnumerationThreshold || s.Precision != v1alpha1.DefaultPrecision {
		t.Errorf("numeric defaults not applied: %+v", s)
	}
	if s.Timeout == nil || s.Timeout.Duration != 30*time.Second {
		t.Errorf("timeout: got %v, want 30s", s.Timeout)
	}
	if w := inst.Spec.Jobs[0].MigrationWeight; w == nil || *w != 1 {
		t.Errorf("migration weight default not applied: %v", w)
	}
	if w := inst.Spec.Jobs[1].MigrationWeight; w == nil || *w != 3 {
		t.Errorf("explicit migration weight overwritten: %v", w)
	}
}

func TestToSearchConfig(t *testing.T) {
	inst, err := v1alpha1.DecodeInstance([]byte(exampleInstance))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inst.Spec.Search.HashFunction = "xor"
	inst.Spec.Search.Objective = "wastage"
	cfg, err := v1alpha1.ToSearchConfig(&inst.Spec.Search)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := hashing.Config{Type: hashing.XOR, Functions: 1, Density: 0.5, Threshold: 10}
	if diff := cmp.Diff(want, cfg.Hash); diff != "" {
		t.Errorf("hash config (-want +got):\n%s", diff)
	}
	if cfg.Objective != objectives.Wastage || cfg.MaxEmptyCells != v1alpha1.DefaultMaxEmptyCells || cfg.Precision != v1alpha1.DefaultPrecision {
		t.Errorf("unexpected config %+v", cfg)
	}
	if got := inst.Spec.Search.Budget(); got != 30*time.Second {
		t.Errorf("budget: got %v, want 30s", got)
	}

	inst.Spec.Search.HashFunction = "md5"
	if _, err := v1alpha1.ToSearchConfig(&inst.Spec.Search); err == nil {
		t.Error("expected an error for an unknown hash function")
	}
}

func TestToFramework(t *testing.T) {
	inst, err := v1alpha1.DecodeInstance([]byte(exampleInstance))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := v1alpha1.ToFramework(inst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !got.Machines[0].MemCapacity.Equal(decimal.NewFromInt(16 << 30)) {
		t.Errorf("memory capacity: got %s", got.Machines[0].MemCapacity)
	}
	if !got.Jobs[1].CPURequest.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("cpu request: got %s, want 0.5", got.Jobs[1].CPURequest)
	}
	if diff := cmp.Diff([]int{1}, got.Jobs[1].AllowedMachines); diff != "" {
		t.Errorf("allowed machines (-want +got):\n%s", diff)
	}
	wantPrior := map[int]int{0: 1, 2: framework.NoMachine}
	if diff := cmp.Diff(wantPrior, got.Prior); diff != "" {
		t.Errorf("prior (-want +got):\n%s", diff)
	}
	if got.Jobs[0].AntiColocationGroup != "web" || got.Jobs[1].MigrationWeight != 3 {
		t.Errorf("job attributes not carried over: %+v", got.Jobs)
	}
}

func TestValidateInstance(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*v1alpha1.Instance)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*v1alpha1.Instance) {},
		},
		{
			name:    "duplicate machine",
			mutate:  func(i *v1alpha1.Instance) { i.Spec.Machines[1].Name = "pm-0" },
			wantErr: "spec.machines[1].name: Duplicate value",
		},
		{
			name:    "zero capacity",
			mutate:  func(i *v1alpha1.Instance) { i.Spec.Machines[0].CPU.Set(0) },
			wantErr: "spec.machines[0].cpu: Invalid value",
		},
		{
			name: "max below idle power",
			mutate: func(i *v1alpha1.Instance) {
				i.Spec.Machines[0].MaxPower = i.Spec.Machines[0].IdlePower.DeepCopy()
				i.Spec.Machines[0].MaxPower.Sub(i.Spec.Machines[0].CPU)
			},
			wantErr: "spec.machines[0].maxPower",
		},
		{
			name:    "unknown job in mapping",
			mutate:  func(i *v1alpha1.Instance) { i.Spec.Mappings[0].Job = "vm-9" },
			wantErr: "spec.mappings[0].job: Not found",
		},
		{
			name:    "unknown allowed machine",
			mutate:  func(i *v1alpha1.Instance) { i.Spec.Jobs[1].AllowedMachines = []string{"pm-7"} },
			wantErr: "spec.jobs[1].allowedMachines[0]: Not found",
		},
		{
			name:    "unknown algorithm",
			mutate:  func(i *v1alpha1.Instance) { i.Spec.Search.Algorithm = "nsga2" },
			wantErr: "spec.search.algorithm: Unsupported value",
		},
		{
			name:    "wrong kind",
			mutate:  func(i *v1alpha1.Instance) { i.Kind = "Frontier" },
			wantErr: "kind: Unsupported value",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inst, err := v1alpha1.DecodeInstance([]byte(exampleInstance))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tc.mutate(inst)
			errs := v1alpha1.ValidateInstance(inst)
			if tc.wantErr == "" {
				if len(errs) != 0 {
					t.Errorf("unexpected errors: %v", errs)
				}
				return
			}
			if err := errs.ToAggregate(); err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("got %v, want an error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestDecodeInstanceRejectsUnknownFields(t *testing.T) {
	doc := strings.Replace(exampleInstance, "algorithm: pareto-cld", "algorithm: pareto-cld\n    generations: 10", 1)
	if _, err := v1alpha1.DecodeInstance([]byte(doc)); err == nil {
		t.Errorf("expected an error for an unknown field")
	}
}

func TestNewFrontier(t *testing.T) {
	inst, err := v1alpha1.DecodeInstance([]byte(exampleInstance))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in, err := v1alpha1.ToFramework(inst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := &algorithms.Result{
		Algorithm: algorithms.ParetoCLDName,
		State:     algorithms.Done,
		Exact:     true,
		Elapsed:   2 * time.Second,
		Frontier: []framework.Solution{{
			Allocation: framework.Allocation{0, 1, 1},
			Values: framework.Values{
				Energy:    decimal.RequireFromString("412.5"),
				Wastage:   decimal.RequireFromString("1.25"),
				Migration: 2,
			},
		}},
	}

	var buf bytes.Buffer
	if err := v1alpha1.WriteFrontier(&buf, v1alpha1.NewFrontier(in, res)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := v1alpha1.DecodeFrontier(buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != v1alpha1.FrontierKind || got.Status.State != "Done" || !got.Status.Exact {
		t.Errorf("unexpected frontier header: %+v", got)
	}
	want := v1alpha1.SolutionStatus{
		Placements: map[string]string{"vm-0": "pm-0", "vm-1": "pm-1", "vm-2": "pm-1"},
		Energy:     decimal.RequireFromString("412.5"),
		Wastage:    decimal.RequireFromString("1.25"),
		Migration:  2,
		Moved:      []string{"vm-0", "vm-2"},
	}
	if len(got.Status.Solutions) != 1 {
		t.Fatalf("got %d solutions, want 1", len(got.Status.Solutions))
	}
	s := got.Status.Solutions[0]
	if !s.Energy.Equal(want.Energy) || !s.Wastage.Equal(want.Wastage) || s.Migration != want.Migration {
		t.Errorf("values: got %s/%s/%d", s.Energy, s.Wastage, s.Migration)
	}
	if diff := cmp.Diff(want.Placements, s.Placements); diff != "" {
		t.Errorf("placements (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Moved, s.Moved); diff != "" {
		t.Errorf("moved (-want +got):\n%s", diff)
	}
}
