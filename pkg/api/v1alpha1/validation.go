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
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

var (
	validAlgorithms    = sets.New("gia", "pareto-cld", "pbo")
	validObjectives    = sets.New("energy", "wastage", "migration")
	validHashFunctions = sets.New("none", "xor")
)

// ValidateInstance validates a defaulted Instance.
func ValidateInstance(inst *Instance) field.ErrorList {
	var allErrs field.ErrorList
	if inst.APIVersion != SchemeGroupVersion.String() {
		allErrs = append(allErrs, field.NotSupported(field.NewPath("apiVersion"), inst.APIVersion, []string{SchemeGroupVersion.String()}))
	}
	if inst.Kind != InstanceKind {
		allErrs = append(allErrs, field.NotSupported(field.NewPath("kind"), inst.Kind, []string{InstanceKind}))
	}

	spec := field.NewPath("spec")
	machines := sets.New[string]()
	for i, m := range inst.Spec.Machines {
		p := spec.Child("machines").Index(i)
		allErrs = append(allErrs, validateName(p.Child("name"), m.Name, machines)...)
		allErrs = append(allErrs, validatePositive(p.Child("cpu"), m.CPU)...)
		allErrs = append(allErrs, validatePositive(p.Child("memory"), m.Memory)...)
		allErrs = append(allErrs, validateNonNegative(p.Child("idlePower"), m.IdlePower)...)
		if m.MaxPower.Cmp(m.IdlePower) < 0 {
			allErrs = append(allErrs, field.Invalid(p.Child("maxPower"), m.MaxPower.String(), "must not be less than idlePower"))
		}
	}

	jobs := sets.New[string]()
	for i, j := range inst.Spec.Jobs {
		p := spec.Child("jobs").Index(i)
		allErrs = append(allErrs, validateName(p.Child("name"), j.Name, jobs)...)
		allErrs = append(allErrs, validateNonNegative(p.Child("cpu"), j.CPU)...)
		allErrs = append(allErrs, validateNonNegative(p.Child("memory"), j.Memory)...)
		if j.MigrationWeight != nil && *j.MigrationWeight < 0 {
			allErrs = append(allErrs, field.Invalid(p.Child("migrationWeight"), *j.MigrationWeight, "must be non-negative"))
		}
		for k, name := range j.AllowedMachines {
			if !machines.Has(name) {
				allErrs = append(allErrs, field.NotFound(p.Child("allowedMachines").Index(k), name))
			}
		}
	}

	mapped := sets.New[string]()
	for i, m := range inst.Spec.Mappings {
		p := spec.Child("mappings").Index(i)
		if !jobs.Has(m.Job) {
			allErrs = append(allErrs, field.NotFound(p.Child("job"), m.Job))
		} else if mapped.Has(m.Job) {
			allErrs = append(allErrs, field.Duplicate(p.Child("job"), m.Job))
		}
		mapped.Insert(m.Job)
		if m.Machine == "" {
			allErrs = append(allErrs, field.Required(p.Child("machine"), ""))
		}
	}

	allErrs = append(allErrs, ValidateSearchSpec(spec.Child("search"), &inst.Spec.Search)...)
	return allErrs
}

// ValidateSearchSpec validates a defaulted SearchSpec.
func ValidateSearchSpec(p *field.Path, s *SearchSpec) field.ErrorList {
	var allErrs field.ErrorList
	if !validAlgorithms.Has(s.Algorithm) {
		allErrs = append(allErrs, field.NotSupported(p.Child("algorithm"), s.Algorithm, sets.List(validAlgorithms)))
	}
	if !validObjectives.Has(s.Objective) {
		allErrs = append(allErrs, field.NotSupported(p.Child("objective"), s.Objective, sets.List(validObjectives)))
	}
	if !validHashFunctions.Has(s.HashFunction) {
		allErrs = append(allErrs, field.NotSupported(p.Child("hashFunction"), s.HashFunction, sets.List(validHashFunctions)))
	}
	if s.HashFunctions < 1 {
		allErrs = append(allErrs, field.Invalid(p.Child("hashFunctions"), s.HashFunctions, "must be positive"))
	}
	if s.HashDensity != nil {
		if d := s.HashDensity.AsApproximateFloat64(); d <= 0 || d > 1 {
			allErrs = append(allErrs, field.Invalid(p.Child("hashDensity"), s.HashDensity.String(), "must be in (0, 1]"))
		}
	}
	if s.EnumerationThreshold < 1 {
		allErrs = append(allErrs, field.Invalid(p.Child("enumerationThreshold"), s.EnumerationThreshold, "must be positive"))
	}
	if s.Timeout != nil && s.Timeout.Duration < 0 {
		allErrs = append(allErrs, field.Invalid(p.Child("timeout"), s.Timeout.Duration.String(), "must be non-negative"))
	}
	if s.Precision < 0 || s.Precision > 18 {
		allErrs = append(allErrs, field.Invalid(p.Child("precision"), s.Precision, "must be between 0 and 18"))
	}
	return allErrs
}

func validateName(p *field.Path, name string, seen sets.Set[string]) field.ErrorList {
	if name == "" {
		return field.ErrorList{field.Required(p, "")}
	}
	if seen.Has(name) {
		return field.ErrorList{field.Duplicate(p, name)}
	}
	seen.Insert(name)
	return nil
}

func validatePositive(p *field.Path, q resource.Quantity) field.ErrorList {
	if q.Sign() <= 0 {
		return field.ErrorList{field.Invalid(p, q.String(), "must be positive")}
	}
	return nil
}

func validateNonNegative(p *field.Path, q resource.Quantity) field.ErrorList {
	if q.Sign() < 0 {
		return field.ErrorList{field.Invalid(p, q.String(), "must be non-negative")}
	}
	return nil
}
