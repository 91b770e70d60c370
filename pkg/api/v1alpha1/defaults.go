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
	"k8s.io/klog/v2"
)

const (
	DefaultAlgorithm            = "gia"
	DefaultObjective            = "energy"
	DefaultHashFunction         = "none"
	DefaultHashFunctions        = 1
	DefaultEnumerationThreshold = 10
	DefaultMaxEmptyCells        = 16
	DefaultPrecision            = 6
	DefaultMigrationWeight      = 1
)

// DefaultHashDensity is the default parity density.
var DefaultHashDensity = resource.MustParse("500m")

func SetDefaults_Instance(obj *Instance) {
	klog.V(5).InfoS("Setting instance defaults", "instance", obj.Name)
	if obj.APIVersion == "" {
		obj.APIVersion = SchemeGroupVersion.String()
	}
	if obj.Kind == "" {
		obj.Kind = InstanceKind
	}
	for i := range obj.Spec.Jobs {
		if obj.Spec.Jobs[i].MigrationWeight == nil {
			w := int64(DefaultMigrationWeight)
			obj.Spec.Jobs[i].MigrationWeight = &w
		}
	}
	SetDefaults_SearchSpec(&obj.Spec.Search)
}

func SetDefaults_SearchSpec(obj *SearchSpec) {
	if obj.Algorithm == "" {
		obj.Algorithm = DefaultAlgorithm
	}
	if obj.Objective == "" {
		obj.Objective = DefaultObjective
	}
	if obj.HashFunction == "" {
		obj.HashFunction = DefaultHashFunction
	}
	if obj.HashFunctions == 0 {
		obj.HashFunctions = DefaultHashFunctions
	}
	if obj.HashDensity == nil {
		d := DefaultHashDensity.DeepCopy()
		obj.HashDensity = &d
	}
	if obj.EnumerationThreshold == 0 {
		obj.EnumerationThreshold = DefaultEnumerationThreshold
	}
	if obj.MaxEmptyCells == 0 {
		obj.MaxEmptyCells = DefaultMaxEmptyCells
	}
	if obj.Precision == 0 {
		obj.Precision = DefaultPrecision
	}
}
