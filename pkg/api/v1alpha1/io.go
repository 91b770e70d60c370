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
	"fmt"
	"io"
	"os"

	"sigs.k8s.io/yaml"
)

// LoadInstance reads, defaults and validates an Instance document.
func LoadInstance(path string) (*Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	inst, err := DecodeInstance(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return inst, nil
}

// DecodeInstance decodes, defaults and validates an Instance document.
// Unknown fields are rejected.
func DecodeInstance(data []byte) (*Instance, error) {
	inst := &Instance{}
	if err := yaml.UnmarshalStrict(data, inst); err != nil {
		return nil, fmt.Errorf("decoding instance: %w", err)
	}
	SetDefaults_Instance(inst)
	if errs := ValidateInstance(inst); len(errs) > 0 {
		return nil, errs.ToAggregate()
	}
	return inst, nil
}

// WriteInstance encodes inst as YAML.
func WriteInstance(w io.Writer, inst *Instance) error {
	return write(w, inst)
}

// WriteFrontier encodes f as YAML.
func WriteFrontier(w io.Writer, f *Frontier) error {
	return write(w, f)
}

// DecodeFrontier decodes a Frontier document.
func DecodeFrontier(data []byte) (*Frontier, error) {
	f := &Frontier{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("decoding frontier: %w", err)
	}
	return f, nil
}

func write(w io.Writer, obj interface{}) error {
	data, err := yaml.Marshal(obj)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
