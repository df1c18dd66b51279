package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Store exposes the persisted tenant configurations. The backing storage is
// owned by the wider backend; the bus subsystem only iterates it.
type Store interface {
	Tenants(ctx context.Context) ([]Tenant, error)
}

// FileStore reads tenant configurations from a YAML document of the form:
//
//	tenants:
//	  - organization: univ-a
//	    host: broker.univ-a.example
//	    port: 5672
//	    username: projects
//	    password: secret
//	    active: true
type FileStore struct {
	Path string
}

func (s FileStore) Tenants(_ context.Context) ([]Tenant, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}

	var doc struct {
		Tenants []Tenant `yaml:"tenants"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tenants file %q: %w", s.Path, err)
	}
	return doc.Tenants, nil
}

// StaticStore serves a fixed list of tenants. Used in tests and
// single-tenant setups.
type StaticStore []Tenant

func (s StaticStore) Tenants(context.Context) ([]Tenant, error) {
	return s, nil
}
