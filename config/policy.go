package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mintforge/authority"
)

// ErrPolicyDisabled is returned when a policy file tries to switch rate
// limiting off. Limits are security controls here, so the loader fails closed
// rather than honouring the flag.
var ErrPolicyDisabled = errors.New("config: rate limiting cannot be disabled")

// policyFile mirrors the YAML layout of the rate policy document.
type policyFile struct {
	Enforce       *bool         `yaml:"enforce"`
	ClaimCooldown time.Duration `yaml:"claimCooldown"`
	MintWindow    time.Duration `yaml:"mintWindow"`
	MintCapacity  int           `yaml:"mintCapacity"`
}

// LoadPolicy reads the YAML rate policy at path. An empty path or a missing
// file yields the built-in defaults; unset fields fall back individually.
// Negative values and an explicit enforce:false are rejected.
func LoadPolicy(path string) (authority.Policy, error) {
	if path == "" {
		return authority.DefaultPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return authority.DefaultPolicy(), nil
		}
		return authority.Policy{}, fmt.Errorf("config: read policy: %w", err)
	}

	var doc policyFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return authority.Policy{}, fmt.Errorf("config: parse policy: %w", err)
	}
	if doc.Enforce != nil && !*doc.Enforce {
		return authority.Policy{}, ErrPolicyDisabled
	}
	if doc.ClaimCooldown < 0 || doc.MintWindow < 0 || doc.MintCapacity < 0 {
		return authority.Policy{}, fmt.Errorf("config: policy values must not be negative")
	}

	policy := authority.Policy{
		ClaimCooldown: doc.ClaimCooldown,
		MintWindow:    doc.MintWindow,
		MintCapacity:  doc.MintCapacity,
	}
	return policy, nil
}
