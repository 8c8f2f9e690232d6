package capability

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/usecase/model"
)

type policyFile struct {
	// Authenticated lists capabilities granted to every identified actor.
	Authenticated []string            `yaml:"authenticated"`
	Roles         map[string][]string `yaml:"roles"`
	Subjects      map[string][]string `yaml:"subjects"`
}

// StaticPolicy grants capabilities from a YAML file mapping roles and
// individual subjects to capability strings.
type StaticPolicy struct {
	path   string
	mu     sync.RWMutex
	policy policyFile
}

var _ Source = (*StaticPolicy)(nil)

// NewStaticPolicy loads the policy file at path.
func NewStaticPolicy(path string) (*StaticPolicy, error) {
	p := &StaticPolicy{path: path}
	if err := p.Sync(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseStaticPolicy builds a policy from YAML bytes. Sync is a no-op on
// the result.
func ParseStaticPolicy(data []byte) (*StaticPolicy, error) {
	pf, err := parsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("capability: parsing policy: %w", err)
	}
	return &StaticPolicy{policy: pf}, nil
}

// Capabilities returns the union of the authenticated grants, the grants
// of every role in the context and the grants of the subject itself.
func (p *StaticPolicy) Capabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	caps := make(model.CapabilitySet)
	if rctx.SubjectID == "" {
		return caps, nil
	}
	for _, c := range p.policy.Authenticated {
		caps[c] = true
	}
	for _, role := range rctx.Roles {
		for _, c := range p.policy.Roles[role] {
			caps[c] = true
		}
	}
	for _, c := range p.policy.Subjects[rctx.SubjectID] {
		caps[c] = true
	}
	return caps, nil
}

// Sync reloads the policy file from disk.
func (p *StaticPolicy) Sync() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("capability: reading policy file %s: %w", p.path, err)
	}
	pf, err := parsePolicy(data)
	if err != nil {
		return fmt.Errorf("capability: parsing policy file %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.policy = pf
	p.mu.Unlock()
	return nil
}

func parsePolicy(data []byte) (policyFile, error) {
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return policyFile{}, err
	}
	return pf, nil
}
