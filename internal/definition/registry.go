package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/carepulse/carepulse/model"
)

// snapshot is an immutable collection of all loaded rules indexed by ID.
type snapshot struct {
	rules    map[string]model.Rule
	ordered  []model.Rule
	byType   map[model.TriggerType][]model.Rule
	checksum string
}

// Registry is a read-optimized, thread-safe store of all loaded rules.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given rules.
func NewRegistry(rules []model.Rule) *Registry {
	r := &Registry{}
	r.Replace(rules)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given rules. In-flight executions keep the snapshot they started
// with.
func (r *Registry) Replace(rules []model.Rule) {
	s := &snapshot{
		rules:   make(map[string]model.Rule, len(rules)),
		ordered: make([]model.Rule, 0, len(rules)),
		byType:  make(map[model.TriggerType][]model.Rule),
	}

	var checksumParts []string

	for _, rule := range rules {
		s.rules[rule.ID] = rule
		s.ordered = append(s.ordered, rule)
		checksumParts = append(checksumParts, rule.Checksum)

		seen := make(map[model.TriggerType]bool)
		for _, t := range rule.Triggers {
			if seen[t.Type] {
				continue
			}
			seen[t.Type] = true
			s.byType[t.Type] = append(s.byType[t.Type], rule)
		}
	}

	sort.Slice(s.ordered, func(i, j int) bool { return s.ordered[i].ID < s.ordered[j].ID })

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the rule with the given ID.
func (r *Registry) Get(ruleID string) (model.Rule, bool) {
	rule, ok := r.current().rules[ruleID]
	return rule, ok
}

// All returns all rules ordered by ID.
func (r *Registry) All() []model.Rule {
	s := r.current()
	out := make([]model.Rule, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// ForTriggerType returns the rules declaring at least one trigger of the
// given type, in registry order. Disabled rules are included; callers decide
// whether to skip them.
func (r *Registry) ForTriggerType(t model.TriggerType) []model.Rule {
	s := r.current()
	rules := s.byType[t]
	out := make([]model.Rule, len(rules))
	copy(out, rules)
	return out
}

// Count returns the number of loaded rules.
func (r *Registry) Count() int {
	return len(r.current().rules)
}

// Checksum returns the combined checksum of all loaded rules.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
