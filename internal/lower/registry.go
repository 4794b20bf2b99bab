package lower

import (
	"github.com/born-ml/npuc/internal/onnx"
)

// Registry is the ordered rule table of a target. Registration order
// breaks ties between rules claiming the same tier.
type Registry struct {
	rules []Rule
}

// NewRegistry creates a registry holding rules in the given order.
func NewRegistry(rules ...Rule) *Registry {
	r := &Registry{}
	r.Add(rules...)
	return r
}

// Add appends rules after the ones already registered.
func (r *Registry) Add(rules ...Rule) {
	for _, rule := range rules {
		if rule != nil {
			r.rules = append(r.rules, rule)
		}
	}
}

// Rules returns the registered rules in order.
func (r *Registry) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// Len returns the number of registered rules.
func (r *Registry) Len() int { return len(r.rules) }

// Select returns the rule with the highest tier for n, the earliest
// registered on a tie. It returns (nil, NotMe) when no rule claims n.
func (r *Registry) Select(n *onnx.Node) (Rule, Tier) {
	var best Rule
	bestTier := NotMe
	for _, rule := range r.rules {
		if t := rule.IsMe(n); t > bestTier {
			best, bestTier = rule, t
		}
	}
	return best, bestTier
}
