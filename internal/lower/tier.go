package lower

import "fmt"

// Tier is a rule's claim on a node. Higher tiers win.
type Tier int

// Tiers, lowest first.
const (
	NotMe        Tier = iota // the rule does not handle the node
	StdLower                 // target-independent lowering
	TargetLow                // target rule, preferred only over std rules
	TargetNormal             // regular target rule
	TargetHigh               // fusion or other rule that must win
)

func (t Tier) String() string {
	switch t {
	case NotMe:
		return "not-me"
	case StdLower:
		return "std"
	case TargetLow:
		return "target-low"
	case TargetNormal:
		return "target-normal"
	case TargetHigh:
		return "target-high"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}
