package validation

import (
	"fmt"
	"sort"

	"github.com/weavrhq/weavr/api/schemas"
)

// Violation is one Event Modeling pattern breach found by the audit.
type Violation struct {
	SliceID   string
	SliceName string
	NodeID    string
	NodeName  string
	NodeType  schemas.NodeType
	Message   string
}

func (v Violation) String() string {
	scope := v.SliceName
	if scope == "" {
		scope = "unsliced"
	}
	return fmt.Sprintf("[%s] %s %q (%s) %s", scope, v.NodeType, v.NodeName, v.NodeID, v.Message)
}

// predecessorRules names, per audited node type, the inbound node types that
// satisfy the pattern. A node type missing from this table is never flagged;
// screens and integration events are legal chain entry points.
var predecessorRules = map[schemas.NodeType]struct {
	allowed map[schemas.NodeType]bool
	missing string
}{
	schemas.NodeCommand: {
		allowed: map[schemas.NodeType]bool{schemas.NodeScreen: true, schemas.NodeAutomation: true},
		missing: "missing SCREEN or AUTOMATION trigger",
	},
	schemas.NodeDomainEvent: {
		allowed: map[schemas.NodeType]bool{schemas.NodeCommand: true},
		missing: "missing COMMAND trigger",
	},
	schemas.NodeReadModel: {
		allowed: map[schemas.NodeType]bool{schemas.NodeDomainEvent: true, schemas.NodeIntegrationEvent: true},
		missing: "missing event source",
	},
	schemas.NodeAutomation: {
		allowed: map[schemas.NodeType]bool{
			schemas.NodeDomainEvent:      true,
			schemas.NodeIntegrationEvent: true,
			schemas.NodeReadModel:        true,
		},
		missing: "missing event or READ_MODEL trigger",
	},
}

// AuditModel checks every node's inbound links against the pattern grammar
// and returns the violations sorted by slice, then node name, for stable
// report output.
func AuditModel(nodes []schemas.Node, links []schemas.Link, slices []schemas.Slice) []Violation {
	byID := make(map[string]schemas.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	sliceTitles := make(map[string]string, len(slices))
	for _, s := range slices {
		sliceTitles[s.ID] = s.Title
	}

	inbound := make(map[string][]schemas.NodeType)
	for _, l := range links {
		src, ok := byID[l.Source]
		if !ok {
			continue
		}
		inbound[l.Target] = append(inbound[l.Target], src.Type)
	}

	var out []Violation
	for _, n := range nodes {
		rule, audited := predecessorRules[n.Type]
		if !audited {
			continue
		}
		satisfied := false
		for _, t := range inbound[n.ID] {
			if rule.allowed[t] {
				satisfied = true
				break
			}
		}
		if satisfied {
			continue
		}
		out = append(out, Violation{
			SliceID:   n.SliceID,
			SliceName: sliceTitles[n.SliceID],
			NodeID:    n.ID,
			NodeName:  n.Name,
			NodeType:  n.Type,
			Message:   rule.missing,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SliceName != out[j].SliceName {
			return out[i].SliceName < out[j].SliceName
		}
		if out[i].NodeName != out[j].NodeName {
			return out[i].NodeName < out[j].NodeName
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out
}
