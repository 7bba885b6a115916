// Package validation holds the Event Modeling pattern rules: which node
// types may connect, and the whole-model audit derived from the same rules.
package validation

import (
	"github.com/weavrhq/weavr/api/schemas"
)

// flowRules maps a source node type to the target types a FLOW link may
// reach. The table follows the Event Modeling pattern grammar: screens and
// automations trigger commands, commands emit events, events project into
// read models or trigger automations, read models feed screens.
var flowRules = map[schemas.NodeType]map[schemas.NodeType]bool{
	schemas.NodeScreen: {
		schemas.NodeCommand: true,
	},
	schemas.NodeAutomation: {
		schemas.NodeCommand: true,
	},
	schemas.NodeCommand: {
		schemas.NodeDomainEvent:      true,
		schemas.NodeIntegrationEvent: true,
	},
	schemas.NodeDomainEvent: {
		schemas.NodeReadModel:  true,
		schemas.NodeAutomation: true,
	},
	schemas.NodeIntegrationEvent: {
		schemas.NodeReadModel:  true,
		schemas.NodeAutomation: true,
	},
	schemas.NodeReadModel: {
		schemas.NodeAutomation: true,
		schemas.NodeScreen:     true,
	},
}

// dataRules maps the pairs a DATA_DEPENDENCY link may connect. The only one
// in the grammar is a read model feeding data into a command.
var dataRules = map[schemas.NodeType]map[schemas.NodeType]bool{
	schemas.NodeReadModel: {
		schemas.NodeCommand: true,
	},
}

// IsValidConnection reports whether a link of the given type may connect
// source to target. An empty link type is treated as FLOW. Self-links are
// never valid.
func IsValidConnection(source, target schemas.Node, linkType schemas.LinkType) bool {
	if source.ID == target.ID {
		return false
	}
	switch linkType {
	case schemas.LinkDataDependency:
		return dataRules[source.Type][target.Type]
	case schemas.LinkFlow, "":
		return flowRules[source.Type][target.Type]
	default:
		return false
	}
}

// AllowedTargets returns the target types source may reach over a link of
// the given type, for interaction affordances such as highlighting legal
// drop targets during link drafting.
func AllowedTargets(source schemas.NodeType, linkType schemas.LinkType) []schemas.NodeType {
	var table map[schemas.NodeType]map[schemas.NodeType]bool
	switch linkType {
	case schemas.LinkDataDependency:
		table = dataRules
	case schemas.LinkFlow, "":
		table = flowRules
	default:
		return nil
	}
	var out []schemas.NodeType
	for _, t := range schemas.KnownNodeTypes {
		if table[source][t] {
			out = append(out, t)
		}
	}
	return out
}
