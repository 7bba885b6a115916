package schemas

// -- Canonical Event Model Data Types --

// NodeType represents the specific kind of a diagram element. The set is
// closed: every persisted node must carry one of these values.
type NodeType string

const (
	NodeScreen           NodeType = "SCREEN"
	NodeCommand          NodeType = "COMMAND"
	NodeDomainEvent      NodeType = "DOMAIN_EVENT"
	NodeReadModel        NodeType = "READ_MODEL"
	NodeIntegrationEvent NodeType = "INTEGRATION_EVENT"
	NodeAutomation       NodeType = "AUTOMATION"
)

// KnownNodeTypes lists the closed node-type set in canvas column order.
var KnownNodeTypes = []NodeType{
	NodeScreen, NodeCommand, NodeAutomation,
	NodeDomainEvent, NodeIntegrationEvent, NodeReadModel,
}

// KnownNodeType reports whether t is a member of the closed node-type set.
func KnownNodeType(t NodeType) bool {
	switch t {
	case NodeScreen, NodeCommand, NodeDomainEvent, NodeReadModel, NodeIntegrationEvent, NodeAutomation:
		return true
	}
	return false
}

// ContextType distinguishes facts owned by this system from facts sourced
// from external systems.
type ContextType string

const (
	ContextInternal ContextType = "INTERNAL"
	ContextExternal ContextType = "EXTERNAL"
)

// LinkType qualifies the meaning of a directed connection.
type LinkType string

const (
	LinkFlow           LinkType = "FLOW"            // The default command/event/view flow of the timeline.
	LinkDataDependency LinkType = "DATA_DEPENDENCY" // A read-side data dependency, e.g. a command reading a read model.
)

// SliceType categorizes the Event Modeling pattern a slice implements.
type SliceType string

const (
	SliceStateChange SliceType = "STATE_CHANGE"
	SliceStateView   SliceType = "STATE_VIEW"
	SliceAutomation  SliceType = "AUTOMATION"
)

// DefinitionType categorizes a data dictionary entry.
type DefinitionType string

const (
	DefinitionEntity      DefinitionType = "Entity"
	DefinitionValueObject DefinitionType = "ValueObject"
	DefinitionEnum        DefinitionType = "Enum"
)

// PrimitiveTypes is the fixed set of primitive attribute type names. An
// attribute type outside this set must name another ValueObject or Enum
// definition.
var PrimitiveTypes = []string{
	"String", "Int", "Long", "Double", "Boolean", "Date", "DateTime", "UUID",
}

// IsPrimitiveType reports whether name is one of the allowed primitive
// attribute types.
func IsPrimitiveType(name string) bool {
	for _, p := range PrimitiveTypes {
		if p == name {
			return true
		}
	}
	return false
}

// Node is a single typed diagram element. Position (X, Y) holds the last
// laid-out or dragged coordinates. FX/FY are the manual pin coordinates and
// are non-nil exactly when Pinned is true.
type Node struct {
	ID                 string      `json:"id"`
	Type               NodeType    `json:"type"`
	Name               string      `json:"name"`
	Description        string      `json:"description,omitempty"`
	X                  float64     `json:"x"`
	Y                  float64     `json:"y"`
	FX                 *float64    `json:"fx,omitempty"`
	FY                 *float64    `json:"fy,omitempty"`
	Pinned             bool        `json:"pinned,omitempty"`
	SliceID            string      `json:"sliceId,omitempty"`
	EntityIDs          []string    `json:"entityIds,omitempty"` // Data definition references, many-to-many.
	SchemaBinding      string      `json:"schemaBinding,omitempty"`
	Service            string      `json:"service,omitempty"`
	Aggregate          string      `json:"aggregate,omitempty"`
	Context            ContextType `json:"context,omitempty"`
	ExternalSystem     string      `json:"externalSystem,omitempty"`
	TechnicalTimestamp bool        `json:"technicalTimestamp,omitempty"`
}

// Clone returns a deep copy of the node, safe to hand across goroutine
// boundaries.
func (n Node) Clone() Node {
	out := n
	if n.FX != nil {
		fx := *n.FX
		out.FX = &fx
	}
	if n.FY != nil {
		fy := *n.FY
		out.FY = &fy
	}
	if n.EntityIDs != nil {
		out.EntityIDs = append([]string(nil), n.EntityIDs...)
	}
	return out
}

// Normalize enforces the structural invariants a node must satisfy before it
// is published or persisted. Domain events are authoritative facts and are
// always internal; only integration events represent external facts.
func (n *Node) Normalize() {
	if n.Type == NodeDomainEvent {
		n.Context = ContextInternal
	}
	if !n.Pinned {
		n.FX = nil
		n.FY = nil
	}
}

// DefaultName returns the display name a freshly created node of type t
// receives before the user renames it.
func DefaultName(t NodeType) string {
	switch t {
	case NodeScreen:
		return "New Screen"
	case NodeCommand:
		return "New Command"
	case NodeDomainEvent:
		return "New Event"
	case NodeReadModel:
		return "New Read Model"
	case NodeIntegrationEvent:
		return "New Integration Event"
	case NodeAutomation:
		return "New Automation"
	}
	return "New Element"
}

// Link is a directed edge between two nodes. Both endpoints must reference
// existing nodes; connection validity by type pair is enforced before
// creation, not here.
type Link struct {
	ID     string   `json:"id"`
	Source string   `json:"source"`
	Target string   `json:"target"`
	Label  string   `json:"label,omitempty"`
	Type   LinkType `json:"type,omitempty"`
}

// Touches reports whether the link has nodeID as either endpoint.
func (l Link) Touches(nodeID string) bool {
	return l.Source == nodeID || l.Target == nodeID
}

// Move is one position change for a node, including its pin state. FX/FY
// follow the node convention: non-nil exactly when Pinned.
type Move struct {
	ID     string
	X, Y   float64
	FX, FY *float64
	Pinned bool
}

// MoveOf captures a node's current position and pin state.
func MoveOf(n Node) Move {
	mv := Move{ID: n.ID, X: n.X, Y: n.Y, Pinned: n.Pinned}
	if n.FX != nil {
		fx := *n.FX
		mv.FX = &fx
	}
	if n.FY != nil {
		fy := *n.FY
		mv.FY = &fy
	}
	return mv
}

// Clone returns a copy with its own pin pointers.
func (mv Move) Clone() Move {
	out := mv
	if mv.FX != nil {
		fx := *mv.FX
		out.FX = &fx
	}
	if mv.FY != nil {
		fy := *mv.FY
		out.FY = &fy
	}
	return out
}

// ApplyTo writes the move onto a node and re-normalizes its pin state.
// Pin pointers are copied, never shared with the move.
func (mv Move) ApplyTo(n *Node) {
	n.X = mv.X
	n.Y = mv.Y
	n.Pinned = mv.Pinned
	n.FX = nil
	n.FY = nil
	if mv.FX != nil {
		fx := *mv.FX
		n.FX = &fx
	}
	if mv.FY != nil {
		fy := *mv.FY
		n.FY = &fy
	}
	n.Normalize()
}

// StepKeyword is the Gherkin-style keyword of one specification step.
type StepKeyword string

const (
	StepGiven StepKeyword = "GIVEN"
	StepWhen  StepKeyword = "WHEN"
	StepThen  StepKeyword = "THEN"
	StepAnd   StepKeyword = "AND"
)

// SpecStep is one ordered step of a Given/When/Then scenario.
type SpecStep struct {
	Keyword StepKeyword `json:"keyword"`
	Text    string      `json:"text"`
}

// ExampleTable is an optional tabular example attached to a specification.
type ExampleTable struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Specification is a Given/When/Then scenario attached to a slice.
type Specification struct {
	Name    string        `json:"name"`
	Steps   []SpecStep    `json:"steps"`
	Example *ExampleTable `json:"example,omitempty"`
}

// Slice is a named vertical grouping of nodes, one feature swimlane of the
// timeline. Membership is derived from Node.SliceID and never stored on the
// slice itself.
type Slice struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Order          int             `json:"order"`
	Color          string          `json:"color,omitempty"`
	SliceType      SliceType       `json:"sliceType,omitempty"`
	Context        string          `json:"context,omitempty"`
	Chapter        string          `json:"chapter,omitempty"`
	Specifications []Specification `json:"specifications,omitempty"`
}

// Clone returns a deep copy of the slice.
func (s Slice) Clone() Slice {
	out := s
	if s.Specifications != nil {
		out.Specifications = make([]Specification, len(s.Specifications))
		for i, sp := range s.Specifications {
			cp := sp
			cp.Steps = append([]SpecStep(nil), sp.Steps...)
			if sp.Example != nil {
				ex := ExampleTable{
					Columns: append([]string(nil), sp.Example.Columns...),
					Rows:    make([][]string, len(sp.Example.Rows)),
				}
				for j, row := range sp.Example.Rows {
					ex.Rows[j] = append([]string(nil), row...)
				}
				cp.Example = &ex
			}
			out.Specifications[i] = cp
		}
	}
	return out
}

// NodeIDsIn computes the derived membership view for a slice: the ids of all
// nodes whose SliceID equals sliceID, in the order given.
func NodeIDsIn(sliceID string, nodes []Node) []string {
	var ids []string
	for _, n := range nodes {
		if n.SliceID == sliceID {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// Attribute is one ordered field of a data definition. Type is either a
// primitive type name or the name of another ValueObject/Enum definition.
type Attribute struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	IsPII bool   `json:"isPII,omitempty"`
}

// DataDefinition is a reusable schema entry in the model's data dictionary.
// Nodes reference definitions by id; deleting a definition leaves dangling
// references that consumers must tolerate.
type DataDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        DefinitionType `json:"type"`
	Description string         `json:"description,omitempty"`
	Attributes  []Attribute    `json:"attributes,omitempty"`
}

// Clone returns a deep copy of the definition.
func (d DataDefinition) Clone() DataDefinition {
	out := d
	if d.Attributes != nil {
		out.Attributes = append([]Attribute(nil), d.Attributes...)
	}
	return out
}

// Meta is the per-model metadata scalar.
type Meta struct {
	Title string `json:"title"`
}

// Model is one complete event model: every collection plus the scalars, the
// unit of export, import, and whole-model operations.
type Model struct {
	Nodes       []Node               `json:"nodes"`
	Links       []Link               `json:"links"`
	Slices      []Slice              `json:"slices"`
	Definitions []DataDefinition     `json:"definitions"`
	EdgeRoutes  map[string][]float64 `json:"edgeRoutes,omitempty"`
	Meta        Meta                 `json:"meta"`
}
