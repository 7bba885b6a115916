package schemas

// Opt is a tagged optional used by the patch types. It distinguishes three
// states the underlying store treats differently: never set (the field is
// left unchanged), explicitly cleared (a null sentinel is written), and
// present with a value. Omission is never used to express removal.
type Opt[T any] struct {
	set   bool
	null  bool
	value T
}

// OptOf returns an optional carrying v.
func OptOf[T any](v T) Opt[T] {
	return Opt[T]{set: true, value: v}
}

// OptClear returns an optional that clears the field.
func OptClear[T any]() Opt[T] {
	return Opt[T]{set: true, null: true}
}

// IsSet reports whether the optional was set at all, with a value or as a
// clear.
func (o Opt[T]) IsSet() bool { return o.set }

// IsClear reports whether the optional clears the field.
func (o Opt[T]) IsClear() bool { return o.set && o.null }

// Get returns the carried value and whether one is present.
func (o Opt[T]) Get() (T, bool) {
	if !o.set || o.null {
		var zero T
		return zero, false
	}
	return o.value, true
}

// NodePatch is a partial update to a node. Unset fields are untouched.
// Position and pin state are intentionally absent: they move through the
// dedicated position operations, which carry their own batching and pin
// semantics.
type NodePatch struct {
	Name               Opt[string]
	Description        Opt[string]
	SliceID            Opt[string]
	EntityIDs          Opt[[]string]
	SchemaBinding      Opt[string]
	Service            Opt[string]
	Aggregate          Opt[string]
	Context            Opt[ContextType]
	ExternalSystem     Opt[string]
	TechnicalTimestamp Opt[bool]
}

// IsZero reports whether the patch changes nothing.
func (p NodePatch) IsZero() bool {
	return !p.Name.IsSet() && !p.Description.IsSet() && !p.SliceID.IsSet() &&
		!p.EntityIDs.IsSet() && !p.SchemaBinding.IsSet() && !p.Service.IsSet() &&
		!p.Aggregate.IsSet() && !p.Context.IsSet() && !p.ExternalSystem.IsSet() &&
		!p.TechnicalTimestamp.IsSet()
}

// Structural reports whether applying the patch changes rendered size or
// slice membership, the changes that require a fresh layout pass.
func (p NodePatch) Structural() bool {
	return p.Name.IsSet() || p.SliceID.IsSet()
}

// Apply merges the patch into n and returns the inverse patch that restores
// the prior values of every field the patch touched.
func (p NodePatch) Apply(n *Node) NodePatch {
	var inv NodePatch
	if p.Name.IsSet() {
		inv.Name = OptOf(n.Name)
		n.Name, _ = p.Name.Get()
	}
	if p.Description.IsSet() {
		inv.Description = prior(n.Description)
		n.Description, _ = p.Description.Get()
	}
	if p.SliceID.IsSet() {
		inv.SliceID = prior(n.SliceID)
		n.SliceID, _ = p.SliceID.Get()
	}
	if p.EntityIDs.IsSet() {
		if n.EntityIDs == nil {
			inv.EntityIDs = OptClear[[]string]()
		} else {
			inv.EntityIDs = OptOf(append([]string(nil), n.EntityIDs...))
		}
		v, ok := p.EntityIDs.Get()
		if !ok {
			n.EntityIDs = nil
		} else {
			n.EntityIDs = v
		}
	}
	if p.SchemaBinding.IsSet() {
		inv.SchemaBinding = prior(n.SchemaBinding)
		n.SchemaBinding, _ = p.SchemaBinding.Get()
	}
	if p.Service.IsSet() {
		inv.Service = prior(n.Service)
		n.Service, _ = p.Service.Get()
	}
	if p.Aggregate.IsSet() {
		inv.Aggregate = prior(n.Aggregate)
		n.Aggregate, _ = p.Aggregate.Get()
	}
	if p.Context.IsSet() {
		if n.Context == "" {
			inv.Context = OptClear[ContextType]()
		} else {
			inv.Context = OptOf(n.Context)
		}
		n.Context, _ = p.Context.Get()
	}
	if p.ExternalSystem.IsSet() {
		inv.ExternalSystem = prior(n.ExternalSystem)
		n.ExternalSystem, _ = p.ExternalSystem.Get()
	}
	if p.TechnicalTimestamp.IsSet() {
		inv.TechnicalTimestamp = OptOf(n.TechnicalTimestamp)
		n.TechnicalTimestamp, _ = p.TechnicalTimestamp.Get()
	}
	n.Normalize()
	return inv
}

// LinkPatch is a partial update to a link. Endpoints are immutable; a
// different connection is a new link.
type LinkPatch struct {
	Label Opt[string]
	Type  Opt[LinkType]
}

// IsZero reports whether the patch changes nothing.
func (p LinkPatch) IsZero() bool {
	return !p.Label.IsSet() && !p.Type.IsSet()
}

// Apply merges the patch into l and returns the inverse patch.
func (p LinkPatch) Apply(l *Link) LinkPatch {
	var inv LinkPatch
	if p.Label.IsSet() {
		inv.Label = prior(l.Label)
		l.Label, _ = p.Label.Get()
	}
	if p.Type.IsSet() {
		if l.Type == "" {
			inv.Type = OptClear[LinkType]()
		} else {
			inv.Type = OptOf(l.Type)
		}
		l.Type, _ = p.Type.Get()
	}
	return inv
}

// SlicePatch is a partial update to a slice.
type SlicePatch struct {
	Title          Opt[string]
	Order          Opt[int]
	Color          Opt[string]
	SliceType      Opt[SliceType]
	Context        Opt[string]
	Chapter        Opt[string]
	Specifications Opt[[]Specification]
}

// IsZero reports whether the patch changes nothing.
func (p SlicePatch) IsZero() bool {
	return !p.Title.IsSet() && !p.Order.IsSet() && !p.Color.IsSet() &&
		!p.SliceType.IsSet() && !p.Context.IsSet() && !p.Chapter.IsSet() &&
		!p.Specifications.IsSet()
}

// Apply merges the patch into s.
func (p SlicePatch) Apply(s *Slice) {
	if p.Title.IsSet() {
		s.Title, _ = p.Title.Get()
	}
	if p.Order.IsSet() {
		s.Order, _ = p.Order.Get()
	}
	if p.Color.IsSet() {
		s.Color, _ = p.Color.Get()
	}
	if p.SliceType.IsSet() {
		s.SliceType, _ = p.SliceType.Get()
	}
	if p.Context.IsSet() {
		s.Context, _ = p.Context.Get()
	}
	if p.Chapter.IsSet() {
		s.Chapter, _ = p.Chapter.Get()
	}
	if p.Specifications.IsSet() {
		v, ok := p.Specifications.Get()
		if !ok {
			s.Specifications = nil
		} else {
			s.Specifications = v
		}
	}
}

// DefinitionPatch is a partial update to a data definition.
type DefinitionPatch struct {
	Name        Opt[string]
	Type        Opt[DefinitionType]
	Description Opt[string]
	Attributes  Opt[[]Attribute]
}

// IsZero reports whether the patch changes nothing.
func (p DefinitionPatch) IsZero() bool {
	return !p.Name.IsSet() && !p.Type.IsSet() && !p.Description.IsSet() && !p.Attributes.IsSet()
}

// Apply merges the patch into d.
func (p DefinitionPatch) Apply(d *DataDefinition) {
	if p.Name.IsSet() {
		d.Name, _ = p.Name.Get()
	}
	if p.Type.IsSet() {
		d.Type, _ = p.Type.Get()
	}
	if p.Description.IsSet() {
		d.Description, _ = p.Description.Get()
	}
	if p.Attributes.IsSet() {
		v, ok := p.Attributes.Get()
		if !ok {
			d.Attributes = nil
		} else {
			d.Attributes = v
		}
	}
}

// prior captures a string field's previous value as a patch entry,
// preserving the empty-means-cleared convention.
func prior(v string) Opt[string] {
	if v == "" {
		return OptClear[string]()
	}
	return OptOf(v)
}
