package schemas

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Collection names under a model's namespace in the remote store.
const (
	CollectionNodes       = "nodes"
	CollectionLinks       = "links"
	CollectionSlices      = "slices"
	CollectionDefinitions = "definitions"
	CollectionRoutes      = "edgeRoutes"
	CollectionMeta        = "meta"
)

// Keys of the two scalar records. Each of these collections holds exactly one
// record.
const (
	RoutesKey = "current"
	MetaKey   = "current"
)

// The remote store merges records per field and only carries scalar leaf
// values, so composite fields (entityIds, attributes, specifications, the
// route map) cross the wire as JSON strings. Decoders also accept the
// already-structured shape for records written by older clients. Absent
// optional fields are written as explicit nils, never omitted: the store
// treats omission as "unchanged", not "cleared".

// EncodeNode flattens a node into its wire record.
func EncodeNode(n Node) map[string]any {
	rec := map[string]any{
		"type":               string(n.Type),
		"name":               n.Name,
		"description":        strOrNil(n.Description),
		"x":                  n.X,
		"y":                  n.Y,
		"fx":                 floatPtrOrNil(n.FX),
		"fy":                 floatPtrOrNil(n.FY),
		"pinned":             n.Pinned,
		"sliceId":            strOrNil(n.SliceID),
		"entityIds":          jsonStrOrNil(n.EntityIDs),
		"schemaBinding":      strOrNil(n.SchemaBinding),
		"service":            strOrNil(n.Service),
		"aggregate":          strOrNil(n.Aggregate),
		"context":            strOrNil(string(n.Context)),
		"externalSystem":     strOrNil(n.ExternalSystem),
		"technicalTimestamp": n.TechnicalTimestamp,
	}
	return rec
}

// DecodeNode rebuilds a node from a merged wire record. The record's field
// types are checked strictly; a type mismatch means the record is malformed
// and must be dropped by the caller.
func DecodeNode(id string, rec map[string]any) (Node, error) {
	n := Node{ID: id}
	var err error
	if n.Type, err = fieldStrAs[NodeType](rec, "type"); err != nil {
		return Node{}, err
	}
	if n.Name, err = fieldStr(rec, "name"); err != nil {
		return Node{}, err
	}
	if n.Description, err = fieldStr(rec, "description"); err != nil {
		return Node{}, err
	}
	if n.X, err = fieldNum(rec, "x"); err != nil {
		return Node{}, err
	}
	if n.Y, err = fieldNum(rec, "y"); err != nil {
		return Node{}, err
	}
	if n.FX, err = fieldNumPtr(rec, "fx"); err != nil {
		return Node{}, err
	}
	if n.FY, err = fieldNumPtr(rec, "fy"); err != nil {
		return Node{}, err
	}
	if n.Pinned, err = fieldBool(rec, "pinned"); err != nil {
		return Node{}, err
	}
	if n.SliceID, err = fieldStr(rec, "sliceId"); err != nil {
		return Node{}, err
	}
	if n.EntityIDs, err = fieldStrSlice(rec, "entityIds"); err != nil {
		return Node{}, err
	}
	if n.SchemaBinding, err = fieldStr(rec, "schemaBinding"); err != nil {
		return Node{}, err
	}
	if n.Service, err = fieldStr(rec, "service"); err != nil {
		return Node{}, err
	}
	if n.Aggregate, err = fieldStr(rec, "aggregate"); err != nil {
		return Node{}, err
	}
	if n.Context, err = fieldStrAs[ContextType](rec, "context"); err != nil {
		return Node{}, err
	}
	if n.ExternalSystem, err = fieldStr(rec, "externalSystem"); err != nil {
		return Node{}, err
	}
	if n.TechnicalTimestamp, err = fieldBool(rec, "technicalTimestamp"); err != nil {
		return Node{}, err
	}
	n.Normalize()
	return n, nil
}

// Complete reports whether the node satisfies the minimal-completeness
// predicate: a known type and a non-empty name. Until a record is complete it
// is held in the accumulator without being published.
func (n Node) Complete() bool {
	return KnownNodeType(n.Type) && n.Name != ""
}

// EncodeLink flattens a link into its wire record.
func EncodeLink(l Link) map[string]any {
	return map[string]any{
		"source": l.Source,
		"target": l.Target,
		"label":  strOrNil(l.Label),
		"type":   strOrNil(string(l.Type)),
	}
}

// DecodeLink rebuilds a link from a merged wire record.
func DecodeLink(id string, rec map[string]any) (Link, error) {
	l := Link{ID: id}
	var err error
	if l.Source, err = fieldStr(rec, "source"); err != nil {
		return Link{}, err
	}
	if l.Target, err = fieldStr(rec, "target"); err != nil {
		return Link{}, err
	}
	if l.Label, err = fieldStr(rec, "label"); err != nil {
		return Link{}, err
	}
	if l.Type, err = fieldStrAs[LinkType](rec, "type"); err != nil {
		return Link{}, err
	}
	return l, nil
}

// Complete reports whether the link references both endpoints.
func (l Link) Complete() bool {
	return l.Source != "" && l.Target != ""
}

// EncodeSlice flattens a slice into its wire record.
func EncodeSlice(s Slice) map[string]any {
	return map[string]any{
		"title":          s.Title,
		"order":          float64(s.Order),
		"color":          strOrNil(s.Color),
		"sliceType":      strOrNil(string(s.SliceType)),
		"context":        strOrNil(s.Context),
		"chapter":        strOrNil(s.Chapter),
		"specifications": jsonStrOrNil(s.Specifications),
	}
}

// DecodeSlice rebuilds a slice from a merged wire record.
func DecodeSlice(id string, rec map[string]any) (Slice, error) {
	s := Slice{ID: id}
	var err error
	if s.Title, err = fieldStr(rec, "title"); err != nil {
		return Slice{}, err
	}
	order, err := fieldNum(rec, "order")
	if err != nil {
		return Slice{}, err
	}
	s.Order = int(order)
	if s.Color, err = fieldStr(rec, "color"); err != nil {
		return Slice{}, err
	}
	if s.SliceType, err = fieldStrAs[SliceType](rec, "sliceType"); err != nil {
		return Slice{}, err
	}
	if s.Context, err = fieldStr(rec, "context"); err != nil {
		return Slice{}, err
	}
	if s.Chapter, err = fieldStr(rec, "chapter"); err != nil {
		return Slice{}, err
	}
	if err = fieldComposite(rec, "specifications", &s.Specifications); err != nil {
		return Slice{}, err
	}
	return s, nil
}

// Complete reports whether the slice can be materialized.
func (s Slice) Complete() bool {
	return s.Title != ""
}

// EncodeDefinition flattens a data definition into its wire record.
func EncodeDefinition(d DataDefinition) map[string]any {
	return map[string]any{
		"name":        d.Name,
		"type":        string(d.Type),
		"description": strOrNil(d.Description),
		"attributes":  jsonStrOrNil(d.Attributes),
	}
}

// DecodeDefinition rebuilds a data definition from a merged wire record.
func DecodeDefinition(id string, rec map[string]any) (DataDefinition, error) {
	d := DataDefinition{ID: id}
	var err error
	if d.Name, err = fieldStr(rec, "name"); err != nil {
		return DataDefinition{}, err
	}
	if d.Type, err = fieldStrAs[DefinitionType](rec, "type"); err != nil {
		return DataDefinition{}, err
	}
	if d.Description, err = fieldStr(rec, "description"); err != nil {
		return DataDefinition{}, err
	}
	if err = fieldComposite(rec, "attributes", &d.Attributes); err != nil {
		return DataDefinition{}, err
	}
	return d, nil
}

// Complete reports whether the definition can be materialized.
func (d DataDefinition) Complete() bool {
	return d.Name != "" && d.Type != ""
}

// EncodeRoutes flattens the per-link route map into the single scalar route
// record. Polylines are flat coordinate arrays [x0, y0, x1, y1, ...].
func EncodeRoutes(routes map[string][]float64) (map[string]any, error) {
	raw, err := json.Marshal(routes)
	if err != nil {
		return nil, fmt.Errorf("encoding route map: %w", err)
	}
	return map[string]any{"routes": string(raw)}, nil
}

// DecodeRoutes rebuilds the per-link route map from the scalar route record.
func DecodeRoutes(rec map[string]any) (map[string][]float64, error) {
	routes := make(map[string][]float64)
	if err := fieldComposite(rec, "routes", &routes); err != nil {
		return nil, err
	}
	return routes, nil
}

// EncodeMeta flattens the model metadata scalar.
func EncodeMeta(m Meta) map[string]any {
	return map[string]any{"title": m.Title}
}

// DecodeMeta rebuilds the model metadata scalar.
func DecodeMeta(rec map[string]any) (Meta, error) {
	var m Meta
	var err error
	if m.Title, err = fieldStr(rec, "title"); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// PatchRecord returns the partial wire record for exactly the fields the
// patch touched, carrying the patched node's resulting values. Cleared
// fields appear as explicit nils.
func (p NodePatch) PatchRecord(n Node) map[string]any {
	rec := map[string]any{}
	if p.Name.IsSet() {
		rec["name"] = n.Name
	}
	if p.Description.IsSet() {
		rec["description"] = strOrNil(n.Description)
	}
	if p.SliceID.IsSet() {
		rec["sliceId"] = strOrNil(n.SliceID)
	}
	if p.EntityIDs.IsSet() {
		rec["entityIds"] = jsonStrOrNil(n.EntityIDs)
	}
	if p.SchemaBinding.IsSet() {
		rec["schemaBinding"] = strOrNil(n.SchemaBinding)
	}
	if p.Service.IsSet() {
		rec["service"] = strOrNil(n.Service)
	}
	if p.Aggregate.IsSet() {
		rec["aggregate"] = strOrNil(n.Aggregate)
	}
	if p.Context.IsSet() {
		rec["context"] = strOrNil(string(n.Context))
	}
	if p.ExternalSystem.IsSet() {
		rec["externalSystem"] = strOrNil(n.ExternalSystem)
	}
	if p.TechnicalTimestamp.IsSet() {
		rec["technicalTimestamp"] = n.TechnicalTimestamp
	}
	return rec
}

// PatchRecord returns the partial wire record for the fields the patch
// touched on a link.
func (p LinkPatch) PatchRecord(l Link) map[string]any {
	rec := map[string]any{}
	if p.Label.IsSet() {
		rec["label"] = strOrNil(l.Label)
	}
	if p.Type.IsSet() {
		rec["type"] = strOrNil(string(l.Type))
	}
	return rec
}

// PatchRecord returns the partial wire record for the fields the patch
// touched on a slice.
func (p SlicePatch) PatchRecord(s Slice) map[string]any {
	rec := map[string]any{}
	if p.Title.IsSet() {
		rec["title"] = s.Title
	}
	if p.Order.IsSet() {
		rec["order"] = float64(s.Order)
	}
	if p.Color.IsSet() {
		rec["color"] = strOrNil(s.Color)
	}
	if p.SliceType.IsSet() {
		rec["sliceType"] = strOrNil(string(s.SliceType))
	}
	if p.Context.IsSet() {
		rec["context"] = strOrNil(s.Context)
	}
	if p.Chapter.IsSet() {
		rec["chapter"] = strOrNil(s.Chapter)
	}
	if p.Specifications.IsSet() {
		rec["specifications"] = jsonStrOrNil(s.Specifications)
	}
	return rec
}

// PatchRecord returns the partial wire record for the fields the patch
// touched on a definition.
func (p DefinitionPatch) PatchRecord(d DataDefinition) map[string]any {
	rec := map[string]any{}
	if p.Name.IsSet() {
		rec["name"] = d.Name
	}
	if p.Type.IsSet() {
		rec["type"] = string(d.Type)
	}
	if p.Description.IsSet() {
		rec["description"] = strOrNil(d.Description)
	}
	if p.Attributes.IsSet() {
		rec["attributes"] = jsonStrOrNil(d.Attributes)
	}
	return rec
}

// PositionRecord returns the partial wire record carrying a node's position
// and pin state, the write shape of drags, pins, and layout passes. All five
// fields are always present so a pin release clears fx/fy remotely.
func PositionRecord(n Node) map[string]any {
	return map[string]any{
		"x":      n.X,
		"y":      n.Y,
		"fx":     floatPtrOrNil(n.FX),
		"fy":     floatPtrOrNil(n.FY),
		"pinned": n.Pinned,
	}
}

// CheckFields validates the field types of a partial record for the given
// collection before it is merged into an accumulator. A failure marks the
// whole update malformed; the caller drops it so bad data cannot poison the
// last-known-good state.
func CheckFields(collection string, rec map[string]any) error {
	probe := func(id string, r map[string]any) error {
		switch collection {
		case CollectionNodes:
			_, err := DecodeNode(id, r)
			return err
		case CollectionLinks:
			_, err := DecodeLink(id, r)
			return err
		case CollectionSlices:
			_, err := DecodeSlice(id, r)
			return err
		case CollectionDefinitions:
			_, err := DecodeDefinition(id, r)
			return err
		case CollectionRoutes:
			_, err := DecodeRoutes(r)
			return err
		case CollectionMeta:
			_, err := DecodeMeta(r)
			return err
		}
		return fmt.Errorf("unknown collection %q", collection)
	}
	// Decode the partial on its own: every present field must already have a
	// usable type, whatever subset of fields is present.
	return probe("probe", rec)
}

// MergeRecord overlays a partial update onto the last-known record and
// returns the merged copy. A nil field value is the clear sentinel and
// removes the field; absent fields stay unchanged.
func MergeRecord(base, partial map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(partial))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range partial {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

// -- wire field helpers --

func strOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func floatPtrOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// jsonStrOrNil marshals a composite value to its JSON-string wire form, or
// nil when the value is empty.
func jsonStrOrNil[T any](v []T) any {
	if len(v) == 0 {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		// Only unmarshalable values (channels, funcs) can fail here and the
		// schema types contain none.
		return nil
	}
	return string(raw)
}

func fieldStr(rec map[string]any, key string) (string, error) {
	v, ok := rec[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %T", key, v)
	}
	return s, nil
}

func fieldStrAs[T ~string](rec map[string]any, key string) (T, error) {
	s, err := fieldStr(rec, key)
	return T(s), err
}

func fieldNum(rec map[string]any, key string) (float64, error) {
	v, ok := rec[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("field %q: expected number, got %T", key, v)
}

func fieldNumPtr(rec map[string]any, key string) (*float64, error) {
	if v, ok := rec[key]; !ok || v == nil {
		return nil, nil
	}
	n, err := fieldNum(rec, key)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func fieldBool(rec map[string]any, key string) (bool, error) {
	v, ok := rec[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("field %q: expected bool, got %T", key, v)
	}
	return b, nil
}

// fieldStrSlice reads a composite string-list field, accepting both the
// JSON-string wire form and an already-structured list.
func fieldStrSlice(rec map[string]any, key string) ([]string, error) {
	var out []string
	if err := fieldComposite(rec, key, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// fieldComposite reads a composite field into dst, accepting both the
// JSON-string wire form and an already-structured value.
func fieldComposite(rec map[string]any, key string, dst any) error {
	v, ok := rec[key]
	if !ok || v == nil {
		return nil
	}
	var raw []byte
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		raw = []byte(t)
	default:
		// Structured shape from an older client: round-trip through JSON to
		// land in dst without a hand-rolled reflection walk.
		var err error
		if raw, err = json.Marshal(v); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	return nil
}
