// Package transfer moves whole event models in and out of the engine as
// portable JSON documents, the format the import and export commands speak
// and the only sanctioned bulk path into a store.
package transfer

import (
	"context"
	"fmt"
	"io"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/weavrhq/weavr/api/schemas"
	"github.com/weavrhq/weavr/internal/graphsync"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DocumentVersion is the current document format. Documents without a
// version field are treated as version 1.
const DocumentVersion = 1

// Document is one model as a portable file: the structured entities, not
// the per-field wire records. Composite fields stay structured here; the
// JSON-string flattening is a store concern.
type Document struct {
	Version int `json:"version"`
	schemas.Model
}

// Decode reads a document and rejects versions this build cannot read.
func Decode(r io.Reader) (Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decoding document: %w", err)
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	if doc.Version > DocumentVersion {
		return Document{}, fmt.Errorf("document version %d is newer than this build supports", doc.Version)
	}
	return doc, nil
}

// Encode writes the document indented, stable for diffing.
func Encode(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	return nil
}

// Validate checks the document's referential structure: unique ids, link
// endpoints that resolve, slice references that resolve. Violations of the
// modeling pattern itself are the audit's business, not a transfer error.
func Validate(doc Document) error {
	nodeIDs := make(map[string]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node %q has no id", n.Name)
		}
		if nodeIDs[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		nodeIDs[n.ID] = true
	}
	sliceIDs := make(map[string]bool, len(doc.Slices))
	for _, s := range doc.Slices {
		if s.ID == "" {
			return fmt.Errorf("slice %q has no id", s.Title)
		}
		if sliceIDs[s.ID] {
			return fmt.Errorf("duplicate slice id %q", s.ID)
		}
		sliceIDs[s.ID] = true
	}
	linkIDs := make(map[string]bool, len(doc.Links))
	for _, l := range doc.Links {
		if l.ID == "" {
			return fmt.Errorf("link %s->%s has no id", l.Source, l.Target)
		}
		if linkIDs[l.ID] {
			return fmt.Errorf("duplicate link id %q", l.ID)
		}
		linkIDs[l.ID] = true
		if !nodeIDs[l.Source] || !nodeIDs[l.Target] {
			return fmt.Errorf("link %q references a missing node", l.ID)
		}
	}
	for _, n := range doc.Nodes {
		if n.SliceID != "" && !sliceIDs[n.SliceID] {
			return fmt.Errorf("node %q references missing slice %q", n.ID, n.SliceID)
		}
	}
	defIDs := make(map[string]bool, len(doc.Definitions))
	for _, d := range doc.Definitions {
		if d.ID == "" {
			return fmt.Errorf("definition %q has no id", d.Name)
		}
		if defIDs[d.ID] {
			return fmt.Errorf("duplicate definition id %q", d.ID)
		}
		defIDs[d.ID] = true
	}
	return nil
}

// Export snapshots the engine into a document and writes it.
func Export(w io.Writer, e *graphsync.Engine) error {
	return Encode(w, FromModel(e.Snapshot()))
}

// Import decodes, validates, and loads a document through the engine's
// bulk-replace path, discarding whatever the model held before.
func Import(ctx context.Context, e *graphsync.Engine, r io.Reader) (Document, error) {
	doc, err := Decode(r)
	if err != nil {
		return Document{}, err
	}
	if err := Validate(doc); err != nil {
		return Document{}, fmt.Errorf("invalid document: %w", err)
	}
	if err := e.ReplaceAll(ctx, doc.Model); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// FromModel wraps a model snapshot as a current-version document with
// deterministic entity order.
func FromModel(m schemas.Model) Document {
	sort.Slice(m.Nodes, func(i, j int) bool { return m.Nodes[i].ID < m.Nodes[j].ID })
	sort.Slice(m.Links, func(i, j int) bool { return m.Links[i].ID < m.Links[j].ID })
	sort.Slice(m.Definitions, func(i, j int) bool { return m.Definitions[i].ID < m.Definitions[j].ID })
	sort.SliceStable(m.Slices, func(i, j int) bool {
		if m.Slices[i].Order != m.Slices[j].Order {
			return m.Slices[i].Order < m.Slices[j].Order
		}
		return m.Slices[i].ID < m.Slices[j].ID
	})
	return Document{Version: DocumentVersion, Model: m}
}
