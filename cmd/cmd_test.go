package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/weavrhq/weavr/api/schemas"
	"github.com/weavrhq/weavr/internal/config"
	"github.com/weavrhq/weavr/internal/observability"
	"github.com/weavrhq/weavr/internal/transfer"
)

// TestMain routes console logging away from the test output once for the
// whole package; the commands' own Initialize calls become no-ops.
func TestMain(m *testing.M) {
	observability.Initialize(config.NewDefaultConfig().Logger, zapcore.AddSync(io.Discard))
	os.Exit(m.Run())
}

// executeCommand runs a fresh command tree and captures its combined output.
func executeCommand(t *testing.T, in io.Reader, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	if in != nil {
		root.SetIn(in)
	}
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weavr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func badgerConfig(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "store")
	return createTempConfig(t, fmt.Sprintf("store:\n  backend: badger\n  badger:\n    dir: %s\n", dir))
}

// sampleDocument is a minimal well formed checkout model: a screen feeding a
// command feeding an event, all in one slice.
func sampleDocument() transfer.Document {
	return transfer.FromModel(schemas.Model{
		Nodes: []schemas.Node{
			{ID: "n-scr", Type: schemas.NodeScreen, Name: "Cart", SliceID: "s-1", X: 900, Y: 900, Context: schemas.ContextInternal},
			{ID: "n-cmd", Type: schemas.NodeCommand, Name: "Place Order", SliceID: "s-1", X: 901, Y: 901, Context: schemas.ContextInternal},
			{ID: "n-evt", Type: schemas.NodeDomainEvent, Name: "Order Placed", SliceID: "s-1", Context: schemas.ContextInternal},
		},
		Links: []schemas.Link{
			{ID: "l-1", Source: "n-scr", Target: "n-cmd", Type: schemas.LinkFlow},
			{ID: "l-2", Source: "n-cmd", Target: "n-evt", Type: schemas.LinkFlow},
		},
		Slices:      []schemas.Slice{{ID: "s-1", Title: "Checkout", Order: 0, SliceType: schemas.SliceStateChange}},
		Definitions: []schemas.DataDefinition{{ID: "d-1", Name: "Order", Type: schemas.DefinitionEntity}},
		Meta:        schemas.Meta{Title: "Shop"},
	})
}

func writeDocumentFile(t *testing.T, doc transfer.Document) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, transfer.Encode(&buf, doc))
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func readDocumentFile(t *testing.T, path string) transfer.Document {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	doc, err := transfer.Decode(f)
	require.NoError(t, err)
	return doc
}

func nodeByID(t *testing.T, doc transfer.Document, id string) schemas.Node {
	t.Helper()
	for _, n := range doc.Nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %s not in document", id)
	return schemas.Node{}
}

func floatp(f float64) *float64 { return &f }

func TestVersionCmd(t *testing.T) {
	t.Run("should print the version", func(t *testing.T) {
		out, err := executeCommand(t, nil, "version")
		require.NoError(t, err)
		assert.Contains(t, out, "weavr")
		assert.Contains(t, out, Version)
	})

	t.Run("should honor the --version flag", func(t *testing.T) {
		out, err := executeCommand(t, nil, "--version")
		require.NoError(t, err)
		assert.Contains(t, out, Version)
	})

	t.Run("should not require a readable config", func(t *testing.T) {
		_, err := executeCommand(t, nil, "--config", "/nonexistent/weavr.yaml", "version")
		require.NoError(t, err)
	})
}

func TestAuditCmd(t *testing.T) {
	t.Run("should pass a well formed document", func(t *testing.T) {
		path := writeDocumentFile(t, sampleDocument())

		out, err := executeCommand(t, nil, "audit", path)
		require.NoError(t, err)
		assert.Contains(t, out, "OK")
		assert.Contains(t, out, "3 nodes")
	})

	t.Run("should read the document from stdin", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, transfer.Encode(&buf, sampleDocument()))

		out, err := executeCommand(t, &buf, "audit")
		require.NoError(t, err)
		assert.Contains(t, out, "OK")
	})

	t.Run("should report pattern violations and fail", func(t *testing.T) {
		doc := sampleDocument()
		doc.Nodes = append(doc.Nodes, schemas.Node{
			ID: "n-ref", Type: schemas.NodeCommand, Name: "Refund", SliceID: "s-1",
		})
		path := writeDocumentFile(t, doc)

		out, err := executeCommand(t, nil, "audit", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 pattern violation")
		assert.Contains(t, out, "Refund")
	})

	t.Run("should reject an inconsistent document", func(t *testing.T) {
		doc := sampleDocument()
		doc.Links = append(doc.Links, schemas.Link{ID: "l-bad", Source: "n-scr", Target: "n-ghost"})
		path := writeDocumentFile(t, doc)

		_, err := executeCommand(t, nil, "audit", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid document")
	})
}

func TestLayoutCmd(t *testing.T) {
	t.Run("should place nodes on the slice grid and route edges", func(t *testing.T) {
		path := writeDocumentFile(t, sampleDocument())
		outPath := filepath.Join(t.TempDir(), "laid.json")

		_, err := executeCommand(t, nil, "layout", path, "-o", outPath)
		require.NoError(t, err)

		laid := readDocumentFile(t, outPath)
		scr := nodeByID(t, laid, "n-scr")
		cmd := nodeByID(t, laid, "n-cmd")
		evt := nodeByID(t, laid, "n-evt")
		assert.Equal(t, 0.0, scr.X)
		assert.Equal(t, 100.0, scr.Y)
		assert.Equal(t, 250.0, cmd.X)
		assert.Equal(t, 100.0, cmd.Y)
		assert.Equal(t, 500.0, evt.X)
		assert.Equal(t, 100.0, evt.Y)

		require.Len(t, laid.EdgeRoutes, 2)
		assert.Equal(t, []float64{200, 160, 250, 160}, laid.EdgeRoutes["l-1"])
		assert.Equal(t, []float64{450, 160, 500, 160}, laid.EdgeRoutes["l-2"])
	})

	t.Run("should leave pinned nodes anchored", func(t *testing.T) {
		doc := sampleDocument()
		for i := range doc.Nodes {
			if doc.Nodes[i].ID == "n-cmd" {
				doc.Nodes[i].X, doc.Nodes[i].Y = 700, 50
				doc.Nodes[i].FX, doc.Nodes[i].FY = floatp(700), floatp(50)
				doc.Nodes[i].Pinned = true
			}
		}
		path := writeDocumentFile(t, doc)
		outPath := filepath.Join(t.TempDir(), "laid.json")

		_, err := executeCommand(t, nil, "layout", path, "-o", outPath)
		require.NoError(t, err)

		laid := readDocumentFile(t, outPath)
		cmd := nodeByID(t, laid, "n-cmd")
		assert.Equal(t, 700.0, cmd.X)
		assert.Equal(t, 50.0, cmd.Y)
		assert.True(t, cmd.Pinned)
		scr := nodeByID(t, laid, "n-scr")
		assert.Equal(t, 0.0, scr.X)
	})

	t.Run("should rewrite the document in place by default", func(t *testing.T) {
		path := writeDocumentFile(t, sampleDocument())

		_, err := executeCommand(t, nil, "layout", path)
		require.NoError(t, err)

		laid := readDocumentFile(t, path)
		assert.Equal(t, 0.0, nodeByID(t, laid, "n-scr").X)
		assert.Len(t, laid.EdgeRoutes, 2)
	})

	t.Run("should write to stdout on request", func(t *testing.T) {
		path := writeDocumentFile(t, sampleDocument())

		out, err := executeCommand(t, nil, "layout", path, "-o", "-")
		require.NoError(t, err)
		assert.Contains(t, out, `"version": 1`)

		laid, err := transfer.Decode(strings.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, 250.0, nodeByID(t, laid, "n-cmd").X)
	})
}

func TestImportExportCmd(t *testing.T) {
	t.Run("should round trip a document through the badger backend", func(t *testing.T) {
		cfgPath := badgerConfig(t)
		docPath := writeDocumentFile(t, sampleDocument())

		out, err := executeCommand(t, nil, "--config", cfgPath, "--model", "m-1", "import", docPath)
		require.NoError(t, err)
		assert.Contains(t, out, "imported 3 nodes, 2 links, 1 slices, 1 definitions")

		out, err = executeCommand(t, nil, "--config", cfgPath, "--model", "m-1", "export")
		require.NoError(t, err)

		exported, err := transfer.Decode(strings.NewReader(out))
		require.NoError(t, err)
		require.Len(t, exported.Nodes, 3)
		assert.Equal(t, "Place Order", nodeByID(t, exported, "n-cmd").Name)
		require.Len(t, exported.Slices, 1)
		assert.Equal(t, "Checkout", exported.Slices[0].Title)
		assert.Equal(t, "Shop", exported.Meta.Title)
	})

	t.Run("should keep models apart", func(t *testing.T) {
		cfgPath := badgerConfig(t)
		docPath := writeDocumentFile(t, sampleDocument())

		_, err := executeCommand(t, nil, "--config", cfgPath, "--model", "m-1", "import", docPath)
		require.NoError(t, err)

		out, err := executeCommand(t, nil, "--config", cfgPath, "--model", "m-2", "export")
		require.NoError(t, err)

		exported, err := transfer.Decode(strings.NewReader(out))
		require.NoError(t, err)
		assert.Empty(t, exported.Nodes)
	})

	t.Run("should refuse an inconsistent document", func(t *testing.T) {
		doc := sampleDocument()
		doc.Links = append(doc.Links, schemas.Link{ID: "l-bad", Source: "n-scr", Target: "n-ghost"})
		docPath := writeDocumentFile(t, doc)

		_, err := executeCommand(t, nil, "--store", "memory", "import", docPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid document")
	})
}

func TestRootCmd(t *testing.T) {
	t.Run("should reject an unknown store backend", func(t *testing.T) {
		cfgPath := createTempConfig(t, "store:\n  backend: bogus\n")

		_, err := executeCommand(t, nil, "--config", cfgPath, "export")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store.backend must be one of")
	})

	t.Run("should let the store flag override the config file", func(t *testing.T) {
		cfgPath := createTempConfig(t, "store:\n  backend: bogus\n")

		out, err := executeCommand(t, nil, "--config", cfgPath, "--store", "memory", "export")
		require.NoError(t, err)
		assert.Contains(t, out, `"version": 1`)
	})
}
