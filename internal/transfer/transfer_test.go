package transfer_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/weavrhq/weavr/api/schemas"
	"github.com/weavrhq/weavr/internal/config"
	"github.com/weavrhq/weavr/internal/graphsync"
	"github.com/weavrhq/weavr/internal/store"
	"github.com/weavrhq/weavr/internal/transfer"
)

func sampleDocument() transfer.Document {
	return transfer.FromModel(schemas.Model{
		Nodes: []schemas.Node{
			{ID: "n-scr", Type: schemas.NodeScreen, Name: "Cart", X: 0, Y: 100, SliceID: "s-1"},
			{ID: "n-cmd", Type: schemas.NodeCommand, Name: "Checkout", X: 250, Y: 100, SliceID: "s-1"},
		},
		Links:  []schemas.Link{{ID: "l-1", Source: "n-scr", Target: "n-cmd", Type: schemas.LinkFlow}},
		Slices: []schemas.Slice{{ID: "s-1", Title: "Checkout", Order: 0}},
		Definitions: []schemas.DataDefinition{
			{ID: "d-1", Name: "Order", Type: schemas.DefinitionEntity},
		},
		EdgeRoutes: map[string][]float64{"l-1": {200, 160, 250, 160}},
		Meta:       schemas.Meta{Title: "Shop"},
	})
}

func TestDocumentRoundTrip(t *testing.T) {
	doc := sampleDocument()

	var buf bytes.Buffer
	require.NoError(t, transfer.Encode(&buf, doc))
	assert.Contains(t, buf.String(), `"version": 1`)

	got, err := transfer.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestDecode(t *testing.T) {
	t.Run("should treat a missing version as one", func(t *testing.T) {
		doc, err := transfer.Decode(strings.NewReader(`{"nodes":[],"links":[],"slices":[],"definitions":[],"meta":{"title":"x"}}`))
		require.NoError(t, err)
		assert.Equal(t, 1, doc.Version)
		assert.Equal(t, "x", doc.Meta.Title)
	})

	t.Run("should reject a newer version", func(t *testing.T) {
		_, err := transfer.Decode(strings.NewReader(`{"version":99}`))
		require.Error(t, err)
	})

	t.Run("should reject junk", func(t *testing.T) {
		_, err := transfer.Decode(strings.NewReader(`{"nodes": "nope"`))
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("should accept a consistent document", func(t *testing.T) {
		require.NoError(t, transfer.Validate(sampleDocument()))
	})

	cases := []struct {
		name   string
		mutate func(*transfer.Document)
	}{
		{"duplicate node id", func(d *transfer.Document) {
			d.Nodes = append(d.Nodes, schemas.Node{ID: "n-scr", Type: schemas.NodeScreen, Name: "Again"})
		}},
		{"dangling link endpoint", func(d *transfer.Document) {
			d.Links = append(d.Links, schemas.Link{ID: "l-2", Source: "n-scr", Target: "ghost"})
		}},
		{"dangling slice reference", func(d *transfer.Document) {
			d.Nodes[0].SliceID = "ghost"
		}},
		{"node without id", func(d *transfer.Document) {
			d.Nodes = append(d.Nodes, schemas.Node{Type: schemas.NodeScreen, Name: "Anon"})
		}},
		{"duplicate link id", func(d *transfer.Document) {
			d.Links = append(d.Links, schemas.Link{ID: "l-1", Source: "n-scr", Target: "n-cmd"})
		}},
		{"duplicate definition id", func(d *transfer.Document) {
			d.Definitions = append(d.Definitions, schemas.DataDefinition{ID: "d-1", Name: "Copy", Type: schemas.DefinitionEnum})
		}},
	}
	for _, tc := range cases {
		t.Run("should reject a "+tc.name, func(t *testing.T) {
			doc := sampleDocument()
			tc.mutate(&doc)
			require.Error(t, transfer.Validate(doc))
		})
	}
}

func TestImportExport(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	defer mem.Close()

	cfg := config.NewDefaultConfig()
	cfg.Sync.PublishDebounce = 10 * time.Millisecond
	cfg.Sync.EchoWindow = 200 * time.Millisecond
	cfg.Sync.LayoutDebounce = time.Hour
	e, err := graphsync.Open(ctx, mem, "m1", cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer e.Close()

	var buf bytes.Buffer
	require.NoError(t, transfer.Encode(&buf, sampleDocument()))
	doc, err := transfer.Import(ctx, e, &buf)
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 2)

	got, ok := e.Node("n-cmd")
	require.True(t, ok)
	assert.Equal(t, "Checkout", got.Name)
	assert.Equal(t, "Shop", e.Meta().Title)

	var out bytes.Buffer
	require.NoError(t, transfer.Export(&out, e))
	again, err := transfer.Decode(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, doc, again, "export reproduces the imported document")

	t.Run("should refuse an inconsistent document", func(t *testing.T) {
		bad := sampleDocument()
		bad.Links[0].Target = "ghost"
		var b bytes.Buffer
		require.NoError(t, transfer.Encode(&b, bad))
		_, err := transfer.Import(ctx, e, &b)
		require.Error(t, err)
		// The engine still holds the previous import.
		assert.Len(t, e.Nodes(), 2)
	})
}
