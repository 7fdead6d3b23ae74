package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"feedport/internal/parser"
	"feedport/internal/record"
)

const markupFeed = `<?xml version="1.0"?>
<catalog>
  <product id="1">
    <sku>P1</sku>
    <name>Widget</name>
    <price currency="EUR">9.99</price>
    <images>
      <image>http://example.com/a.jpg</image>
      <image>http://example.com/b.jpg</image>
    </images>
  </product>
  <product id="2">
    <sku>P2</sku>
    <name>Gadget</name>
    <price currency="EUR">19.99</price>
    <brand>Acme</brand>
  </product>
</catalog>`

func TestHierarchical_ParseStructure(t *testing.T) {
	path := writeFeed(t, "feed.xml", markupFeed)
	h := parser.NewHierarchical(path, "product")

	st, err := h.ParseStructure(1, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, st.TotalRecords)
	assert.Equal(t, 1, st.TotalPages)
	require.Len(t, st.Records, 2)

	rec := st.Records[0]
	assert.Equal(t, "P1", rec.GetString("sku"))
	assert.Equal(t, "9.99", rec.GetString("price"))
	assert.Equal(t, "EUR", rec.GetString("price.@currency"))
	assert.Equal(t, "http://example.com/a.jpg", rec.GetString("images.image[0]"))
	assert.Equal(t, "http://example.com/b.jpg", rec.GetString("images.image[1]"))

	// Containers are catalogued so a mapping can target the sub-tree.
	var kinds = map[string]record.FieldKind{}
	for _, f := range st.Catalogue.Fields() {
		kinds[f.Path] = f.Kind
	}
	assert.Equal(t, record.KindObject, kinds["images"])
	assert.Equal(t, record.KindArray, kinds["images.image"])
	assert.Equal(t, record.KindText, kinds["sku"])
	// The brand field only appears on the second record but is catalogued.
	assert.Equal(t, record.KindText, kinds["brand"])
}

func TestHierarchical_CatalogueMergesAcrossPages(t *testing.T) {
	path := writeFeed(t, "feed.xml", markupFeed)
	h := parser.NewHierarchical(path, "product")

	st1, err := h.ParseStructure(1, 1)
	require.NoError(t, err)
	assert.False(t, st1.Catalogue.Has("brand"))

	st2, err := h.ParseStructure(2, 1)
	require.NoError(t, err)
	// Page two reveals brand; page one's fields are still present.
	assert.True(t, st2.Catalogue.Has("brand"))
	assert.True(t, st2.Catalogue.Has("images.image"))
	assert.Equal(t, 2, st2.TotalPages)
}

func TestHierarchical_ExtractRecords(t *testing.T) {
	path := writeFeed(t, "feed.xml", markupFeed)
	h := parser.NewHierarchical(path, "product")

	recs, err := h.ExtractRecords(1, 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "P2", recs[0].GetString("sku"))
	assert.Equal(t, "Acme", recs[0].GetString("brand"))
}

func TestHierarchical_CountRecords(t *testing.T) {
	path := writeFeed(t, "feed.xml", markupFeed)
	h := parser.NewHierarchical(path, "product")

	count, err := h.CountRecords()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestHierarchical_MissingWrapper(t *testing.T) {
	path := writeFeed(t, "feed.xml", `<catalog><item><sku>P1</sku></item></catalog>`)
	h := parser.NewHierarchical(path, "product")

	_, err := h.ParseStructure(1, 10)
	assert.ErrorIs(t, err, parser.ErrNoWrapper)
}

func TestHierarchical_ExtractGroupedVariations(t *testing.T) {
	feed := `<catalog>
  <product>
    <sku>P1</sku>
    <variations>
      <variation><sku>P1-RED</sku><color>red</color></variation>
      <variation><sku>P1-BLUE</sku><color>blue</color></variation>
    </variations>
  </product>
</catalog>`
	path := writeFeed(t, "feed.xml", feed)
	h := parser.NewHierarchical(path, "product")

	recs, err := h.ExtractGrouped("variations", 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Len(t, recs[0].Variants, 2)
	assert.Equal(t, "P1-RED", recs[0].Variants[0].GetString("sku"))
	assert.Equal(t, "blue", recs[0].Variants[1].GetString("color"))
}
