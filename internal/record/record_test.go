package record_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"feedport/internal/record"
)

func TestCatalogue_OrderPreserved(t *testing.T) {
	c := record.NewCatalogue()
	c.Add("sku", record.KindText, "P1")
	c.Add("name", record.KindText, "Widget")
	c.Add("price", record.KindText, "9.99")

	fields := c.Fields()
	assert.Len(t, fields, 3)
	assert.Equal(t, "sku", fields[0].Path)
	assert.Equal(t, "name", fields[1].Path)
	assert.Equal(t, "price", fields[2].Path)
}

func TestCatalogue_AddDuplicateKeepsPosition(t *testing.T) {
	c := record.NewCatalogue()
	c.Add("sku", record.KindText, "")
	c.Add("name", record.KindText, "Widget")
	c.Add("sku", record.KindText, "P1")

	fields := c.Fields()
	assert.Equal(t, "sku", fields[0].Path)
	// Empty example is backfilled by the later sighting.
	assert.Equal(t, "P1", fields[0].Example)
}

func TestCatalogue_MergeAccumulates(t *testing.T) {
	a := record.NewCatalogue()
	a.Add("sku", record.KindText, "P1")

	b := record.NewCatalogue()
	b.Add("sku", record.KindText, "P2")
	b.Add("color", record.KindText, "red")

	a.Merge(b)
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, "color", a.Fields()[1].Path)
	// First-seen example wins.
	assert.Equal(t, "P1", a.Fields()[0].Example)
}

func TestRecord_GetString(t *testing.T) {
	r := record.FromPairs("sku", "P1", "qty", 5, "nil", nil)

	assert.Equal(t, "P1", r.GetString("sku"))
	assert.Equal(t, "5", r.GetString("qty"))
	assert.Equal(t, "", r.GetString("nil"))
	assert.Equal(t, "", r.GetString("missing"))
}

func TestRecord_MarshalJSONKeepsOrder(t *testing.T) {
	r := record.FromPairs("z", "1", "a", "2", "m", "3")
	data, err := json.Marshal(r)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"z":"1","a":"2","m":"3"}`, string(data))
	// Ordered marshalling: z before a before m.
	assert.Equal(t, `{"z":"1","a":"2","m":"3"}`, string(data))
}

func TestRecord_MarshalJSONWithVariants(t *testing.T) {
	parent := record.FromPairs("sku", "P1")
	parent.Variants = []*record.Record{
		record.FromPairs("sku", "P1-RED"),
		record.FromPairs("sku", "P1-BLUE"),
	}

	data, err := json.Marshal(parent)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"sku":"P1","_variants":[{"sku":"P1-RED"},{"sku":"P1-BLUE"}]}`, string(data))
}
