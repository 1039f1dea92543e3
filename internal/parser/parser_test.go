package parser

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/vidnotes/internal/apperr"
	"github.com/starford/vidnotes/internal/models"
)

func TestParseRecord_SkipsMalformedEntries(t *testing.T) {
	rec := map[string]json.RawMessage{
		models.NotesKey: json.RawMessage(`{
			"v1": [{"id":"a","timestamp":12.5,"text":"hi","createdAt":1,"updatedAt":2}, "junk", 7, null],
			"v2": "not an array",
			"v3": [{"timestamp":"30","text":5}]
		}`),
		models.MetadataKey: json.RawMessage(`{"v1":{"title":"T","noteCount":1,"updatedAt":99},"v2":[1,2]}`),
	}
	doc := ParseRecord(rec)

	require.Len(t, doc.Notes["v1"], 1)
	n := doc.Notes["v1"][0]
	require.NotNil(t, n.ID)
	assert.Equal(t, "a", *n.ID)
	assert.Equal(t, 12.5, *n.Timestamp)
	assert.Equal(t, "hi", n.Text)

	_, ok := doc.Notes["v2"]
	assert.False(t, ok, "non-array collection should be skipped")

	require.Len(t, doc.Notes["v3"], 1)
	assert.Equal(t, 30.0, *doc.Notes["v3"][0].Timestamp, "numeric strings coerce")
	assert.Equal(t, "", doc.Notes["v3"][0].Text, "non-string text reads as empty")
	assert.Nil(t, doc.Notes["v3"][0].ID)

	require.Contains(t, doc.Metadata, "v1")
	assert.NotContains(t, doc.Metadata, "v2")
	md := doc.Metadata["v1"].Metadata()
	assert.Equal(t, "T", md.Title)
	ts, ok := md.Freshness()
	assert.True(t, ok)
	assert.Equal(t, int64(99), ts)
}

func TestParseRecord_MissingRecords(t *testing.T) {
	doc := ParseRecord(nil)
	assert.Empty(t, doc.Notes)
	assert.Empty(t, doc.Metadata)

	doc = ParseRecord(map[string]json.RawMessage{models.NotesKey: json.RawMessage(`[1,2,3]`)})
	assert.Empty(t, doc.Notes)
}

func TestNumberField_NonFinite(t *testing.T) {
	fields := map[string]any{"a": "NaN", "b": "Infinity", "c": nil, "d": "", "e": "abc", "f": 3.0}
	assert.Nil(t, numberField(fields, "a"))
	assert.Nil(t, numberField(fields, "b"))
	assert.Nil(t, numberField(fields, "c"))
	assert.Nil(t, numberField(fields, "d"))
	assert.Nil(t, numberField(fields, "e"))
	assert.Nil(t, numberField(fields, "missing"))
	require.NotNil(t, numberField(fields, "f"))
}

func TestParseBackup_RootMustBeObject(t *testing.T) {
	for _, in := range []string{`[]`, `"x"`, `null`, `42`, `{not json`, ``} {
		_, err := ParseBackup([]byte(in))
		if !errors.Is(err, apperr.ErrInvalidBackupFormat) {
			t.Errorf("ParseBackup(%q) err = %v, want ErrInvalidBackupFormat", in, err)
		}
	}
}

func TestParseBackup_NonObjectFieldsAreEmpty(t *testing.T) {
	doc, err := ParseBackup([]byte(`{"notes":[1],"metadata":"x","exportedAt":"2024-01-01T00:00:00.000Z"}`))
	require.NoError(t, err)
	assert.Empty(t, doc.Notes)
	assert.Empty(t, doc.Metadata)
	assert.Equal(t, "2024-01-01T00:00:00.000Z", doc.ExportedAt)
}

func TestRawNote_Note(t *testing.T) {
	ts := 4.0
	created := 10.0
	n, ok := RawNote{Timestamp: &ts, CreatedAt: &created}.Note()
	require.True(t, ok)
	assert.Equal(t, int64(10), n.UpdatedAt, "updatedAt falls back to createdAt")

	n, ok = RawNote{Timestamp: &ts}.Note()
	require.True(t, ok)
	assert.Equal(t, int64(0), n.UpdatedAt)

	_, ok = RawNote{Text: "no timestamp"}.Note()
	assert.False(t, ok)
}
