package schema_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itoxiq/triplit/schema"
)

// fakeStore is a minimal in-memory schema.DataStore for exercising the
// data-safety checker without a real triple store.
type fakeStore struct {
	// values[collection][entityID][path-joined-by-.] = value
	values map[string]map[string]map[string]interface{}
	// sets[collection][entityID][path-joined-by-.] = current members
	sets map[string]map[string]map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		values: make(map[string]map[string]map[string]interface{}),
		sets:   make(map[string]map[string]map[string][]string),
	}
}

func (f *fakeStore) put(collection, entityID string, path []string, value interface{}) {
	if f.values[collection] == nil {
		f.values[collection] = make(map[string]map[string]interface{})
	}
	if f.values[collection][entityID] == nil {
		f.values[collection][entityID] = make(map[string]interface{})
	}
	f.values[collection][entityID][strings.Join(path, ".")] = value
}

func (f *fakeStore) EntityIDs(collection string) ([]string, error) {
	var ids []string
	for id := range f.values[collection] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) ValueAt(collection, entityID string, path []string) (interface{}, bool, error) {
	m, ok := f.values[collection][entityID]
	if !ok {
		return nil, false, nil
	}
	v, ok := m[strings.Join(path, ".")]
	return v, ok, nil
}

func (f *fakeStore) SetMembersAt(collection, entityID string, path []string) ([]string, error) {
	return f.sets[collection][entityID][strings.Join(path, ".")], nil
}

func oneAttrSchema(attr *schema.AttributeDescriptor) *schema.Schema {
	return schema.Build(1, map[string]*schema.CollectionDef{
		"things": schema.Collection(schema.AttributeMap{"status": attr}),
	}, nil)
}

func TestEnumNarrowingEmptyDBIsSafe(t *testing.T) {
	store := newFakeStore()
	old := oneAttrSchema(schema.String())
	newSchema := oneAttrSchema(schema.String(schema.WithEnum("a", "b", "c")))

	diffs := schema.DiffSchemas(old, newSchema)
	edits := schema.GetBackwardsIncompatibleEdits(diffs)
	require.Len(t, edits, 1)

	issues, err := schema.GetSchemaDiffIssues(store, edits)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.False(t, issues[0].ViolatesExistingData, "expected no violation on an empty database")
}

func TestEnumNarrowingViolatesWhenDataOutsideEnum(t *testing.T) {
	store := newFakeStore()
	store.put("things", "e1", []string{"status"}, "e")

	old := oneAttrSchema(schema.String())
	newSchema := oneAttrSchema(schema.String(schema.WithEnum("a", "b", "c")))

	diffs := schema.DiffSchemas(old, newSchema)
	edits := schema.GetBackwardsIncompatibleEdits(diffs)

	issues, err := schema.GetSchemaDiffIssues(store, edits)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.True(t, issues[0].ViolatesExistingData, "expected a violation when data is outside the enum")

	// Updating the entity back into the enum clears the violation.
	store.put("things", "e1", []string{"status"}, "a")
	issues, err = schema.GetSchemaDiffIssues(store, edits)
	require.NoError(t, err)
	assert.False(t, issues[0].ViolatesExistingData, "expected no violation once the value satisfies the new enum")
}

func TestEmptyCollectionNeverViolates(t *testing.T) {
	store := newFakeStore()
	old := oneAttrSchema(schema.String())
	newSchema := oneAttrSchema(schema.Number())

	diffs := schema.DiffSchemas(old, newSchema)
	edits := schema.GetBackwardsIncompatibleEdits(diffs)

	issues, err := schema.GetSchemaDiffIssues(store, edits)
	require.NoError(t, err)
	for _, issue := range issues {
		assert.False(t, issue.ViolatesExistingData, "expected no violations against an empty collection")
	}
}
