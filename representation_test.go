package xevents

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransformer() *Transformer {
	return NewTransformer(NewClassifier(), "https://api.example.com/")
}

func TestTransform_Create(t *testing.T) {
	tr := newTestTransformer()
	n := &note{ID: "1", Text: "hello", Tags: []string{"x"}}

	out, err := tr.Transform(ChangeMessage{Trigger: TriggerCreate, EntityName: "note", Data: RecordPair{New: n}})
	require.NoError(t, err)

	assert.Nil(t, out.Data.Old)
	require.NotNil(t, out.Data.New)
	v, ok := out.Data.New.Field("text")
	assert.True(t, ok)
	assert.Equal(t, "hello", v)

	self, ok := out.Data.New.Link("self")
	require.True(t, ok)
	assert.Equal(t, "https://api.example.com/note/1", self.Href)
	assert.Equal(t, TriggerCreate, out.Trigger)
	assert.Equal(t, "note", out.EntityName)
}

func TestTransform_DetachedFromRecord(t *testing.T) {
	tr := newTestTransformer()
	n := &note{ID: "1", Text: "hello", Tags: []string{"x"}}

	rep, err := tr.Represent(n)
	require.NoError(t, err)

	n.Text = "changed"
	n.Tags[0] = "changed"
	assert.Equal(t, "hello", rep.Fields()["text"])
	assert.Equal(t, []string{"x"}, rep.Fields()["tags"])
}

func TestTransform_CycleBecomesLinkStub(t *testing.T) {
	tr := newTestTransformer()
	parent := &note{ID: "p", Text: "parent"}
	child := &note{ID: "c", Text: "child", Parent: parent}
	parent.Children = []*note{child}

	rep, err := tr.Represent(parent)
	require.NoError(t, err)

	children := rep.Embedded("children")
	require.Len(t, children, 1)
	assert.Equal(t, "child", children[0].Fields()["text"])

	back := children[0].Embedded("parent")
	require.Len(t, back, 1)
	assert.Empty(t, back[0].Fields(), "revisited record is rendered as a stub")
	self, ok := back[0].Link("self")
	require.True(t, ok)
	assert.Equal(t, "https://api.example.com/note/p", self.Href)

	_, err = json.Marshal(rep)
	assert.NoError(t, err)
}

func TestTransform_SelfReference(t *testing.T) {
	tr := newTestTransformer()
	n := &note{ID: "1"}
	n.Children = []*note{n}

	rep, err := tr.Represent(n)
	require.NoError(t, err)
	require.Len(t, rep.Embedded("children"), 1)
	assert.Empty(t, rep.Embedded("children")[0].Fields())
}

func TestTransform_SharedRecordOnSiblingPathsIsExpanded(t *testing.T) {
	tr := newTestTransformer()
	shared := &note{ID: "s", Text: "shared"}
	root := &note{ID: "r", Children: []*note{{ID: "a", Children: []*note{shared}}, {ID: "b", Children: []*note{shared}}}}

	rep, err := tr.Represent(root)
	require.NoError(t, err)
	for _, branch := range rep.Embedded("children") {
		leaf := branch.Embedded("children")
		require.Len(t, leaf, 1)
		assert.Equal(t, "shared", leaf[0].Fields()["text"])
	}
}

func TestTransform_MaxDepth(t *testing.T) {
	tr := newTestTransformer().SetMaxDepth(3)

	_, err := tr.Represent(chain(4))
	require.NoError(t, err)

	_, err = tr.Represent(chain(5))
	require.ErrorIs(t, err, ErrGraphTooDeep)
	var re *RepresentationError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "note", re.EntityName)
}

func TestTransform_NoAssembler(t *testing.T) {
	tr := newTestTransformer()
	_, err := tr.Transform(ChangeMessage{Trigger: TriggerCreate, EntityName: "promotioncampaign", Data: RecordPair{New: &PromotionCampaign{}}})

	require.ErrorIs(t, err, ErrNoAssembler)
	var re *RepresentationError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "promotioncampaign", re.EntityName)
}

func TestTransform_RegisteredAssembler(t *testing.T) {
	tr := newTestTransformer().Register(&PromotionCampaign{}, AssemblerFunc(func(a *Assembly, r Record) (*Representation, error) {
		return a.Resource(r).Field("kind", a.EntityName()).Build(), nil
	}))

	rep, err := tr.Represent(&PromotionCampaign{})
	require.NoError(t, err)
	assert.Equal(t, "promotioncampaign", rep.Fields()["kind"])
}

func TestTransform_AssemblerFailures(t *testing.T) {
	tr := newTestTransformer()

	_, err := tr.Represent(&brokenAssembly{})
	var re *RepresentationError
	require.True(t, errors.As(err, &re))
	assert.Contains(t, re.Error(), "cannot assemble")

	_, err = tr.Represent(&brokenAssembly{panics: true})
	require.True(t, errors.As(err, &re))
	assert.Contains(t, re.Error(), "panic")

	tr.Register(&Refund{}, AssemblerFunc(func(*Assembly, Record) (*Representation, error) { return nil, nil }))
	_, err = tr.Represent(&Refund{})
	require.True(t, errors.As(err, &re))
}

func TestRepresentation_MarshalJSON(t *testing.T) {
	child := NewResource().Field("id", "c").Build()
	rep := NewResource().
		Field("id", "1").
		Field("_links", "ignored").
		Link("self", "https://x/note/1").
		Link("empty", "").
		Embed("children", child, nil).
		Build()

	data, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1","_links":{"self":{"href":"https://x/note/1"}},"_embedded":{"children":[{"id":"c"}]}}`, string(data))

	var nilRep *Representation
	data, err = json.Marshal(nilRep)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
	assert.Nil(t, nilRep.Fields())
}

func TestResourceBuilder_BuildDetaches(t *testing.T) {
	b := NewResource().Field("a", 1)
	first := b.Build()
	b.Field("b", 2)

	assert.Equal(t, map[string]any{"a": 1}, first.Fields())
	assert.Equal(t, map[string]any{"b": 2}, b.Build().Fields())
}
