package xevents

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

const (
	linksKey    = "_links"
	embeddedKey = "_embedded"
	selfRel     = "self"

	// DefaultMaxDepth bounds how deep embedded resources may nest.
	DefaultMaxDepth = 8
)

// Link is a HAL hyperlink.
type Link struct {
	Href string `json:"href"`
}

// Representation is a self-describing resource graph (fields + hyperlinks),
// detached from the live record it was assembled from. It is immutable once built.
type Representation struct {
	fields   map[string]any
	links    map[string]Link
	embedded map[string][]*Representation
}

// Field returns a single field value.
func (r *Representation) Field(name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.fields[name]
	return v, ok
}

// Fields returns a copy of the field map.
func (r *Representation) Fields() map[string]any {
	if r == nil {
		return nil
	}
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// Link returns the link registered under rel.
func (r *Representation) Link(rel string) (Link, bool) {
	if r == nil {
		return Link{}, false
	}
	l, ok := r.links[rel]
	return l, ok
}

// Embedded returns the resources embedded under rel.
func (r *Representation) Embedded(rel string) []*Representation {
	if r == nil {
		return nil
	}
	return append([]*Representation(nil), r.embedded[rel]...)
}

// MarshalJSON renders the resource as HAL: fields at top level, then _links and _embedded.
func (r *Representation) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	doc := make(map[string]any, len(r.fields)+2)
	for k, v := range r.fields {
		doc[k] = v
	}
	if len(r.links) > 0 {
		doc[linksKey] = r.links
	}
	if len(r.embedded) > 0 {
		doc[embeddedKey] = r.embedded
	}
	return json.Marshal(doc)
}

// ResourceBuilder assembles a Representation. Build detaches the result, so the
// builder cannot mutate it afterwards.
type ResourceBuilder struct {
	r *Representation
}

func NewResource() *ResourceBuilder {
	return &ResourceBuilder{r: &Representation{
		fields:   map[string]any{},
		links:    map[string]Link{},
		embedded: map[string][]*Representation{},
	}}
}

func (b *ResourceBuilder) Field(name string, v any) *ResourceBuilder {
	if name == linksKey || name == embeddedKey {
		return b
	}
	b.r.fields[name] = v
	return b
}

func (b *ResourceBuilder) Link(rel, href string) *ResourceBuilder {
	if rel != "" && href != "" {
		b.r.links[rel] = Link{Href: href}
	}
	return b
}

// Embed appends resources under rel. Nil entries are skipped.
func (b *ResourceBuilder) Embed(rel string, reps ...*Representation) *ResourceBuilder {
	for _, rep := range reps {
		if rep != nil {
			b.r.embedded[rel] = append(b.r.embedded[rel], rep)
		}
	}
	return b
}

func (b *ResourceBuilder) Build() *Representation {
	r := b.r
	b.r = &Representation{fields: map[string]any{}, links: map[string]Link{}, embedded: map[string][]*Representation{}}
	return r
}

// Identifier exposes a record's stable id, used for self links and cycle stubs.
type Identifier interface {
	RecordID() string
}

// Assembler converts a record to its Representation.
type Assembler interface {
	Assemble(a *Assembly, r Record) (*Representation, error)
}

// AssemblerFunc is an Adapter that lets a plain function satisfy Assembler.
type AssemblerFunc func(a *Assembly, r Record) (*Representation, error)

func (f AssemblerFunc) Assemble(a *Assembly, r Record) (*Representation, error) { return f(a, r) }

// SelfAssembler is implemented by records that carry their own assembly rules.
type SelfAssembler interface {
	AssembleResource(a *Assembly) (*Representation, error)
}

// Assembly is the per-record assembly context. It tracks the records on the
// current path so self-referential graphs terminate.
type Assembly struct {
	t      *Transformer
	entity string
	path   map[uintptr]struct{}
	depth  int
}

// EntityName is the logical name of the record being assembled.
func (a *Assembly) EntityName() string { return a.entity }

// Classify returns the logical entity name of a related record.
func (a *Assembly) Classify(r Record) string { return a.t.classifier.Classify(r) }

// Href builds the item URL for a record of the given entity.
func (a *Assembly) Href(entity, id string) string {
	if id == "" {
		return ""
	}
	return a.t.baseURL + "/" + entity + "/" + id
}

// Resource returns a builder pre-populated with r's self link when r is an Identifier.
func (a *Assembly) Resource(r Record) *ResourceBuilder {
	b := NewResource()
	if id, ok := r.(Identifier); ok {
		b.Link(selfRel, a.Href(a.t.classifier.Classify(r), id.RecordID()))
	}
	return b
}

// Embed assembles a related record. A record already on the current path is
// rendered as a link-only stub instead of being expanded again.
func (a *Assembly) Embed(r Record) (*Representation, error) {
	if r == nil || isNilRecord(r) {
		return nil, nil
	}
	ref := recordRef(r)
	if ref != 0 {
		if _, seen := a.path[ref]; seen {
			return a.Resource(r).Build(), nil
		}
	}
	if a.depth+1 > a.t.maxDepth {
		return nil, &RepresentationError{EntityName: a.t.classifier.Classify(r), Record: r, Err: ErrGraphTooDeep}
	}
	child := &Assembly{t: a.t, entity: a.t.classifier.Classify(r), path: a.path, depth: a.depth + 1}
	return a.t.assemble(child, r)
}

// Transformer converts the before/after records of a ChangeMessage into Representations.
// Register assemblers before the pipeline is built; afterwards it is read-only.
type Transformer struct {
	classifier *Classifier
	baseURL    string
	maxDepth   int
	assemblers map[reflect.Type]Assembler
}

func NewTransformer(classifier *Classifier, baseURL string) *Transformer {
	if classifier == nil {
		classifier = NewClassifier()
	}
	return &Transformer{
		classifier: classifier,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxDepth:   DefaultMaxDepth,
		assemblers: make(map[reflect.Type]Assembler),
	}
}

// Register sets the assembler used for sample's runtime type.
func (t *Transformer) Register(sample Record, asm Assembler) *Transformer {
	if sample == nil || asm == nil {
		return t
	}
	t.assemblers[reflect.TypeOf(sample)] = asm
	return t
}

func (t *Transformer) SetMaxDepth(n int) *Transformer {
	if n > 0 {
		t.maxDepth = n
	}
	return t
}

// Transform converts each non-nil side of msg; nil sides stay nil.
func (t *Transformer) Transform(msg ChangeMessage) (ResourcePayload, error) {
	out := ResourcePayload{Trigger: msg.Trigger, EntityName: msg.EntityName}
	var err error
	if out.Data.Old, err = t.represent(msg.EntityName, msg.Data.Old); err != nil {
		return ResourcePayload{}, err
	}
	if out.Data.New, err = t.represent(msg.EntityName, msg.Data.New); err != nil {
		return ResourcePayload{}, err
	}
	return out, nil
}

// Represent assembles a single record outside of a ChangeMessage.
func (t *Transformer) Represent(r Record) (*Representation, error) {
	return t.represent(t.classifier.Classify(r), r)
}

func (t *Transformer) represent(entity string, r Record) (*Representation, error) {
	if r == nil || isNilRecord(r) {
		return nil, nil
	}
	a := &Assembly{t: t, entity: entity, path: make(map[uintptr]struct{})}
	return t.assemble(a, r)
}

func (t *Transformer) assemble(a *Assembly, r Record) (rep *Representation, err error) {
	if ref := recordRef(r); ref != 0 {
		a.path[ref] = struct{}{}
		defer delete(a.path, ref)
	}
	defer func() {
		if p := recover(); p != nil {
			rep, err = nil, &RepresentationError{EntityName: a.entity, Record: r, Err: fmt.Errorf("assembler panic: %v", p)}
		}
	}()

	switch {
	case t.assemblers[reflect.TypeOf(r)] != nil:
		rep, err = t.assemblers[reflect.TypeOf(r)].Assemble(a, r)
	default:
		sa, ok := r.(SelfAssembler)
		if !ok {
			return nil, &RepresentationError{EntityName: a.entity, Record: r, Err: ErrNoAssembler}
		}
		rep, err = sa.AssembleResource(a)
	}
	if err != nil {
		var re *RepresentationError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, &RepresentationError{EntityName: a.entity, Record: r, Err: err}
	}
	if rep == nil {
		return nil, &RepresentationError{EntityName: a.entity, Record: r, Err: errors.New("assembler returned nil")}
	}
	return rep, nil
}

func isNilRecord(r Record) bool {
	v := reflect.ValueOf(r)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}
