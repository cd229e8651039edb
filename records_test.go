package xevents

import (
	"errors"
	"fmt"
)

// note is a self-assembling test record with a parent/children graph.
type note struct {
	ID       string
	Text     string
	Tags     []string
	Parent   *note
	Children []*note
}

func (n *note) RecordID() string { return n.ID }

func (n *note) CloneRecord() Record {
	cp := *n
	cp.Tags = append([]string(nil), n.Tags...)
	cp.Children = append([]*note(nil), n.Children...)
	return &cp
}

func (n *note) ApplyPrior(prior Delta) error {
	for k, v := range prior {
		switch k {
		case "text":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("text: unexpected %T", v)
			}
			n.Text = s
		case "tags":
			tags, ok := v.([]string)
			if !ok {
				return fmt.Errorf("tags: unexpected %T", v)
			}
			n.Tags = append([]string(nil), tags...)
		default:
			return fmt.Errorf("unknown field %q", k)
		}
	}
	return nil
}

func (n *note) AssembleResource(a *Assembly) (*Representation, error) {
	b := a.Resource(n).
		Field("id", n.ID).
		Field("text", n.Text).
		Field("tags", append([]string(nil), n.Tags...))
	if n.Parent != nil {
		rep, err := a.Embed(n.Parent)
		if err != nil {
			return nil, err
		}
		b.Embed("parent", rep)
	}
	for _, c := range n.Children {
		rep, err := a.Embed(c)
		if err != nil {
			return nil, err
		}
		b.Embed("children", rep)
	}
	return b.Build(), nil
}

// plain has no assembly rules of its own.
type plain struct{ ID string }

func (p *plain) CloneRecord() Record          { cp := *p; return &cp }
func (p *plain) ApplyPrior(prior Delta) error { return nil }

type PromotionCampaign struct{ plain }

type Refund struct{ plain }

type ticket struct{ plain }

func (*ticket) ResourceName() string { return "tickets" }

// aliasing returns itself from CloneRecord.
type aliasing struct{ plain }

func (a *aliasing) CloneRecord() Record { return a }

// nilClone returns a nil record from CloneRecord.
type nilClone struct{ plain }

func (*nilClone) CloneRecord() Record { return nil }

// brokenAssembly always fails, or panics when asked to.
type brokenAssembly struct {
	plain
	panics bool
}

func (b *brokenAssembly) AssembleResource(*Assembly) (*Representation, error) {
	if b.panics {
		panic("boom")
	}
	return nil, errors.New("cannot assemble")
}

// chain builds a parent->child list of n notes and returns the head.
func chain(n int) *note {
	head := &note{ID: "0"}
	cur := head
	for i := 1; i < n; i++ {
		next := &note{ID: fmt.Sprint(i)}
		cur.Children = []*note{next}
		cur = next
	}
	return head
}
