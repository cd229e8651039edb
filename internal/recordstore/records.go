package recordstore

import (
	"fmt"

	"github.com/trickstertwo/xevents"
)

// Case is a customer case with its refunds and an optional campaign.
type Case struct {
	ID       string
	Title    string
	Status   string
	Priority int
	Refunds  []*Refund
	Campaign *PromotionCampaign
}

func (c *Case) RecordID() string      { return c.ID }
func (c *Case) SetRecordID(id string) { c.ID = id }

func (c *Case) Fields() map[string]any {
	return map[string]any{"title": c.Title, "status": c.Status, "priority": c.Priority}
}

func (c *Case) CloneRecord() xevents.Record {
	cp := *c
	if c.Refunds != nil {
		cp.Refunds = append([]*Refund(nil), c.Refunds...)
	}
	return &cp
}

func (c *Case) ApplyPrior(prior xevents.Delta) error {
	for name, v := range prior {
		var ok bool
		switch name {
		case "title":
			c.Title, ok = v.(string)
		case "status":
			c.Status, ok = v.(string)
		case "priority":
			c.Priority, ok = v.(int)
		default:
			return fmt.Errorf("case: unknown field %q", name)
		}
		if !ok {
			return fmt.Errorf("case: field %q: unexpected %T", name, v)
		}
	}
	return nil
}

// AddRefund links r to the case in both directions.
func (c *Case) AddRefund(r *Refund) {
	r.Case = c
	c.Refunds = append(c.Refunds, r)
}

func (c *Case) AssembleResource(a *xevents.Assembly) (*xevents.Representation, error) {
	b := a.Resource(c).
		Field("id", c.ID).
		Field("title", c.Title).
		Field("status", c.Status).
		Field("priority", c.Priority)

	refunds := make([]*xevents.Representation, 0, len(c.Refunds))
	for _, r := range c.Refunds {
		rep, err := a.Embed(r)
		if err != nil {
			return nil, err
		}
		if rep != nil {
			refunds = append(refunds, rep)
		}
	}
	if len(refunds) > 0 {
		b.Embed("refunds", refunds...)
	}
	if c.Campaign != nil {
		b.Link("campaign", a.Href(a.Classify(c.Campaign), c.Campaign.ID))
	}
	return b.Build(), nil
}

// Refund belongs to a Case. Its logical name is declared by the mapping.
type Refund struct {
	ID     string
	Amount float64
	Reason string
	Case   *Case
}

func (r *Refund) ResourceName() string  { return "refunds" }
func (r *Refund) RecordID() string      { return r.ID }
func (r *Refund) SetRecordID(id string) { r.ID = id }

func (r *Refund) Fields() map[string]any {
	return map[string]any{"amount": r.Amount, "reason": r.Reason}
}

func (r *Refund) CloneRecord() xevents.Record {
	cp := *r
	return &cp
}

func (r *Refund) ApplyPrior(prior xevents.Delta) error {
	for name, v := range prior {
		var ok bool
		switch name {
		case "amount":
			r.Amount, ok = v.(float64)
		case "reason":
			r.Reason, ok = v.(string)
		default:
			return fmt.Errorf("refund: unknown field %q", name)
		}
		if !ok {
			return fmt.Errorf("refund: field %q: unexpected %T", name, v)
		}
	}
	return nil
}

func (r *Refund) AssembleResource(a *xevents.Assembly) (*xevents.Representation, error) {
	b := a.Resource(r).
		Field("id", r.ID).
		Field("amount", r.Amount).
		Field("reason", r.Reason)
	if r.Case != nil {
		rep, err := a.Embed(r.Case)
		if err != nil {
			return nil, err
		}
		b.Embed("case", rep)
	}
	return b.Build(), nil
}

// PromotionCampaign has no alias; it is known by its lower-cased type name.
type PromotionCampaign struct {
	ID     string
	Name   string
	Active bool
	Budget float64
}

func (p *PromotionCampaign) RecordID() string      { return p.ID }
func (p *PromotionCampaign) SetRecordID(id string) { p.ID = id }

func (p *PromotionCampaign) Fields() map[string]any {
	return map[string]any{"name": p.Name, "active": p.Active, "budget": p.Budget}
}

func (p *PromotionCampaign) CloneRecord() xevents.Record {
	cp := *p
	return &cp
}

func (p *PromotionCampaign) ApplyPrior(prior xevents.Delta) error {
	for name, v := range prior {
		var ok bool
		switch name {
		case "name":
			p.Name, ok = v.(string)
		case "active":
			p.Active, ok = v.(bool)
		case "budget":
			p.Budget, ok = v.(float64)
		default:
			return fmt.Errorf("campaign: unknown field %q", name)
		}
		if !ok {
			return fmt.Errorf("campaign: field %q: unexpected %T", name, v)
		}
	}
	return nil
}

func (p *PromotionCampaign) AssembleResource(a *xevents.Assembly) (*xevents.Representation, error) {
	return a.Resource(p).
		Field("id", p.ID).
		Field("name", p.Name).
		Field("active", p.Active).
		Field("budget", p.Budget).
		Build(), nil
}
