package xevents

import (
	"reflect"
	"strings"
)

// Classifier maps a record's runtime type to the logical entity name consumers see.
// Configure it before the pipeline is built; afterwards it is only read and is
// safe for concurrent use.
type Classifier struct {
	byType map[reflect.Type]string
	byName map[string]string
}

func NewClassifier() *Classifier {
	return &Classifier{
		byType: make(map[reflect.Type]string),
		byName: make(map[string]string),
	}
}

// Alias declares name as the logical name of sample's runtime type.
func (c *Classifier) Alias(sample Record, name string) *Classifier {
	if sample == nil {
		return c
	}
	return c.AliasType(reflect.TypeOf(sample), name)
}

func (c *Classifier) AliasType(t reflect.Type, name string) *Classifier {
	name = strings.TrimSpace(name)
	if t == nil || name == "" {
		return c
	}
	c.byType[t] = name
	if t.Kind() == reflect.Pointer {
		c.byType[t.Elem()] = name
	}
	return c
}

// AliasTypeName declares an alias by short type name, as found in configuration.
// Matching is case-insensitive.
func (c *Classifier) AliasTypeName(typeName, name string) *Classifier {
	typeName = strings.ToLower(strings.TrimSpace(typeName))
	name = strings.TrimSpace(name)
	if typeName == "" || name == "" {
		return c
	}
	c.byName[typeName] = name
	return c
}

// Classify never fails: the fallback is the lower-cased short type name.
func (c *Classifier) Classify(r Record) string {
	if r == nil {
		return ""
	}
	t := reflect.TypeOf(r)
	if c != nil {
		if name, ok := c.byType[t]; ok {
			return name
		}
	}
	if rn, ok := r.(ResourceNamer); ok {
		if name := strings.TrimSpace(rn.ResourceName()); name != "" {
			return name
		}
	}
	short := strings.ToLower(shortTypeName(t))
	if c != nil {
		if name, ok := c.byName[short]; ok {
			return name
		}
	}
	return short
}

func shortTypeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
