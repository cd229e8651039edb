package xevents

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnricher_Headers(t *testing.T) {
	routing := map[string]string{HeaderWebhookConfigURL: "https://hooks.example.com/crm", "empty": ""}
	e := NewEnricher(SystemIdentity{ApplicationID: "crm", DeploymentID: "eu-1"}, routing)

	out := e.Enrich(ResourcePayload{Trigger: TriggerCollectionUpdate, EntityName: "case"})

	assert.Equal(t, "crm", out.Application)
	assert.Equal(t, map[string]string{
		"application_id":   "crm",
		"deployment_id":    "eu-1",
		"webhookConfigUrl": "https://hooks.example.com/crm",
		"event_type":       "update",
		"entity":           "case",
	}, out.Headers)
}

func TestEnricher_DoesNotAliasConfiguration(t *testing.T) {
	routing := map[string]string{HeaderWebhookConfigURL: "https://a"}
	e := NewEnricher(SystemIdentity{ApplicationID: "crm"}, routing)
	routing[HeaderWebhookConfigURL] = "https://b"

	first := e.Enrich(ResourcePayload{Trigger: TriggerCreate, EntityName: "case"})
	first.Headers[HeaderWebhookConfigURL] = "mutated"
	second := e.Enrich(ResourcePayload{Trigger: TriggerCreate, EntityName: "case"})

	assert.Equal(t, "https://a", second.Headers[HeaderWebhookConfigURL])
}

func TestEnricher_Deterministic(t *testing.T) {
	e := NewEnricher(SystemIdentity{ApplicationID: "crm", DeploymentID: "d"}, nil)
	p := ResourcePayload{Trigger: TriggerDelete, EntityName: "refunds"}
	assert.Equal(t, e.Enrich(p), e.Enrich(p))
}
