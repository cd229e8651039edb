package xevents

// Header names attached to every dispatched message.
const (
	HeaderApplicationID    = "application_id"
	HeaderDeploymentID     = "deployment_id"
	HeaderWebhookConfigURL = "webhookConfigUrl"
	HeaderContentType      = "content_type"
	HeaderEventType        = "event_type"
	HeaderEntity           = "entity"
)

// SystemIdentity identifies the deployment that produced an event.
type SystemIdentity struct {
	ApplicationID string `yaml:"application_id"`
	DeploymentID  string `yaml:"deployment_id"`
}

// Enricher attaches identity and routing headers to a payload.
type Enricher struct {
	identity SystemIdentity
	routing  map[string]string
}

// NewEnricher copies routing so later changes to the caller's map are not observed.
func NewEnricher(identity SystemIdentity, routing map[string]string) *Enricher {
	e := &Enricher{identity: identity, routing: make(map[string]string, len(routing))}
	for k, v := range routing {
		if k != "" && v != "" {
			e.routing[k] = v
		}
	}
	return e
}

// Enrich is deterministic and cannot fail. Each call returns a fresh header map.
func (e *Enricher) Enrich(p ResourcePayload) EnrichedMessage {
	headers := make(map[string]string, len(e.routing)+4)
	for k, v := range e.routing {
		headers[k] = v
	}
	headers[HeaderApplicationID] = e.identity.ApplicationID
	headers[HeaderDeploymentID] = e.identity.DeploymentID
	headers[HeaderEventType] = p.Trigger.WireName()
	headers[HeaderEntity] = p.EntityName
	return EnrichedMessage{
		Payload:     p,
		Application: e.identity.ApplicationID,
		Headers:     headers,
	}
}
