package domain

// ResourceType enumerates the backend-managed resource kinds the engine
// knows how to operate on.
type ResourceType string

const (
	ResourceModelDeployment ResourceType = "model_deployment"
	ResourcePipeline        ResourceType = "pipeline"
	ResourceNotebook        ResourceType = "notebook"
	ResourceProject         ResourceType = "project"
)

// ResourceRef points at a backend-managed object. It carries no state of its
// own; current state lives in the resource cache as a TTL-bound snapshot.
type ResourceRef struct {
	Type      ResourceType `json:"type"`
	Namespace string       `json:"namespace"`
	Name      string       `json:"name"`
}

// Key returns the canonical cache/index key for the reference.
func (r ResourceRef) Key() string {
	return string(r.Type) + "/" + r.Namespace + "/" + r.Name
}

// String renders the reference for prompts and log lines.
func (r ResourceRef) String() string {
	if r.Namespace == "" {
		return string(r.Type) + " " + r.Name
	}
	return string(r.Type) + " " + r.Namespace + "/" + r.Name
}
