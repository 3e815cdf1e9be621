package domain

import (
	"time"
)

// ActionKind is the closed enumeration of user intent actions. The compiler
// maps every kind to a fixed verb template; an unrecognized kind is a
// construction error, never a silent no-op.
type ActionKind string

const (
	// Query actions.
	ActionListModels          ActionKind = "list_models"
	ActionGetStatus           ActionKind = "get_status"
	ActionListNotebooks       ActionKind = "list_notebooks"
	ActionListPipelines       ActionKind = "list_pipelines"
	ActionListProjects        ActionKind = "list_projects"
	ActionGetProjectResources ActionKind = "get_project_resources"

	// Create actions.
	ActionDeployModel    ActionKind = "deploy_model"
	ActionCreatePipeline ActionKind = "create_pipeline"
	ActionCreateNotebook ActionKind = "create_notebook"
	ActionCreateProject  ActionKind = "create_project"

	// Update actions.
	ActionScaleModel     ActionKind = "scale_model"
	ActionUpdatePipeline ActionKind = "update_pipeline"
	ActionStartNotebook  ActionKind = "start_notebook"
	ActionAddUser        ActionKind = "add_user_to_project"

	// Delete/stop actions.
	ActionDeleteModel    ActionKind = "delete_model"
	ActionStopNotebook   ActionKind = "stop_notebook"
	ActionDeleteNotebook ActionKind = "delete_notebook"
)

// Params is the typed parameter bag extracted from a user turn. Only the
// fields relevant to the action kind are populated.
type Params struct {
	Namespace    string `json:"namespace,omitempty"`
	Replicas     *int   `json:"replicas,omitempty"`
	Memory       string `json:"memory,omitempty"`
	CPU          string `json:"cpu,omitempty"`
	GPU          *int   `json:"gpu,omitempty"`
	Image        string `json:"image,omitempty"`
	StorageURI   string `json:"storage_uri,omitempty"`
	Schedule     string `json:"schedule,omitempty"`
	Username     string `json:"username,omitempty"`
	Role         string `json:"role,omitempty"`
	TimeRange    string `json:"time_range,omitempty"`
	PipelineName string `json:"pipeline_name,omitempty"`
}

// Intent is the structured, confidence-scored interpretation of one user
// turn. Intents are produced once and never mutated.
type Intent struct {
	IntentID    string     `json:"intent_id"`
	SessionID   string     `json:"session_id"`
	TurnID      string     `json:"turn_id"`
	Kind        ActionKind `json:"kind"`
	RawTargets  []string   `json:"raw_targets,omitempty"`
	Params      Params     `json:"params"`
	Confidence  float64    `json:"confidence"`
	Ambiguities []string   `json:"ambiguities,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
