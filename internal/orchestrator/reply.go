package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/maxamillion/rhails/internal/domain"
)

// confirmPrompt renders the question shown for a gated destructive request.
func confirmPrompt(req *domain.OperationRequest, confirmBy time.Time) string {
	window := time.Until(confirmBy).Round(time.Minute)
	return fmt.Sprintf("%s. This cannot be undone automatically. Reply within %s to confirm or cancel.",
		req.Description, window)
}

// batchReply renders the success message for an executed batch.
func batchReply(batch []*domain.OperationRequest, results []*domain.ExecutionResult) string {
	if len(batch) == 1 {
		return resultReply(batch[0], results[0])
	}

	lines := make([]string, len(batch))
	for i := range batch {
		lines[i] = resultReply(batch[i], results[i])
	}
	return strings.Join(lines, " ")
}

func resultReply(req *domain.OperationRequest, result *domain.ExecutionResult) string {
	if result.Status == domain.ExecutionPendingAsync {
		return fmt.Sprintf("%s has started. I'll have the outcome when you check operation %s.",
			req.Description, result.BackendOpID)
	}
	if result.Summary != "" {
		return result.Summary
	}

	name := req.Target.Name
	switch req.Target.Type {
	case domain.ResourceModelDeployment:
		switch req.Verb {
		case domain.VerbCreate:
			return fmt.Sprintf("Successfully deployed model '%s'. The model is now available.", name)
		case domain.VerbPatch:
			return fmt.Sprintf("Successfully scaled model '%s'.", name)
		case domain.VerbDelete:
			return fmt.Sprintf("Successfully deleted model '%s'.", name)
		case domain.VerbGet:
			return fmt.Sprintf("Model '%s' status retrieved.", name)
		case domain.VerbList:
			return "Here are your models."
		}
	case domain.ResourcePipeline:
		switch req.Verb {
		case domain.VerbCreate:
			return fmt.Sprintf("Successfully created pipeline '%s'. The pipeline is now configured.", name)
		case domain.VerbPatch:
			if req.Payload.Schedule != "" {
				return fmt.Sprintf("Successfully updated pipeline '%s' schedule to: %s", name, req.Payload.Schedule)
			}
			return fmt.Sprintf("Successfully updated pipeline '%s'.", name)
		case domain.VerbList:
			return "Here are your pipelines."
		}
	case domain.ResourceNotebook:
		switch req.Verb {
		case domain.VerbCreate:
			return fmt.Sprintf("Successfully created notebook '%s'. It will be ready shortly.", name)
		case domain.VerbPatch:
			return fmt.Sprintf("Notebook '%s' has been updated.", name)
		case domain.VerbDelete:
			return fmt.Sprintf("Successfully deleted notebook '%s'.", name)
		case domain.VerbList:
			return "Here are your notebooks."
		}
	case domain.ResourceProject:
		switch req.Verb {
		case domain.VerbCreate:
			return fmt.Sprintf("Successfully created project '%s'.", name)
		case domain.VerbPatch:
			if req.Payload.Username != "" {
				return fmt.Sprintf("Added user '%s' to project '%s'.", req.Payload.Username, name)
			}
			return fmt.Sprintf("Project '%s' has been updated.", name)
		case domain.VerbGet:
			return fmt.Sprintf("Resource usage for project '%s' retrieved.", name)
		case domain.VerbList:
			return "Here are your projects."
		}
	}
	return fmt.Sprintf("Done: %s.", req.Description)
}
