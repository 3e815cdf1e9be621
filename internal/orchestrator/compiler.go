package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maxamillion/rhails/internal/cache"
	"github.com/maxamillion/rhails/internal/conversation"
	"github.com/maxamillion/rhails/internal/domain"
	"github.com/maxamillion/rhails/internal/interpret"
)

// actionSpec is the static mapping from an action kind to its backend
// operation shape. Every kind the parser can emit has exactly one entry.
type actionSpec struct {
	verb        domain.Verb
	resource    domain.ResourceType
	destructive bool
	needsName   bool
}

var actionTable = map[domain.ActionKind]actionSpec{
	domain.ActionListModels:          {verb: domain.VerbList, resource: domain.ResourceModelDeployment},
	domain.ActionGetStatus:           {verb: domain.VerbGet, resource: domain.ResourceModelDeployment, needsName: true},
	domain.ActionListNotebooks:       {verb: domain.VerbList, resource: domain.ResourceNotebook},
	domain.ActionListPipelines:       {verb: domain.VerbList, resource: domain.ResourcePipeline},
	domain.ActionListProjects:        {verb: domain.VerbList, resource: domain.ResourceProject},
	domain.ActionGetProjectResources: {verb: domain.VerbGet, resource: domain.ResourceProject, needsName: true},

	domain.ActionDeployModel:    {verb: domain.VerbCreate, resource: domain.ResourceModelDeployment, needsName: true},
	domain.ActionCreatePipeline: {verb: domain.VerbCreate, resource: domain.ResourcePipeline, needsName: true},
	domain.ActionCreateNotebook: {verb: domain.VerbCreate, resource: domain.ResourceNotebook},
	domain.ActionCreateProject:  {verb: domain.VerbCreate, resource: domain.ResourceProject, needsName: true},

	domain.ActionScaleModel:     {verb: domain.VerbPatch, resource: domain.ResourceModelDeployment, needsName: true},
	domain.ActionUpdatePipeline: {verb: domain.VerbPatch, resource: domain.ResourcePipeline, needsName: true},
	domain.ActionStartNotebook:  {verb: domain.VerbPatch, resource: domain.ResourceNotebook, needsName: true},
	domain.ActionAddUser:        {verb: domain.VerbPatch, resource: domain.ResourceProject, needsName: true},

	domain.ActionDeleteModel:    {verb: domain.VerbDelete, resource: domain.ResourceModelDeployment, destructive: true, needsName: true},
	domain.ActionStopNotebook:   {verb: domain.VerbPatch, resource: domain.ResourceNotebook, destructive: true, needsName: true},
	domain.ActionDeleteNotebook: {verb: domain.VerbDelete, resource: domain.ResourceNotebook, destructive: true, needsName: true},
}

// CompileOutcome is the result of compiling one intent. When Clarification
// is non-empty, nothing executes and the question goes back to the user.
type CompileOutcome struct {
	Requests      []*domain.OperationRequest
	Clarification string
}

// Compiler turns interpreted intents into fully-resolved operation requests.
type Compiler struct {
	threshold float64
	snapshots *cache.ResourceCache
	convo     *conversation.Manager
}

// NewCompiler creates an intent compiler.
func NewCompiler(threshold float64, snapshots *cache.ResourceCache, convo *conversation.Manager) *Compiler {
	return &Compiler{threshold: threshold, snapshots: snapshots, convo: convo}
}

// Compile resolves references, validates parameters, and emits the ordered
// operation request set for one intent. Low confidence, unresolved or
// ambiguous references, and missing parameters all surface as clarification
// questions rather than best guesses.
func (c *Compiler) Compile(ctx context.Context, intent *domain.Intent) (*CompileOutcome, error) {
	spec, ok := actionTable[intent.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, intent.Kind)
	}

	if len(intent.Ambiguities) > 0 {
		return &CompileOutcome{
			Clarification: clarifyNotedAmbiguities(intent),
		}, nil
	}

	if intent.Confidence < c.threshold {
		return &CompileOutcome{
			Clarification: clarifyLowConfidence(intent),
		}, nil
	}

	name := ""
	if len(intent.RawTargets) > 0 {
		name = intent.RawTargets[0]
	}

	if spec.needsName && name == "" {
		res := c.convo.ResolveReference(intent.SessionID, spec.resource)
		switch res.Status {
		case conversation.ResolutionFound:
			name = res.Ref.Name
			if intent.Params.Namespace == "" {
				intent.Params.Namespace = res.Ref.Namespace
			}
		case conversation.ResolutionAmbiguous:
			return &CompileOutcome{Clarification: clarifyAmbiguous(spec.resource, res.Candidates)}, nil
		case conversation.ResolutionNotFound:
			return &CompileOutcome{
				Clarification: fmt.Sprintf("Which %s do you mean? Please give its name.", resourceNoun(spec.resource)),
			}, nil
		}
		intent.RawTargets = []string{name}
	}

	if err := interpret.Validate(intent); err != nil {
		return &CompileOutcome{Clarification: err.Error() + "."}, nil
	}

	namespace := intent.Params.Namespace
	if namespace == "" {
		namespace = "default"
	}

	target := domain.ResourceRef{
		Type:      spec.resource,
		Namespace: namespace,
		Name:      name,
	}

	destructive := spec.destructive
	if intent.Kind == domain.ActionScaleModel {
		destructive = c.scaleReducesCapacity(ctx, target, intent.Params.Replicas)
	}

	now := time.Now().UTC()
	request := &domain.OperationRequest{
		RequestID:    uuid.NewString(),
		IntentID:     intent.IntentID,
		SessionID:    intent.SessionID,
		Seq:          0,
		Verb:         spec.verb,
		Target:       target,
		Payload:      intent.Params,
		Destructive:  destructive,
		Confirmation: initialConfirmation(destructive),
		Description:  describe(intent.Kind, spec.verb, target, intent.Params),
		CreatedAt:    now,
	}

	requests := []*domain.OperationRequest{request}

	// A deployment turn that also names a pipeline compiles into an ordered
	// pair: the model first, then its preprocessing pipeline.
	if intent.Kind == domain.ActionDeployModel && intent.Params.PipelineName != "" {
		pipelineTarget := domain.ResourceRef{
			Type:      domain.ResourcePipeline,
			Namespace: namespace,
			Name:      intent.Params.PipelineName,
		}
		requests = append(requests, &domain.OperationRequest{
			RequestID:    uuid.NewString(),
			IntentID:     intent.IntentID,
			SessionID:    intent.SessionID,
			Seq:          1,
			Verb:         domain.VerbCreate,
			Target:       pipelineTarget,
			Payload:      intent.Params,
			Destructive:  false,
			Confirmation: domain.ConfirmationConfirmed,
			Description:  describe(domain.ActionCreatePipeline, domain.VerbCreate, pipelineTarget, intent.Params),
			CreatedAt:    now,
		})
	}

	return &CompileOutcome{Requests: requests}, nil
}

func initialConfirmation(destructive bool) domain.ConfirmationState {
	if destructive {
		return domain.ConfirmationPending
	}
	return domain.ConfirmationConfirmed
}

// scaleReducesCapacity decides whether a scale is destructive by comparing
// against the cached snapshot. With no snapshot available the scale is
// treated as destructive: confirming a safe operation is cheaper than
// skipping confirmation on a capacity cut.
func (c *Compiler) scaleReducesCapacity(ctx context.Context, target domain.ResourceRef, replicas *int) bool {
	if replicas == nil {
		return true
	}
	snap, err := c.snapshots.Get(ctx, target)
	if err != nil {
		return true
	}
	return *replicas < snap.State.Replicas
}

func clarifyLowConfidence(intent *domain.Intent) string {
	noun := "request"
	if spec, ok := actionTable[intent.Kind]; ok {
		noun = resourceNoun(spec.resource)
	}
	return fmt.Sprintf(
		"I'm not sure I understood that correctly. Did you want to %s a %s? Please rephrase with the resource name.",
		verbPhrase(intent.Kind), noun)
}

func clarifyNotedAmbiguities(intent *domain.Intent) string {
	return fmt.Sprintf("Before I %s anything: %s",
		verbPhrase(intent.Kind), strings.Join(intent.Ambiguities, " "))
}

func clarifyAmbiguous(typ domain.ResourceType, candidates []domain.ResourceRef) string {
	names := make([]string, len(candidates))
	for i, ref := range candidates {
		names[i] = ref.Name
	}
	return fmt.Sprintf("You've mentioned several %ss recently: %s. Which one do you mean?",
		resourceNoun(typ), strings.Join(names, ", "))
}

func resourceNoun(typ domain.ResourceType) string {
	switch typ {
	case domain.ResourceModelDeployment:
		return "model"
	case domain.ResourcePipeline:
		return "pipeline"
	case domain.ResourceNotebook:
		return "notebook"
	case domain.ResourceProject:
		return "project"
	}
	return string(typ)
}

func verbPhrase(kind domain.ActionKind) string {
	switch kind {
	case domain.ActionDeployModel:
		return "deploy"
	case domain.ActionScaleModel:
		return "scale"
	case domain.ActionDeleteModel, domain.ActionDeleteNotebook:
		return "delete"
	case domain.ActionStopNotebook:
		return "stop"
	case domain.ActionStartNotebook:
		return "start"
	case domain.ActionCreatePipeline, domain.ActionCreateNotebook, domain.ActionCreateProject:
		return "create"
	case domain.ActionUpdatePipeline:
		return "update"
	case domain.ActionAddUser:
		return "grant access to"
	case domain.ActionGetStatus, domain.ActionGetProjectResources:
		return "check"
	}
	return "list"
}

// describe renders the human-readable summary shown in confirmation prompts
// and stored with the request.
func describe(kind domain.ActionKind, verb domain.Verb, target domain.ResourceRef, params domain.Params) string {
	switch kind {
	case domain.ActionScaleModel:
		if params.Replicas != nil {
			return fmt.Sprintf("Scale model '%s' in %s to %d replica(s)", target.Name, target.Namespace, *params.Replicas)
		}
		return fmt.Sprintf("Scale model '%s' in %s", target.Name, target.Namespace)
	case domain.ActionDeleteModel:
		return fmt.Sprintf("Delete model '%s' from %s", target.Name, target.Namespace)
	case domain.ActionStopNotebook:
		return fmt.Sprintf("Stop notebook '%s' in %s", target.Name, target.Namespace)
	case domain.ActionDeleteNotebook:
		return fmt.Sprintf("Delete notebook '%s' from %s", target.Name, target.Namespace)
	case domain.ActionDeployModel:
		return fmt.Sprintf("Deploy model '%s' in %s", target.Name, target.Namespace)
	case domain.ActionAddUser:
		return fmt.Sprintf("Add user '%s' to project '%s'", params.Username, target.Name)
	}

	if verb == domain.VerbList {
		return fmt.Sprintf("List %ss in %s", resourceNoun(target.Type), target.Namespace)
	}
	return fmt.Sprintf("%s %s '%s' in %s", capitalize(string(verb)), resourceNoun(target.Type), target.Name, target.Namespace)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
