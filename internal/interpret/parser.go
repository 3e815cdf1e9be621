// Package interpret turns natural language turns into structured intents
// using ordered pattern matching and parameter extraction.
package interpret

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maxamillion/rhails/internal/domain"
)

// ErrEmptyQuery is returned when the turn contains no parseable text.
var ErrEmptyQuery = errors.New("interpret: query cannot be empty")

// ErrNoInterpretation is returned when no pattern matches and the fallback
// classification is unjustified.
var ErrNoInterpretation = errors.New("interpret: no interpretation found")

// kindPatterns pairs an action kind with its match patterns. Order matters:
// more specific kinds come first so "create ... pipeline" never classifies
// as a model deployment.
type kindPatterns struct {
	kind     domain.ActionKind
	patterns []*regexp.Regexp
}

// Parser classifies user turns into action kinds and extracts typed
// parameters. It holds no per-turn state and is safe for concurrent use.
type Parser struct {
	table []kindPatterns
}

// NewParser compiles the classification table.
func NewParser() *Parser {
	return &Parser{table: buildTable()}
}

func buildTable() []kindPatterns {
	mk := func(kind domain.ActionKind, exprs ...string) kindPatterns {
		kp := kindPatterns{kind: kind}
		for _, expr := range exprs {
			kp.patterns = append(kp.patterns, regexp.MustCompile(expr))
		}
		return kp
	}

	return []kindPatterns{
		// Pipeline kinds first: "create" alone is ambiguous.
		mk(domain.ActionCreatePipeline,
			`\bcreate\b.*\bpipeline\b`,
			`\bset\s+up\b.*\bpipeline\b`,
			`\bbuild\b.*\bpipeline\b`,
			`\bpipeline\b.*\bto\b.*\b(?:preprocess|transform|analyze)\b`,
		),
		mk(domain.ActionUpdatePipeline,
			`\bupdate\b.*\bpipeline\b`,
			`\bchange\b.*\bpipeline\b`,
			`\bmodify\b.*\bpipeline\b`,
			`\bpipeline\b.*\bschedule\b`,
		),
		mk(domain.ActionListPipelines,
			`\blist\b.*\bpipelines?\b`,
			`\bshow\b.*\bpipelines?\b`,
			`\bwhat\b.*\bpipelines?\b`,
			`\ball\b.*\bpipelines?\b`,
		),
		// Notebook control before creation: "stop the X" must not create.
		mk(domain.ActionStopNotebook,
			`\bstop\b\s+(?:the|my)\s+[a-z0-9\-]+`,
			`\bstop\b.*\bnotebook\b`,
			`\bshut\s*down\b.*\bnotebook\b`,
			`\bpause\b.*\bnotebook\b`,
		),
		mk(domain.ActionStartNotebook,
			`\bstart\b\s+(?:the|my)\s+[a-z0-9\-]+`,
			`\bresume\b.*\bnotebook\b`,
			`\brestart\b.*\bnotebook\b`,
		),
		mk(domain.ActionCreateNotebook,
			`\bcreate\b.*\bnotebook\b`,
			`\blaunch\b.*\b(?:a|an|new)\s+notebook\b`,
			`\bstart\b.*\b(?:a|an|new)\s+notebook\b`,
			`\bnotebook\b.*\bwith\b`,
		),
		mk(domain.ActionDeleteNotebook,
			`\bdelete\b.*\bnotebook\b`,
			`\bremove\b.*\bnotebook\b`,
			`\bdrop\b.*\bnotebook\b`,
		),
		mk(domain.ActionListNotebooks,
			`\blist\b.*\bnotebooks?\b`,
			`\bshow\b.*\bnotebooks?\b`,
			`\bwhat\b.*\bnotebooks?\b`,
			`\ball\b.*\bnotebooks?\b`,
		),
		// Project kinds before model kinds.
		mk(domain.ActionGetProjectResources,
			`\bhow\s+much\b.*\busing\b`,
			`\bresource\s+usage\b.*\bfor\b`,
			`\bresource\s+consumption\b`,
			`\bshow\b.*\bresource.*\busage\b`,
			`\bwhat.*\busing\b`,
		),
		mk(domain.ActionAddUser,
			`\badd\s+(?:user\s+)?[\w@.\-]+\s+to\b`,
			`\bgive\s+[\w@.\-]+\s+access\b`,
			`\badd\s+[\w@.\-]+.*\bproject\b`,
			`\bgrant\s+[\w@.\-]+\b`,
		),
		mk(domain.ActionListProjects,
			`\blist\b.*\bprojects?\b`,
			`\bshow\b.*\bprojects?\b`,
			`\bwhat\s+projects?\b`,
			`\ball\b.*\bprojects?\b`,
		),
		mk(domain.ActionCreateProject,
			`\bcreate\b.*\bproject\b`,
			`\bnew\s+project\b`,
			`\blaunch\b.*\bproject\b`,
		),
		mk(domain.ActionDeployModel,
			`\bdeploy\b`,
			`\bcreate\b.*\b(?:model|called)\b`,
			`\blaunch\b`,
			`\bstart\b`,
		),
		mk(domain.ActionScaleModel,
			`\bscale\b`,
			`\bincrease\b.*\b(?:to|replicas?|instances?)\b`,
			`\bdecrease\b`,
		),
		mk(domain.ActionDeleteModel,
			`\bdelete\b`,
			`\bremove\b`,
			`\bdrop\b`,
			`\bstop\b`,
		),
		mk(domain.ActionGetStatus,
			`\bstatus\b`,
			`\bis\b.*\brunning\b`,
			`\bcheck\b.*\bmodel\b`,
			`\bshow\b\s+(?:me\s+)?(?:the\s+)?[a-z0-9\-]+(?:\s+model|\s+status)`,
		),
		mk(domain.ActionListModels,
			`\blist\b.*\bmodels?\b`,
			`\bshow\b.*\ball\b`,
			`\bwhat\b.*\bmodels\b`,
			`\ball\b.*\bmodels?\b`,
		),
	}
}

// Parse interprets one user turn. history is the recent conversation window
// in chronological order; it is consulted when the turn refers to a resource
// by pronoun or omits the name entirely.
func (p *Parser) Parse(query string, history []*domain.Turn) (*domain.Intent, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	lower := strings.ToLower(query)
	kind, matched := p.classify(lower)
	if !matched && !strings.Contains(lower, "model") {
		return nil, ErrNoInterpretation
	}

	params, targets := extractParameters(lower, kind)

	usedContext := false
	if needsTargetName(kind) && (len(targets) == 0 || isPronoun(targets[0])) {
		name, ambiguous := resolveFromHistory(history, historyTargetType(kind))
		switch {
		case name != "":
			targets = []string{name}
			usedContext = true
		case ambiguous:
			// The pronoun clearly refers to context; which resource is
			// left to the mention index, which lists the candidates.
			targets = nil
			usedContext = true
		case len(targets) > 0 && isPronoun(targets[0]):
			targets = nil
		}
	}

	confidence := scoreConfidence(kind, params, targets, lower, usedContext)

	return &domain.Intent{
		IntentID:   uuid.NewString(),
		Kind:       kind,
		RawTargets: targets,
		Params:     params,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (p *Parser) classify(lower string) (domain.ActionKind, bool) {
	for _, kp := range p.table {
		for _, re := range kp.patterns {
			if re.MatchString(lower) {
				return kp.kind, true
			}
		}
	}
	// Fall back to listing models; scored low unless the text mentions them.
	return domain.ActionListModels, false
}

func needsTargetName(kind domain.ActionKind) bool {
	switch kind {
	case domain.ActionDeployModel, domain.ActionScaleModel, domain.ActionDeleteModel,
		domain.ActionGetStatus, domain.ActionStartNotebook, domain.ActionStopNotebook,
		domain.ActionDeleteNotebook:
		return true
	}
	return false
}

func isPronoun(s string) bool {
	switch s {
	case "it", "this", "that":
		return true
	}
	return false
}

func extractParameters(lower string, kind domain.ActionKind) (domain.Params, []string) {
	var params domain.Params
	var targets []string

	switch kind {
	case domain.ActionDeployModel, domain.ActionScaleModel, domain.ActionDeleteModel, domain.ActionGetStatus:
		if name := extractModelName(lower); name != "" {
			targets = append(targets, name)
		}
	case domain.ActionCreatePipeline, domain.ActionUpdatePipeline:
		if name := extractPipelineName(lower); name != "" {
			targets = append(targets, name)
		}
	case domain.ActionCreateNotebook, domain.ActionStartNotebook, domain.ActionStopNotebook, domain.ActionDeleteNotebook:
		if name := extractNotebookName(lower); name != "" {
			targets = append(targets, name)
		}
	case domain.ActionCreateProject, domain.ActionAddUser, domain.ActionGetProjectResources:
		if name := extractProjectName(lower); name != "" {
			targets = append(targets, name)
		}
	}

	params.Namespace = extractNamespace(lower)

	switch kind {
	case domain.ActionDeployModel:
		params.Replicas = extractReplicas(lower)
		params.StorageURI = extractStorageURI(lower)
		// A deployment turn may also ask for a preprocessing pipeline.
		if strings.Contains(lower, "pipeline") {
			params.PipelineName = extractPipelineName(lower)
		}
	case domain.ActionScaleModel:
		params.Replicas = extractReplicas(lower)
	case domain.ActionUpdatePipeline:
		params.Schedule = extractSchedule(lower)
	case domain.ActionCreateNotebook:
		params.Memory = extractMemory(lower)
		params.CPU = extractCPU(lower)
		params.GPU = extractGPU(lower)
		params.Image = extractImage(lower)
	case domain.ActionCreateProject:
		params.Memory = extractMemory(lower)
		params.CPU = extractCPU(lower)
	case domain.ActionAddUser:
		params.Username = extractUsername(lower)
		params.Role = extractRole(lower)
	case domain.ActionGetStatus:
		params.TimeRange = extractTimeRange(lower)
	}

	return params, targets
}

var modelNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:model\s+called\s+|called\s+)([a-z0-9\-]+)`),
	regexp.MustCompile(`scale\s+(?:up|down)\s+([a-z0-9\-]+)`),
	regexp.MustCompile(`(?:deploy|create|delete|remove|scale|increase|decrease)\s+(?:my\s+|the\s+)?([a-z0-9\-]+)`),
	regexp.MustCompile(`\bstatus\s+of\s+(?:my\s+|the\s+)?([a-z0-9\-]+)`),
	regexp.MustCompile(`([a-z0-9\-]+)\s+model`),
	regexp.MustCompile(`([a-z0-9\-]+)\s+(?:to|in)\s+`),
}

var modelNameStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "my": true, "me": true,
	"model": true, "to": true, "with": true, "from": true, "for": true,
	"replicas": true, "instances": true, "up": true, "down": true,
	"it": false, "this": false, "that": false, // pronouns pass through for context resolution
}

func extractModelName(lower string) string {
	for _, re := range modelNamePatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			name := m[1]
			if stop, known := modelNameStopwords[name]; known && stop {
				continue
			}
			if isAllDigits(name) {
				continue
			}
			return name
		}
	}
	return ""
}

var pipelineNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`pipeline\s+called\s+([a-z0-9\-]+)`),
	regexp.MustCompile(`called\s+([a-z0-9\-]+)`),
	regexp.MustCompile(`(?:create|build|set\s+up)\s+(?:a\s+)?(?:pipeline\s+)?([a-z0-9\-]+)`),
	regexp.MustCompile(`([a-z0-9\-]+)\s+pipeline`),
}

func extractPipelineName(lower string) string {
	stop := map[string]bool{
		"a": true, "an": true, "the": true, "my": true, "pipeline": true,
		"data": true, "to": true, "for": true, "from": true,
	}
	for _, re := range pipelineNamePatterns {
		if m := re.FindStringSubmatch(lower); m != nil && !stop[m[1]] {
			return m[1]
		}
	}
	return ""
}

var notebookNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`notebook\s+called\s+([a-z0-9\-]+)`),
	regexp.MustCompile(`called\s+([a-z0-9\-]+)`),
	regexp.MustCompile(`(?:create|launch|start|stop|delete|remove)\s+(?:a|an|the|my)?\s*(?:notebook\s+)?([a-z0-9\-]+)`),
	regexp.MustCompile(`([a-z0-9\-]+)\s+notebook`),
}

func extractNotebookName(lower string) string {
	stop := map[string]bool{
		"a": true, "an": true, "the": true, "my": true, "notebook": true,
		"python": true, "jupyter": true, "to": true, "for": true,
		"from": true, "with": true,
	}
	for _, re := range notebookNamePatterns {
		if m := re.FindStringSubmatch(lower); m != nil && !stop[m[1]] {
			return m[1]
		}
	}
	return ""
}

var projectNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`project\s+called\s+([a-z0-9\-]+)`),
	regexp.MustCompile(`project\s+named\s+([a-z0-9\-]+)`),
	regexp.MustCompile(`called\s+([a-z0-9\-]+)`),
	regexp.MustCompile(`named\s+([a-z0-9\-]+)`),
	regexp.MustCompile(`(?:to|for|of)\s+(?:the\s+)?([a-z0-9\-]+)(?:\s+project)?`),
	regexp.MustCompile(`([a-z0-9\-]+)\s+(?:project|using|access)`),
}

func extractProjectName(lower string) string {
	stop := map[string]bool{
		"a": true, "an": true, "the": true, "my": true, "project": true,
		"team": true, "to": true, "for": true, "from": true, "with": true,
		"access": true, "user": true,
	}
	for _, re := range projectNamePatterns {
		if m := re.FindStringSubmatch(lower); m != nil && !stop[m[1]] {
			return m[1]
		}
	}
	return ""
}

var namespacePatterns = []*regexp.Regexp{
	regexp.MustCompile(`in\s+([a-z0-9\-]+)\s+namespace`),
	regexp.MustCompile(`namespace\s+([a-z0-9\-]+)`),
	regexp.MustCompile(`in\s+the\s+([a-z0-9\-]+)\s+(?:namespace|project|environment)`),
}

func extractNamespace(lower string) string {
	for _, re := range namespacePatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			return m[1]
		}
	}
	return ""
}

var numberWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

var replicaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d+)\s+replicas?`),
	regexp.MustCompile(`to\s+(\d+)\s*(?:replicas?|instances?)?`),
	regexp.MustCompile(`(\d+)\s+instances?`),
	regexp.MustCompile(`with\s+(\d+)\s+replicas?`),
	regexp.MustCompile(`to\s+(zero|one|two|three|four|five|six|seven|eight|nine|ten)\s+replicas?`),
}

func extractReplicas(lower string) *int {
	for _, re := range replicaPatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return &n
			}
			if n, ok := numberWords[m[1]]; ok {
				return &n
			}
		}
	}
	return nil
}

var storageURIPattern = regexp.MustCompile(`((?:s3|gs|https?)://[^\s]+)`)

func extractStorageURI(lower string) string {
	if m := storageURIPattern.FindStringSubmatch(lower); m != nil {
		return m[1]
	}
	return ""
}

var schedulePatterns = []*regexp.Regexp{
	regexp.MustCompile(`every\s+(\d+\s+(?:hours?|minutes?|days?))`),
	regexp.MustCompile(`(hourly|daily|weekly|monthly)`),
	regexp.MustCompile(`to\s+run\s+(every\s+\S+(?:\s+\S+)?)`),
}

func extractSchedule(lower string) string {
	for _, re := range schedulePatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			return m[1]
		}
	}
	return ""
}

var memoryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d+)\s*(?:gb|g)\s+(?:of\s+)?(?:ram|memory)`),
	regexp.MustCompile(`(?:with|using)\s+(\d+)\s*(?:gb|g|gi|mi)`),
	regexp.MustCompile(`(\d+)\s*(?:gb|g|gi|mi)(?:\s+(?:ram|memory))?`),
}

func extractMemory(lower string) string {
	for _, re := range memoryPatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			if strings.Contains(lower, "mi") {
				return m[1] + "Mi"
			}
			return m[1] + "Gi"
		}
	}
	return ""
}

var cpuPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d+)\s*(?:cpus?|cores?)`),
	regexp.MustCompile(`(\d+)\s*-\s*core`),
	regexp.MustCompile(`(?:with|using)\s+(\d+)\s+(?:cpu|core)`),
}

func extractCPU(lower string) string {
	for _, re := range cpuPatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			return m[1]
		}
	}
	return ""
}

var (
	gpuCountPattern = regexp.MustCompile(`(\d+)\s*gpus?`)
	gpuWantPattern  = regexp.MustCompile(`\bgpu\s+support\b|\bwith\s+gpu\b|\bgpu\s+enabled\b`)
	gpuNonePattern  = regexp.MustCompile(`\bno\s+gpu\b|\bwithout\s+gpu\b`)
)

func extractGPU(lower string) *int {
	if m := gpuCountPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return &n
		}
	}
	if gpuWantPattern.MatchString(lower) {
		one := 1
		return &one
	}
	if gpuNonePattern.MatchString(lower) {
		zero := 0
		return &zero
	}
	return nil
}

// frameworkImages maps a framework keyword to its default notebook image.
var frameworkImages = []struct{ keyword, image string }{
	{"tensorflow", "tensorflow/tensorflow:latest-jupyter"},
	{"pytorch", "pytorch/pytorch:latest"},
	{"datascience", "jupyter/datascience-notebook:latest"},
	{"julia", "jupyter/julia-notebook:latest"},
	{"python", "jupyter/scipy-notebook:latest"},
}

var imageURIPattern = regexp.MustCompile(`([a-z0-9\-.]+/[a-z0-9\-.]+:[a-z0-9\-.]+)`)

func extractImage(lower string) string {
	for _, fw := range frameworkImages {
		if strings.Contains(lower, fw.keyword) {
			return fw.image
		}
	}
	if m := imageURIPattern.FindStringSubmatch(lower); m != nil {
		return m[1]
	}
	return ""
}

var usernamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:add|give|grant)\s+(?:user\s+)?([\w@.\-]+)`),
	regexp.MustCompile(`user\s+([\w@.\-]+)`),
	regexp.MustCompile(`(\w+@\w+\.\w+)`),
}

func extractUsername(lower string) string {
	stop := map[string]bool{"access": true, "to": true, "permissions": true, "user": true}
	for _, re := range usernamePatterns {
		if m := re.FindStringSubmatch(lower); m != nil && !stop[m[1]] {
			return m[1]
		}
	}
	return ""
}

func extractRole(lower string) string {
	roleKeywords := []struct {
		role     string
		keywords []string
	}{
		{"admin", []string{"admin", "administrator", "owner"}},
		{"edit", []string{"edit", "write", "contributor"}},
		{"view", []string{"view", "read", "viewer", "readonly"}},
	}
	for _, rk := range roleKeywords {
		for _, kw := range rk.keywords {
			if strings.Contains(lower, kw) {
				return rk.role
			}
		}
	}
	return ""
}

var timeRangePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(last\s+week)`),
	regexp.MustCompile(`(last\s+month)`),
	regexp.MustCompile(`(yesterday)`),
	regexp.MustCompile(`(today)`),
	regexp.MustCompile(`(past\s+(?:week|month))`),
	regexp.MustCompile(`(last\s+\d+\s+(?:days?|weeks?|months?))`),
}

func extractTimeRange(lower string) string {
	for _, re := range timeRangePatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			return m[1]
		}
	}
	return ""
}

// scanPatterns find resource names in turn text, typed by the noun they
// appear with. They feed the mention index and pronoun resolution.
var scanPatterns = []struct {
	typ      domain.ResourceType
	patterns []*regexp.Regexp
}{
	{domain.ResourceModelDeployment, []*regexp.Regexp{
		regexp.MustCompile(`([a-z0-9][a-z0-9\-]*)\s+model\b`),
		regexp.MustCompile(`\bmodel\s+(?:named\s+|called\s+)?([a-z0-9][a-z0-9\-]*)`),
		regexp.MustCompile(`\bstatus\s+of\s+([a-z0-9][a-z0-9\-]*)`),
		regexp.MustCompile(`\bthe\s+([a-z0-9][a-z0-9\-]*)\s+(?:model|is)\b`),
	}},
	{domain.ResourceNotebook, []*regexp.Regexp{
		regexp.MustCompile(`([a-z0-9][a-z0-9\-]*)\s+notebook\b`),
		regexp.MustCompile(`\bnotebook\s+(?:named\s+|called\s+)?([a-z0-9][a-z0-9\-]*)`),
	}},
	{domain.ResourcePipeline, []*regexp.Regexp{
		regexp.MustCompile(`([a-z0-9][a-z0-9\-]*)\s+pipeline\b`),
		regexp.MustCompile(`\bpipeline\s+(?:named\s+|called\s+)?([a-z0-9][a-z0-9\-]*)`),
	}},
	{domain.ResourceProject, []*regexp.Regexp{
		regexp.MustCompile(`([a-z0-9][a-z0-9\-]*)\s+project\b`),
		regexp.MustCompile(`\bproject\s+(?:named\s+|called\s+)?([a-z0-9][a-z0-9\-]*)`),
	}},
}

var mentionStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "my": true, "your": true,
	"this": true, "that": true, "it": true, "is": true, "and": true,
	"new": true, "all": true, "any": true, "each": true, "every": true,
	"with": true, "in": true, "on": true, "to": true, "from": true,
	"for": true, "of": true, "or": true, "at": true, "as": true,
	"named": true, "called": true, "please": true, "now": true,
}

// ScanMentions extracts the resource names a turn refers to. The conversation
// mention index is updated from these on every appended turn.
func ScanMentions(text string) []domain.ResourceRef {
	lower := strings.ToLower(text)
	var refs []domain.ResourceRef
	seen := make(map[string]bool)
	for _, sp := range scanPatterns {
		for _, re := range sp.patterns {
			for _, m := range re.FindAllStringSubmatch(lower, -1) {
				if mentionStopwords[m[1]] {
					continue
				}
				ref := domain.ResourceRef{Type: sp.typ, Name: m[1]}
				if seen[ref.Key()] {
					continue
				}
				seen[ref.Key()] = true
				refs = append(refs, ref)
			}
		}
	}
	return refs
}

// resolveFromHistory resolves a pronoun or omitted name against prior turns.
// The most recent turn mentioning a resource of the wanted type decides: one
// distinct name resolves, two or more are ambiguous and the caller leaves
// the choice to the mention index.
func resolveFromHistory(history []*domain.Turn, typ domain.ResourceType) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		var names []string
		for _, ref := range ScanMentions(history[i].Content) {
			if ref.Type == typ {
				names = append(names, ref.Name)
			}
		}
		switch len(names) {
		case 0:
			continue
		case 1:
			return names[0], false
		}
		return "", true
	}
	return "", false
}

func historyTargetType(kind domain.ActionKind) domain.ResourceType {
	switch kind {
	case domain.ActionStartNotebook, domain.ActionStopNotebook, domain.ActionDeleteNotebook:
		return domain.ResourceNotebook
	}
	return domain.ResourceModelDeployment
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

var listKinds = map[domain.ActionKind]bool{
	domain.ActionListModels:    true,
	domain.ActionListPipelines: true,
	domain.ActionListNotebooks: true,
	domain.ActionListProjects:  true,
}

func scoreConfidence(kind domain.ActionKind, params domain.Params, targets []string, lower string, usedContext bool) float64 {
	if listKinds[kind] {
		confidence := 0.7
		if params.Namespace != "" {
			confidence += 0.1
		}
		return min1(confidence)
	}

	confidence := 0.5
	if len(targets) > 0 && !isPronoun(targets[0]) {
		confidence += 0.2
	} else if !usedContext && !hasContextHint(lower) {
		confidence = 0.3
	}

	switch kind {
	case domain.ActionDeployModel:
		if params.Replicas != nil || params.StorageURI != "" {
			confidence += 0.1
		}
	case domain.ActionScaleModel:
		if params.Replicas != nil {
			confidence += 0.2
		}
	case domain.ActionCreateNotebook:
		if params.Memory != "" || params.CPU != "" || params.Image != "" {
			confidence += 0.1
		}
	case domain.ActionCreateProject:
		if params.Memory != "" || params.CPU != "" {
			confidence += 0.1
		}
	case domain.ActionAddUser:
		if params.Username != "" && len(targets) > 0 {
			confidence += 0.2
		}
		if params.Role != "" {
			confidence += 0.1
		}
	case domain.ActionGetProjectResources:
		if len(targets) > 0 {
			confidence += 0.1
		}
	}

	if usedContext {
		confidence += 0.2
	}
	if params.Namespace != "" {
		confidence += 0.1
	}
	return min1(confidence)
}

func hasContextHint(lower string) bool {
	for _, hint := range []string{" to ", " from ", " for ", " with ", " using ", "based on"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func min1(f float64) float64 {
	if f > 1.0 {
		return 1.0
	}
	return f
}

// Validate checks that the intent carries the parameters its kind requires.
// Replica counts are range-checked here; the executor applies the stricter
// operational bound.
func Validate(intent *domain.Intent) error {
	named := len(intent.RawTargets) > 0 && !isPronoun(intent.RawTargets[0])

	switch intent.Kind {
	case domain.ActionDeployModel:
		if !named {
			return fmt.Errorf("model deployment requires a model name")
		}
	case domain.ActionScaleModel:
		if !named {
			return fmt.Errorf("model scaling requires a model name")
		}
		if intent.Params.Replicas == nil {
			return fmt.Errorf("model scaling requires a replica count")
		}
		if n := *intent.Params.Replicas; n < 0 || n > 100 {
			return fmt.Errorf("replica count must be between 0 and 100, got %d", n)
		}
	case domain.ActionDeleteModel:
		if !named {
			return fmt.Errorf("model deletion requires a model name")
		}
	case domain.ActionGetStatus:
		if !named {
			return fmt.Errorf("status query requires a model name")
		}
	}
	return nil
}
