package detect

import (
	"context"
	"log"
	"sync"
)

// Pipeline runs the three detection stages over extracted text.
// Construction loads nothing heavy; NER models are shared handles.
type Pipeline struct {
	ner    *nerRunner
	logger *log.Logger
}

// escalationThreshold: any stage-1 span below this confidence whose
// type benefits from NER triggers stage 2.
const escalationThreshold = 0.85

// NewPipeline builds a pipeline. models may be empty; stage 2 is then
// skipped entirely.
func NewPipeline(models []NERModel) *Pipeline {
	logger := log.New(log.Writer(), "[DETECT] ", log.LstdFlags)
	return &Pipeline{
		ner:    &nerRunner{models: models, warn: logger.Printf},
		logger: logger,
	}
}

// Detect runs triage, optional NER escalation and context enhancement,
// returning resolved entities. Deterministic for fixed text and model
// versions.
func (p *Pipeline) Detect(ctx context.Context, text string) []Entity {
	spans := p.triage(text)

	if p.shouldEscalate(spans) && len(p.ner.models) > 0 {
		spans = append(spans, p.ner.run(ctx, text)...)
		spans = MergeOverlaps(spans)
	}

	spans = EnhanceContext(text, spans)
	return Resolve(spans)
}

// triage runs the pattern and secrets banks in parallel and merges
// overlapping hits.
func (p *Pipeline) triage(text string) []Span {
	var (
		wg       sync.WaitGroup
		patterns []Span
		secrets  []Span
	)
	wg.Add(2)
	go func() { defer wg.Done(); patterns = RunPatterns(text) }()
	go func() { defer wg.Done(); secrets = RunSecrets(text) }()
	wg.Wait()

	return MergeOverlaps(append(patterns, secrets...))
}

// shouldEscalate decides whether NER can add signal: a weak span of an
// ML-beneficial type, or no NAME-class hit at all.
func (p *Pipeline) shouldEscalate(spans []Span) bool {
	sawName := false
	for _, s := range spans {
		if nameClass[s.EntityType] {
			sawName = true
		}
		if s.Confidence < escalationThreshold && mlBeneficialTypes[s.EntityType] {
			return true
		}
	}
	return !sawName
}
