package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Chunking parameters for NER: model context is bounded, so text is cut
// into overlapping windows and boundary duplicates are deduped.
const (
	nerChunkSize    = 4000
	nerChunkOverlap = 200
)

// NERModel is one named-entity model. Implementations must be safe for
// concurrent use; models are loaded (or connected) once per process.
type NERModel interface {
	Name() string
	Detect(ctx context.Context, text string) ([]Span, error)
}

// HTTPNERModel calls an inference sidecar: POST {"text": ...} returns
// {"entities": [{start, end, entity_type, value, confidence}]}.
type HTTPNERModel struct {
	name     string
	endpoint string
	client   *http.Client
}

// NewHTTPNERModel builds a client for one model route, e.g.
// http://ml:9090/v1/ner/pii.
func NewHTTPNERModel(name, endpoint string, timeout time.Duration) *HTTPNERModel {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPNERModel{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (m *HTTPNERModel) Name() string { return m.name }

// Detect runs one inference call over one chunk of text.
func (m *HTTPNERModel) Detect(ctx context.Context, text string) ([]Span, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ner %s: status %d", m.name, resp.StatusCode)
	}

	var out struct {
		Entities []Span `json:"entities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	for i := range out.Entities {
		out.Entities[i].EntityType = NormalizeType(out.Entities[i].EntityType)
		out.Entities[i].Source = m.name
	}
	return out.Entities, nil
}

// nerRunner drives the model set over chunked text. ML unavailability
// is logged once per process and Stage 2 is skipped from then on until
// a call succeeds again.
type nerRunner struct {
	models []NERModel

	warnOnce sync.Once
	warn     func(format string, args ...interface{})
}

// chunks cuts text into [start, end) windows of nerChunkSize with
// nerChunkOverlap. Deterministic, so (file_hash, chunk_index) is a
// stable restart key.
func chunks(textLen int) [][2]int {
	if textLen <= nerChunkSize {
		return [][2]int{{0, textLen}}
	}
	var out [][2]int
	step := nerChunkSize - nerChunkOverlap
	for start := 0; start < textLen; start += step {
		end := start + nerChunkSize
		if end >= textLen {
			out = append(out, [2]int{start, textLen})
			break
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// run executes every model over every chunk, offsets spans back into
// document coordinates, and dedupes boundary duplicates on
// (start, end, type). A failed chunk loses only its own spans.
func (r *nerRunner) run(ctx context.Context, text string) []Span {
	seen := map[[2]int]map[string]bool{}
	var out []Span
	for _, c := range chunks(len(text)) {
		chunk := text[c[0]:c[1]]
		for _, m := range r.models {
			spans, err := m.Detect(ctx, chunk)
			if err != nil {
				r.warnOnce.Do(func() {
					r.warn("NER model %s unavailable, escalation degraded: %v", m.Name(), err)
				})
				continue
			}
			for _, s := range spans {
				s.Start += c[0]
				s.End += c[0]
				key := [2]int{s.Start, s.End}
				if seen[key] == nil {
					seen[key] = map[string]bool{}
				}
				if seen[key][s.EntityType] {
					continue
				}
				seen[key][s.EntityType] = true
				out = append(out, s)
			}
		}
	}
	return out
}
