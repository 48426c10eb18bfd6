package taskgate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nevindra/taskgate/provider/scoring"
)

type stubFileStore struct {
	Store
	files []UploadedFile
}

func (s *stubFileStore) GetFiles(ctx context.Context, ids []string) ([]UploadedFile, error) {
	var out []UploadedFile
	for _, f := range s.files {
		for _, id := range ids {
			if f.ID == id {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func newTestSelector(t *testing.T, models []ModelDescription, scores map[string]scoring.Inference, files []UploadedFile) *Selector {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var infs []scoring.Inference
		for _, id := range r.URL.Query()["models_to_score"] {
			if inf, ok := scores[id]; ok {
				infs = append(infs, inf)
			}
		}
		json.NewEncoder(w).Encode(struct {
			Inferences []scoring.Inference `json:"inferences"`
		}{infs})
	}))
	t.Cleanup(srv.Close)

	cat := NewCatalogue(&fakeSource{models: models}, time.Hour)
	return NewSelector(cat, scoring.New(srv.URL), &stubFileStore{files: files}, 0, nil)
}

// TestSelectModelPicksBestUtility exercises §8 property 10 (utility pick)
// end to end through SelectModel: of two survivors with (score=2, cost=1)
// and (score=1, cost=0.25), the winner is the one maximizing
// score/sqrt(cost+0.01) (§4.5 step 7, implemented at selector.go's
// candidateEval ratio).
//
// The ratio is computed from each candidate's own raw score and cost, not
// their z-scores — z-scores only decide which candidates survive the
// outlier cutoff in step 7, they are not the value the ratio in step 7's
// final sentence is computed over. Under that (the only internally
// consistent) reading, (2,1) wins: 2/sqrt(1.01) ≈ 1.990 > 1/sqrt(0.26) ≈
// 1.961. (§9's literal "1/0.55 > 2/1.005" does not correspond to either a
// raw-value or a z-scored evaluation of §4.5's own formula; this test
// documents the reading actually implemented.)
//
// Two additional high-cost, high-score filler candidates are included
// purely to keep the two target candidates' normalized costs inside the
// step-7 outlier band — with only two candidates present the z-score
// normalization is perfectly symmetric and rejects whichever one costs
// more, which would make the pick trivial rather than a real two-survivor
// comparison.
func TestSelectModelPicksBestUtility(t *testing.T) {
	models := []ModelDescription{
		{ID: "high-score-high-cost", Pricing: ModelPricing{PerRequest: 1}},
		{ID: "low-score-low-cost", Pricing: ModelPricing{PerRequest: 0.25}},
		{ID: "filler-a", Pricing: ModelPricing{PerRequest: 2}},
		{ID: "filler-b", Pricing: ModelPricing{PerRequest: 2}},
	}
	scores := map[string]scoring.Inference{
		"high-score-high-cost": {ModelID: "high-score-high-cost", Score: 2.0, PredictedLength: 0},
		"low-score-low-cost":   {ModelID: "low-score-low-cost", Score: 1.0, PredictedLength: 0},
		"filler-a":             {ModelID: "filler-a", Score: 1.5, PredictedLength: 0},
		"filler-b":             {ModelID: "filler-b", Score: 1.5, PredictedLength: 0},
	}
	sel := newTestSelector(t, models, scores, nil)

	step := TaskStep{ID: "s1", Normal: &NormalStepDetails{}}
	eval, err := sel.SelectModel(context.Background(), step, "do something")
	if err != nil {
		t.Fatalf("SelectModel() error = %v", err)
	}
	if eval.ModelID != "high-score-high-cost" {
		t.Errorf("ModelID = %q, want %q (score/sqrt(cost+0.01): 1.990 vs 1.961)", eval.ModelID, "high-score-high-cost")
	}
}

func TestSelectModelFiltersByModality(t *testing.T) {
	models := []ModelDescription{
		{ID: "text-only", InputModalities: []Modality{ModalityText}},
		{ID: "vision", InputModalities: []Modality{ModalityText, ModalityImage}},
	}
	scores := map[string]scoring.Inference{
		"vision": {ModelID: "vision", Score: 0.5, PredictedLength: 10},
	}
	files := []UploadedFile{{ID: "f1", Kind: "image"}}
	sel := newTestSelector(t, models, scores, files)

	step := TaskStep{ID: "s1", Normal: &NormalStepDetails{RequiredFileIDs: []string{"f1"}}}
	eval, err := sel.SelectModel(context.Background(), step, "look at this image")
	if err != nil {
		t.Fatalf("SelectModel() error = %v", err)
	}
	if eval.ModelID != "vision" {
		t.Errorf("ModelID = %q, want %q", eval.ModelID, "vision")
	}
}

func TestSelectModelFiltersByCapability(t *testing.T) {
	models := []ModelDescription{
		{ID: "plain", SupportsReasoning: false},
		{ID: "reasoner", SupportsReasoning: true},
	}
	scores := map[string]scoring.Inference{
		"reasoner": {ModelID: "reasoner", Score: 0.5, PredictedLength: 10},
	}
	sel := newTestSelector(t, models, scores, nil)

	step := TaskStep{ID: "s1", Normal: &NormalStepDetails{RequiredCapabilities: []Capability{CapReasoning}}}
	eval, err := sel.SelectModel(context.Background(), step, "reason about this")
	if err != nil {
		t.Fatalf("SelectModel() error = %v", err)
	}
	if eval.ModelID != "reasoner" {
		t.Errorf("ModelID = %q, want %q", eval.ModelID, "reasoner")
	}
}

func TestSelectModelNoSuitableModel(t *testing.T) {
	models := []ModelDescription{{ID: "text-only", InputModalities: []Modality{ModalityText}}}
	sel := newTestSelector(t, models, nil, []UploadedFile{{ID: "f1", Kind: "video"}})

	step := TaskStep{ID: "s1", Normal: &NormalStepDetails{RequiredFileIDs: []string{"f1"}}}
	_, err := sel.SelectModel(context.Background(), step, "watch this")
	if KindOf(err) != KindNoSuitableModel {
		t.Errorf("KindOf(err) = %v, want %v", KindOf(err), KindNoSuitableModel)
	}
}

func TestSelectModelRejectsNonNormalStep(t *testing.T) {
	sel := newTestSelector(t, nil, nil, nil)
	step := TaskStep{ID: "s1", Reevaluate: &ReevaluateStepDetails{}}
	_, err := sel.SelectModel(context.Background(), step, "prompt")
	if KindOf(err) != KindInvalidArgument {
		t.Errorf("KindOf(err) = %v, want %v", KindOf(err), KindInvalidArgument)
	}
}
