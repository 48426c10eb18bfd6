package taskgate

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/nevindra/taskgate/observer"
	"github.com/nevindra/taskgate/provider/scoring"
)

// ModelEvaluation is the Model Selector's (C5) output for a chosen model.
type ModelEvaluation struct {
	ModelID         string
	Score           float64
	PredictedLength int
	EstimatedCost   float64
}

// zOutlierCostMultiplier and zOutlierScoreFloor bound the candidate pool
// after normalization (§4.5 step 7): candidates whose normalized cost
// exceeds 3x the median, or whose normalized score falls more than two
// standard deviations below the mean, are dropped as outliers.
const (
	zOutlierCostMultiplier = 3.0
	zOutlierScoreFloor     = -2.0
	costZeroEpsilon        = 0.01
)

// Selector implements the Model Selector (C5): it narrows the catalogue to
// models that can serve a step's attachments and capabilities, scores the
// survivors via the external Scoring Service, and picks the best
// score-per-cost tradeoff.
type Selector struct {
	catalogue *Catalogue
	scorer    *scoring.Client
	store     Store
	batchSize int
	inst      *observer.Instruments
}

// NewSelector creates a Selector. batchSize<=0 scores every candidate in a
// single request. inst may be nil, in which case no metrics are recorded.
func NewSelector(catalogue *Catalogue, scorer *scoring.Client, store Store, batchSize int, inst *observer.Instruments) *Selector {
	return &Selector{catalogue: catalogue, scorer: scorer, store: store, batchSize: batchSize, inst: inst}
}

// SelectModel runs the full selection algorithm for a NormalStep (§4.5).
func (s *Selector) SelectModel(ctx context.Context, step TaskStep, prompt string) (ModelEvaluation, error) {
	start := time.Now()
	eval, err := s.selectModel(ctx, step, prompt)
	s.record(ctx, start, err)
	return eval, err
}

func (s *Selector) record(ctx context.Context, start time.Time, err error) {
	if s.inst == nil {
		return
	}
	s.inst.SelectorDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if KindOf(err) == KindNoSuitableModel {
		s.inst.SelectorRejects.Add(ctx, 1)
	}
}

func (s *Selector) selectModel(ctx context.Context, step TaskStep, prompt string) (ModelEvaluation, error) {
	if step.Normal == nil {
		return ModelEvaluation{}, NewError(KindInvalidArgument, "step %s is not a NormalStep", step.ID)
	}

	models, err := s.catalogue.GetAll(ctx, "")
	if err != nil {
		return ModelEvaluation{}, err
	}

	files, err := s.store.GetFiles(ctx, step.Normal.RequiredFileIDs)
	if err != nil {
		return ModelEvaluation{}, WrapError(KindInternal, err, "load required files for step %s", step.ID)
	}
	required := RequiredModalities(files)

	candidates := filterByModality(models, required)
	candidates = filterByCapabilities(candidates, step.Normal.RequiredCapabilities)
	if len(candidates) == 0 {
		return ModelEvaluation{}, NewError(KindNoSuitableModel, "no cached model satisfies step %s's required modalities and capabilities", step.ID)
	}

	ids := make([]string, len(candidates))
	for i, m := range candidates {
		ids[i] = m.ID
	}
	inferences, err := s.scorer.GetInferences(ctx, ids, prompt, s.batchSize)
	if err != nil {
		return ModelEvaluation{}, WrapError(KindModelScoringUnavailable, err, "scoring service call failed for step %s", step.ID)
	}
	byID := make(map[string]scoring.Inference, len(inferences))
	for _, inf := range inferences {
		byID[inf.ModelID] = inf
	}

	cfg := DeriveConfig(step.Normal.RequiredCapabilities)
	promptTokens := len(prompt) / 4

	type candidateEval struct {
		model ModelDescription
		score float64
		cost  float64
		pred  int
	}
	evals := make([]candidateEval, 0, len(candidates))
	for _, m := range candidates {
		inf, ok := byID[m.ID]
		if !ok {
			continue
		}
		cost := EstimateCost(m, promptTokens, int(inf.PredictedLength), files, cfg)
		evals = append(evals, candidateEval{model: m, score: inf.Score, cost: cost, pred: int(inf.PredictedLength)})
	}
	if len(evals) == 0 {
		return ModelEvaluation{}, NewError(KindNoSuitableModel, "scoring service returned no usable candidates for step %s", step.ID)
	}

	scores := make([]float64, len(evals))
	costs := make([]float64, len(evals))
	for i, e := range evals {
		scores[i] = e.score
		costs[i] = e.cost
	}
	scoreMean, scoreStd := meanStd(scores)
	costMean, costStd := meanStd(costs)
	normCosts := make([]float64, len(costs))
	for i, c := range costs {
		normCosts[i] = zScore(c, costMean, costStd)
	}
	medianNormCost := median(normCosts)

	var best *candidateEval
	var bestRatio float64
	for i := range evals {
		e := &evals[i]
		normScore := zScore(e.score, scoreMean, scoreStd)
		normCost := normCosts[i]
		if normCost > zOutlierCostMultiplier*medianNormCost+costZeroEpsilon {
			continue
		}
		if normScore < zOutlierScoreFloor {
			continue
		}
		ratio := e.score / math.Sqrt(e.cost+costZeroEpsilon)
		if best == nil || ratio > bestRatio {
			best = e
			bestRatio = ratio
		}
	}
	if best == nil {
		return ModelEvaluation{}, NewError(KindNoSuitableModel, "every candidate for step %s was rejected as a cost/score outlier", step.ID)
	}

	return ModelEvaluation{
		ModelID:         best.model.ID,
		Score:           best.score,
		PredictedLength: best.pred,
		EstimatedCost:   best.cost,
	}, nil
}

func filterByModality(models []ModelDescription, required []Modality) []ModelDescription {
	if len(required) == 0 {
		return models
	}
	var out []ModelDescription
	for _, m := range models {
		ok := true
		for _, mod := range required {
			if !m.SupportsModality(mod) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, m)
		}
	}
	return out
}

func filterByCapabilities(models []ModelDescription, caps []Capability) []ModelDescription {
	out := models
	for _, c := range caps {
		switch c {
		case CapReasoning:
			out = filterFunc(out, func(m ModelDescription) bool { return m.SupportsReasoning })
		case CapNativeWebSearch:
			out = filterFunc(out, func(m ModelDescription) bool { return m.SupportsNativeWebSearch })
		case CapNativePdf:
			out = filterFunc(out, func(m ModelDescription) bool { return m.SupportsModality(ModalityFile) })
		// exa_search, ocr_pdf, text_pdf do not restrict the candidate set.
		case CapExaSearch, CapOCRPdf, CapTextPdf:
		}
	}
	return out
}

func filterFunc(models []ModelDescription, keep func(ModelDescription) bool) []ModelDescription {
	var out []ModelDescription
	for _, m := range models {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}

func zScore(x, mean, std float64) float64 {
	if std == 0 {
		return 0
	}
	return (x - mean) / std
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
