package patterns

import (
	"math"
	"sort"
	"strings"
)

const (
	industryPoints = 30
	personaPoints  = 20
	keywordPoints  = 10
	driverPoints   = 5

	// Score at which confidence saturates at 1.
	scoreCeiling = 100

	// Secondary matches must score at least this share of the top score to be
	// folded into the recommendation.
	nearMatchRatio = 0.75
	maxAggregated  = 3
	maxKPIs        = 8
)

type Match struct {
	Pattern    ValuePattern `json:"pattern"`
	Score      int          `json:"score"`
	Confidence float64      `json:"confidence"`
}

// Recommendation is the outcome of Best: one aggregated pattern plus the ids
// of the library patterns that formed it.
type Recommendation struct {
	Pattern    ValuePattern `json:"pattern"`
	MatchedIDs []string     `json:"matched_ids"`
	Score      int          `json:"score"`
	Confidence float64      `json:"confidence"`
	Fallback   bool         `json:"fallback"`
}

// Match scores every pattern against the free-form context. Patterns scoring
// zero are omitted; ties keep declaration order.
func (l *Library) Match(industry, persona, problem string) []Match {
	industry = normalize(industry)
	persona = normalize(persona)
	problem = normalize(problem)

	out := make([]Match, 0, len(l.patterns))
	for _, p := range l.patterns {
		score := l.score(p, industry, persona, problem)
		if score == 0 {
			continue
		}
		out = append(out, Match{Pattern: p, Score: score, Confidence: confidence(score)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Best returns the top match aggregated with its near matches, or the
// fallback pattern when nothing scores.
func (l *Library) Best(industry, persona, problem string) Recommendation {
	matches := l.Match(industry, persona, problem)
	if len(matches) == 0 {
		fb := l.Fallback()
		return Recommendation{Pattern: fb, MatchedIDs: []string{fb.ID}, Fallback: true}
	}
	top := matches[0]
	threshold := float64(top.Score) * nearMatchRatio
	picked := []ValuePattern{top.Pattern}
	ids := []string{top.Pattern.ID}
	for _, m := range matches[1:] {
		if len(picked) == maxAggregated {
			break
		}
		if float64(m.Score) < threshold {
			break
		}
		picked = append(picked, m.Pattern)
		ids = append(ids, m.Pattern.ID)
	}
	return Recommendation{
		Pattern:    Aggregate(picked),
		MatchedIDs: ids,
		Score:      top.Score,
		Confidence: top.Confidence,
	}
}

func (l *Library) score(p ValuePattern, industry, persona, problem string) int {
	score := 0
	if industry != "" {
		for _, tag := range p.IndustryTags {
			if overlaps(industry, tag) {
				score += industryPoints
			}
		}
	}
	if persona != "" {
		for _, tag := range p.PersonaTags {
			if overlaps(persona, tag) {
				score += personaPoints
			}
		}
		for _, tag := range p.FunctionTags {
			if overlaps(persona, tag) {
				score += personaPoints
			}
		}
	}
	if problem != "" {
		for _, kw := range p.ProblemKeywords {
			kw = normalize(kw)
			if kw != "" && strings.Contains(problem, kw) {
				score += keywordPoints
			}
		}
		for _, word := range l.driverWords(p) {
			if strings.Contains(problem, word) {
				score += driverPoints
			}
		}
	}
	return score
}

// driverWords lists the distinct significant words of the pattern's driver
// names.
func (l *Library) driverWords(p ValuePattern) []string {
	if l.catalog == nil {
		return nil
	}
	var words []string
	seen := map[string]bool{}
	for _, id := range p.Drivers.All() {
		d, ok := l.catalog.Get(id)
		if !ok {
			continue
		}
		for _, w := range strings.Fields(normalize(d.Name)) {
			if len(w) < 4 || seen[w] {
				continue
			}
			seen[w] = true
			words = append(words, w)
		}
	}
	return words
}

// Aggregate folds several patterns into one. Drivers and KPIs are unioned in
// first-seen order, splits are averaged then rescaled to 100, and the ROI
// range widens to cover every input.
func Aggregate(ps []ValuePattern) ValuePattern {
	switch len(ps) {
	case 0:
		return ValuePattern{}
	case 1:
		return ps[0]
	}

	var (
		ids, names     []string
		primary, sec   []string
		kpis           []string
		split          ValueSplit
		paybackSum     int
		industry, pers []string
		funcs, kws     []string
	)
	roi := ROIRange{Min: math.Inf(1), Max: math.Inf(-1)}
	for _, p := range ps {
		ids = append(ids, p.ID)
		names = append(names, p.Name)
		primary = union(primary, p.Drivers.Primary)
		sec = union(sec, p.Drivers.Secondary)
		kpis = union(kpis, p.KPIs)
		industry = union(industry, p.IndustryTags)
		pers = union(pers, p.PersonaTags)
		funcs = union(funcs, p.FunctionTags)
		kws = union(kws, p.ProblemKeywords)
		split.Revenue += p.ValueSplit.Revenue
		split.Cost += p.ValueSplit.Cost
		split.Risk += p.ValueSplit.Risk
		roi.Min = math.Min(roi.Min, p.ROIRange.Min)
		roi.Max = math.Max(roi.Max, p.ROIRange.Max)
		paybackSum += p.ROIRange.PaybackMonths
	}
	n := float64(len(ps))
	split = ValueSplit{Revenue: split.Revenue / n, Cost: split.Cost / n, Risk: split.Risk / n}
	if total := split.Total(); total > 0 {
		split = ValueSplit{
			Revenue: split.Revenue * 100 / total,
			Cost:    split.Cost * 100 / total,
			Risk:    split.Risk * 100 / total,
		}
	}
	roi.PaybackMonths = int(math.Round(float64(paybackSum) / n))

	// A driver promoted to primary by any pattern is not repeated as secondary.
	secondary := make([]string, 0, len(sec))
	inPrimary := map[string]bool{}
	for _, id := range primary {
		inPrimary[id] = true
	}
	for _, id := range sec {
		if !inPrimary[id] {
			secondary = append(secondary, id)
		}
	}
	if len(kpis) > maxKPIs {
		kpis = kpis[:maxKPIs]
	}

	return ValuePattern{
		ID:              strings.Join(ids, "+"),
		Name:            strings.Join(names, " / "),
		IndustryTags:    industry,
		PersonaTags:     pers,
		FunctionTags:    funcs,
		ProblemKeywords: kws,
		Drivers:         DriverIDs{Primary: primary, Secondary: secondary},
		ValueSplit:      split,
		KPIs:            kpis,
		ROIRange:        roi,
	}
}

func confidence(score int) float64 {
	return math.Min(float64(score)/scoreCeiling, 1)
}

// overlaps reports case-insensitive containment in either direction.
func overlaps(text, tag string) bool {
	tag = normalize(tag)
	if tag == "" || text == "" {
		return false
	}
	return strings.Contains(text, tag) || strings.Contains(tag, text)
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}
