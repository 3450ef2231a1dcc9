package scoring

import "math"

// strategy grades one question. ok=false means the question is skipped
// entirely: no credit and no entry in the correctness map.
type strategy interface {
	grade(q Question, sel Selection) (credit float64, correct bool, ok bool)
}

var strategies = map[Kind]strategy{
	KindSingle: singleChoice{},
	KindMulti:  multiSelect{},
}

// Score totals the credit for every question and derives the feedback text.
// It never fails: a missing or mismatched selection earns no credit.
func Score(questions []Question, selections Selections) Result {
	res := Result{Correct: make(map[string]bool, len(questions))}
	total := 0.0
	for _, q := range questions {
		s, ok := strategies[q.Kind]
		if !ok {
			s = singleChoice{}
		}
		credit, correct, graded := s.grade(q, selections[q.ID])
		if !graded {
			continue
		}
		total += credit
		res.Correct[q.ID] = correct
	}
	res.Score = round2(total)
	res.Bucket = BucketFor(res.Score)
	res.Feedback = FeedbackFor(res.Bucket)
	return res
}

type singleChoice struct{}

func (singleChoice) grade(q Question, sel Selection) (float64, bool, bool) {
	chosen := ""
	if s, ok := sel.(Single); ok {
		chosen = s.AnswerID
	}
	if chosen == "" {
		return 0, false, true
	}
	for _, id := range q.CorrectIDs() {
		if id == chosen {
			return 1, true, true
		}
	}
	return 0, false, true
}

type multiSelect struct{}

func (multiSelect) grade(q Question, sel Selection) (float64, bool, bool) {
	correct := toSet(q.CorrectIDs())
	if len(correct) == 0 {
		return 0, false, false
	}
	var chosen map[string]struct{}
	if m, ok := sel.(Multi); ok {
		chosen = toSet(m.IDs())
	} else {
		chosen = map[string]struct{}{}
	}
	hits := 0
	for id := range chosen {
		if _, ok := correct[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(correct)), setEqual(chosen, correct), true
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
