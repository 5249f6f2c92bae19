package domain

import (
	"fmt"
	"strings"
)

type Verdict string

const (
	Pass Verdict = "PASS"
	Fail Verdict = "FAIL"
)

func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass":
		return Pass, nil
	case "fail":
		return Fail, nil
	}
	return "", fmt.Errorf("invalid review result %q (want pass or fail)", s)
}

// ReviewKind selects which of the two task reviews is written.
type ReviewKind string

const (
	SpecReview    ReviewKind = "spec"
	QualityReview ReviewKind = "quality"
)

func ParseReviewKind(s string) (ReviewKind, error) {
	switch k := ReviewKind(strings.ToLower(strings.TrimSpace(s))); k {
	case SpecReview, QualityReview:
		return k, nil
	}
	return "", fmt.Errorf("invalid review type %q (want spec or quality)", s)
}

// ReviewSource records who produced a review.
type ReviewSource string

const (
	SourceManual ReviewSource = "manual"
	SourceAuto   ReviewSource = "auto"
)

// Review is a PASS or FAIL verdict with free-text feedback.
// It is stored as "PASS: feedback" / "FAIL: feedback".
type Review struct {
	Verdict  Verdict `json:"verdict" enum:"PASS,FAIL"`
	Feedback string  `json:"feedback,omitempty"`
}

func PassReview(feedback string) Review { return Review{Verdict: Pass, Feedback: strings.TrimSpace(feedback)} }
func FailReview(feedback string) Review { return Review{Verdict: Fail, Feedback: strings.TrimSpace(feedback)} }

func (r Review) String() string {
	if r.Feedback == "" {
		return string(r.Verdict) + ":"
	}
	return string(r.Verdict) + ": " + r.Feedback
}

// ParseReview decodes stored review text. ok is false when the text carries
// neither prefix.
func ParseReview(text string) (Review, bool) {
	for _, v := range []Verdict{Pass, Fail} {
		if rest, found := strings.CutPrefix(text, string(v)); found {
			rest = strings.TrimPrefix(rest, ":")
			return Review{Verdict: v, Feedback: strings.TrimSpace(rest)}, true
		}
	}
	return Review{}, false
}
