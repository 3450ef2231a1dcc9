package scoring

import "math"

// FallbackFeedback is returned for a bucket outside the feedback table.
const FallbackFeedback = "No answers submitted or score unavailable."

var feedbackTable = [11]string{
	"No correct answers this time. Review the lesson material and try again.",
	"You got a start. Go back over the lessons and focus on the basics.",
	"A few answers are right. Keep practising with the flashcards.",
	"You are making progress. Revisit the topics you missed.",
	"Getting there. A bit more review will make a real difference.",
	"Halfway there. Your understanding is taking shape.",
	"Good work. You have a solid grasp of most of the material.",
	"Very good. Only a few gaps left to close.",
	"Great job. You clearly understand this topic well.",
	"Excellent. You are close to full mastery.",
	"Outstanding! Full mastery of the material.",
}

// BucketFor maps a score to its feedback bucket: floor(score) clamped to [0, 10].
func BucketFor(score float64) int {
	if math.IsNaN(score) {
		return 0
	}
	b := math.Floor(score)
	switch {
	case b < 0:
		return 0
	case b > 10:
		return 10
	}
	return int(b)
}

// FeedbackFor returns the feedback text for a bucket.
func FeedbackFor(bucket int) string {
	if bucket < 0 || bucket >= len(feedbackTable) {
		return FallbackFeedback
	}
	return feedbackTable[bucket]
}
