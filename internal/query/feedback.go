package query

import (
	"time"

	"github.com/google/uuid"

	"ctxpack/internal/knowledge"
)

const defaultFeedbackSize = 256

// feedbackNamespace seeds deterministic feedback tokens.
var feedbackNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("ctxpack.feedback"))

// FeedbackContext is what a feedback token refers to.
type FeedbackContext struct {
	Token      string          `json:"token"`
	Query      knowledge.Query `json:"query"`
	PackIDs    []string        `json:"packIds"`
	Confidence float64         `json:"confidence"`
	CacheHit   bool            `json:"cacheHit"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// feedbackToken returns a random token, or a name-based UUID of the cache key
// in deterministic mode.
func feedbackToken(cacheKey string, deterministic bool) string {
	if deterministic {
		return uuid.NewSHA1(feedbackNamespace, []byte(cacheKey)).String()
	}
	return uuid.NewString()
}

func (e *Engine) rememberFeedback(resp *knowledge.Response) {
	if resp.FeedbackToken == "" {
		return
	}
	e.feedback.Add(resp.FeedbackToken, FeedbackContext{
		Token:      resp.FeedbackToken,
		Query:      resp.Query,
		PackIDs:    knowledge.PackIDs(resp.Packs),
		Confidence: resp.Confidence,
		CacheHit:   resp.CacheHit,
		CreatedAt:  e.now(),
	})
}
