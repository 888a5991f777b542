package reasoning

import (
	"context"
	"strings"
)

// CannedClient answers by matching key phrases in the prompt. It backs the
// "canned" reasoning backend so the full pipeline can run offline, and it
// doubles as the scripted happy path in tests.
type CannedClient struct{}

// NewCannedClient creates a CannedClient.
func NewCannedClient() *CannedClient { return &CannedClient{} }

const (
	cannedExtraction = `{
  "patient_id": "1109",
  "symptoms": ["headache", "confusion", "loss of balance"],
  "is_serious": true
}`
	cannedRisk = `{
  "risk_score": 0.9,
  "correlation_reason": "MOCK: 'confusion' and 'loss of balance' are highly correlated with known Serious Event 'Cerebral infarction'.",
  "emergent_cluster_id": "cluster_004_stroke"
}`
	cannedRecommendation = `{
  "recommended_action": "ESCALATE: Immediate protocol review.",
  "reasoning": "MOCK: Risk score 0.9 and symptoms 'confusion' match 'unstable major depressive disorder' exclusion criteria.",
  "audit_trail": "risk_scoring -> recommendation"
}`
)

func (c *CannedClient) Generate(_ context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "Extract all structured data"):
		return cannedExtraction, nil
	case strings.Contains(prompt, "clinical risk analysis specialist"):
		return cannedRisk, nil
	case strings.Contains(prompt, "clinical protocol meta-reasoner"):
		return cannedRecommendation, nil
	}
	return `{"error": "canned response not configured for this prompt"}`, nil
}
