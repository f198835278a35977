package transformtemplate

import "dynamic-site-maker/internal/models"

type Input struct {
	TemplateData string                  `json:"templateData"`
	Submission   models.SubmissionRecord `json:"submission"`
}

type Output struct {
	TransformedData  string         `json:"transformedData"`
	NodeCount        int            `json:"nodeCount"`
	Rewrites         map[string]int `json:"rewrites"`
	UnresolvedTokens []string       `json:"unresolvedTokens,omitempty"`
}
