package pipeline

import (
	"strings"

	"coldreach/apperr"
)

// LLM payload schemas. Every model response is validated here before it
// touches the datastore; unknown fields are ignored by encoding/json,
// missing required fields surface as retryable provider failures.

type icpDerivation struct {
	Industries   []string `json:"industries"`
	CompanySizes []string `json:"company_sizes"`
	Titles       []string `json:"titles"`
	Regions      []string `json:"regions"`
	Summary      string   `json:"summary"`
}

func (p *icpDerivation) validate() error {
	if p.Summary == "" {
		return apperr.ProviderFailure("ICP derivation missing summary", true, nil)
	}
	return nil
}

type prospectProfile struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Title     string `json:"title"`
	Website   string `json:"website"`
	Industry  string `json:"industry"`
	Location  string `json:"location"`
	FitScore  int    `json:"fit_score"`
}

type discoveryPayload struct {
	Prospects []prospectProfile `json:"prospects"`
}

func (p *discoveryPayload) validate() error {
	if len(p.Prospects) == 0 {
		return apperr.ProviderFailure("discovery returned no prospects", true, nil)
	}
	for _, pr := range p.Prospects {
		if pr.Email == "" || pr.Company == "" {
			return apperr.ProviderFailure("discovered prospect missing email or company", true, nil)
		}
	}
	return nil
}

type researchPayload struct {
	Summary            string  `json:"summary"`
	RecommendedAngle   string  `json:"recommended_angle"`
	DecisionMakerHints string  `json:"decision_maker_hints"`
	Confidence         float64 `json:"confidence"`
}

func (p *researchPayload) validate() error {
	// Low-confidence research must still produce a summary; an empty one
	// would strand the prospect between stages
	if p.Summary == "" {
		return apperr.ProviderFailure("research missing summary", true, nil)
	}
	return nil
}

type emailDraftPayload struct {
	Subject              string `json:"subject"`
	Body                 string `json:"body"`
	PersonalizationNotes string `json:"personalization_notes"`
	RecipientName        string `json:"recipient_name"`
}

func (p *emailDraftPayload) validate() error {
	if p.Subject == "" || p.Body == "" {
		return apperr.ProviderFailure("email draft missing subject or body", true, nil)
	}
	// Subject bound is a hard contract; the body word bound lives in the
	// prompt. Cut on rune boundaries so a multi-byte character straddling
	// the limit never leaves invalid UTF-8 behind.
	if runes := []rune(p.Subject); len(runes) > 60 {
		p.Subject = strings.TrimSpace(string(runes[:60]))
	}
	return nil
}

type categorizePayload struct {
	Category         string  `json:"category"` // interested, objection, ooo, not_interested, question, spam
	Confidence       float64 `json:"confidence"`
	OOOReturnDate    string  `json:"ooo_return_date,omitempty"` // YYYY-MM-DD
	PrimaryObjection string  `json:"primary_objection,omitempty"`
}

var validCategories = map[string]bool{
	"interested":     true,
	"objection":      true,
	"ooo":            true,
	"not_interested": true,
	"question":       true,
	"spam":           true,
}

func (p *categorizePayload) validate() error {
	if !validCategories[p.Category] {
		return apperr.ProviderFailure("categorizer returned unknown category", true, nil)
	}
	return nil
}

type responseDraftPayload struct {
	Subject         string `json:"subject"`
	Body            string `json:"body"`
	SuggestedAction string `json:"suggested_action"`
}

func (p *responseDraftPayload) validate() error {
	if p.Body == "" {
		return apperr.ProviderFailure("response draft missing body", true, nil)
	}
	return nil
}

type followUpPayload struct {
	Steps []followUpStep `json:"steps"`
}

type followUpStep struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (p *followUpPayload) validate() error {
	if len(p.Steps) < 2 {
		return apperr.ProviderFailure("follow-up generation returned fewer than two steps", true, nil)
	}
	for _, s := range p.Steps {
		if s.Subject == "" || s.Body == "" {
			return apperr.ProviderFailure("follow-up step missing subject or body", true, nil)
		}
	}
	return nil
}
