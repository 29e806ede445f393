package models

// IntakeQuestion is one item of the interviewer-generated questionnaire.
type IntakeQuestion struct {
	ID     string `json:"id"`
	Q      string `json:"q"`
	Sample string `json:"sample,omitempty"`
}

// RFPRequirement is one extracted requirement line item from an uploaded
// RFP document, numbered for traceability back into the source text.
type RFPRequirement struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Priority   string `json:"priority,omitempty"`
	SectionRef string `json:"section_ref,omitempty"`
}

// RFPAnalysis is the RFP-analyze stage's output: an inferred title/audience
// plus the requirements and clarifying questions a planner needs before it
// can outline a response document. Questions reuse IntakeQuestion's shape
// so submit_answers and intake-resume treat an RFP-seeded job identically
// to an interview-seeded one.
type RFPAnalysis struct {
	Title        string           `json:"title"`
	Audience     string           `json:"audience"`
	Summary      string           `json:"summary"`
	Requirements []RFPRequirement `json:"requirements"`
	Questions    []IntakeQuestion `json:"questions"`
}

// IntakeContext is the deterministic merge of title, audience, cycles and
// answers that the planner reads. It must never contain timestamps, so that
// re-running intake-resume with identical answers produces a
// byte-identical context.
type IntakeContext struct {
	Title    string            `json:"title"`
	Audience string            `json:"audience"`
	Cycles   int               `json:"cycles"`
	Answers  map[string]string `json:"answers"`
}
