package analysis

import (
	"fmt"
	"strings"
)

// Contract is the fixed agreement between the system prompt and the parser:
// which "## " headings the model must produce, what to show when the model is
// unreachable, and which sections are surfaced as top-level result fields.
//
// A deployment runs with exactly one contract.
type Contract struct {
	// Name identifies the contract in configuration ("interview", "followup").
	Name string

	// SystemPrompt is sent as the system instruction on every request.
	SystemPrompt string

	// Headings lists the required section headings in canonical order, without
	// the "## " marker.
	Headings []string

	// Fallback is the pre-authored analysis returned when the model call fails.
	Fallback string

	// Fields maps result field names to section keys.
	Fields map[string]string
}

// HeadingKeys returns the normalized section keys of c.Headings.
func (c Contract) HeadingKeys() []string {
	keys := make([]string, len(c.Headings))
	for i, h := range c.Headings {
		keys[i] = NormalizeKey(h)
	}
	return keys
}

// DerivedFields picks the contract's named fields out of sections. Fields
// whose section is absent map to the empty string.
func (c Contract) DerivedFields(sections map[string]string) map[string]string {
	out := make(map[string]string, len(c.Fields))
	for field, key := range c.Fields {
		out[field] = sections[key]
	}
	return out
}

const (
	ContractInterview = "interview"
	ContractFollowUp  = "followup"
)

// InterviewContract drives a question-by-question interview: critique of the
// previous answer, then the next question and what a good answer contains.
var InterviewContract = Contract{
	Name: ContractInterview,
	SystemPrompt: `You are an AI-powered technical interview evaluator.
Your task is to:
1. Analyze the candidate's response to the previous question
2. Evaluate their technical knowledge and communication skills
3. Generate a relevant follow-up question based on their answer
4. Provide an expected answer for the follow-up question
5. Provide feedback in a structured format

Format your response in markdown with the following sections:
## Analysis of Previous Answer
- Key points from the answer
- Technical accuracy
- Communication clarity

## Evaluation
- Strengths
- Areas for improvement
- Technical depth

## Next Question
- Provide one clear, concise follow-up question

## Expected Answer
- Detailed explanation of what a good answer to the next question should include
- Key technical points that should be mentioned
- Common misconceptions to avoid

Keep the tone professional and constructive.`,
	Headings: []string{"Analysis of Previous Answer", "Evaluation", "Next Question", "Expected Answer"},
	Fallback: `## Analysis of Previous Answer
- The candidate outlined the difference between monolithic and microservices architectures
- They identified a monolith as a single deployable unit sharing one codebase and database
- They described microservices as small, independently deployable services communicating over APIs

## Evaluation
- Strengths: Clear grasp of the basic architectural trade-offs
- Areas for improvement: Scaling, data ownership and failure isolation were only touched on
- Technical depth: Intermediate

## Next Question
- How would you keep data consistent across services when a single business operation spans several of them?

## Expected Answer
- Explain why distributed transactions (two-phase commit) are usually avoided between services
- Describe the saga pattern with compensating actions, choreographed or orchestrated
- Mention the transactional outbox and idempotent consumers for reliable event publishing
- Acknowledge eventual consistency and how the user experience accounts for it
- Common misconception: sharing one database between services solves consistency without cost`,
	Fields: map[string]string{
		"previous_analysis": "analysis_of_previous_answer",
		"evaluation":        "evaluation",
		"next_question":     "next_question",
		"expected_answer":   "expected_answer",
	},
}

// FollowUpContract produces a critique plus several follow-up questions
// rather than a single next question.
var FollowUpContract = Contract{
	Name: ContractFollowUp,
	SystemPrompt: `You are an AI-powered technical interview evaluator.
Your task is to:
1. Analyze the candidate's response
2. Evaluate their technical knowledge and communication skills
3. Generate relevant follow-up questions based on their answer
4. Provide feedback in a structured format

Format your response in markdown with the following sections:
## Analysis
- Key points from the answer
- Technical accuracy
- Communication clarity

## Evaluation
- Strengths
- Areas for improvement
- Technical depth

## Follow-up Questions
- 2-3 relevant technical questions to dig deeper
- Focus on areas that need clarification

Keep the tone professional and constructive. ENSURE ALL THREE SECTIONS (Analysis, Evaluation, and Follow-up Questions) ARE INCLUDED IN YOUR RESPONSE.`,
	Headings: []string{"Analysis", "Evaluation", "Follow-up Questions"},
	Fallback: `## Analysis
- The candidate provided a clear overview of the differences between monolithic and microservices architectures
- They correctly identified that monolithic architectures are single, unified applications
- They mentioned microservices are composed of smaller, independent services that communicate via APIs

## Evaluation
- Strengths: Good understanding of basic architectural concepts
- Areas for improvement: Could have discussed scaling considerations in more depth
- Technical depth: Intermediate level understanding demonstrated

## Follow-up Questions
- How would you handle data consistency challenges in a microservices architecture?
- Can you describe a scenario where you would choose monolithic over microservices?
- What monitoring and observability considerations are important for microservices?`,
	Fields: map[string]string{
		"previous_analysis":   "analysis",
		"evaluation":          "evaluation",
		"follow_up_questions": "follow-up_questions",
	},
}

// Contracts lists the built-in contracts by name.
var Contracts = map[string]Contract{
	ContractInterview: InterviewContract,
	ContractFollowUp:  FollowUpContract,
}

// ContractByName looks up a built-in contract. The empty name selects
// [InterviewContract].
func ContractByName(name string) (Contract, error) {
	if name == "" {
		return InterviewContract, nil
	}
	c, ok := Contracts[strings.ToLower(name)]
	if !ok {
		return Contract{}, fmt.Errorf("analysis: unknown contract %q; valid values: %s, %s", name, ContractInterview, ContractFollowUp)
	}
	return c, nil
}
