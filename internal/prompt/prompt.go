// Package prompt renders the instruction text the agent receives alongside
// its structured context document.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/egv/autoclaude/internal/contracts"
)

type payloadDetails struct {
	Issue struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"issue"`
	Comment struct {
		Body string `json:"body"`
	} `json:"comment"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Build renders the skill-specific instructions. Unknown payload shapes
// degrade to the bare skill description; the agent still gets the raw
// context document either way.
func Build(skill contracts.Skill, agentCtx contracts.AgentContext) string {
	var details payloadDetails
	_ = json.Unmarshal(agentCtx.Payload, &details)

	repo := details.Repository.FullName
	if repo == "" {
		repo = agentCtx.Repository
	}

	switch skill {
	case contracts.SkillResolveIssue:
		var b strings.Builder
		fmt.Fprintf(&b, "Resolve issue #%d", issueNumber(agentCtx, details))
		if repo != "" {
			fmt.Fprintf(&b, " in %s", repo)
		}
		b.WriteString(".\n")
		if details.Issue.Title != "" {
			fmt.Fprintf(&b, "\n**Title:** %s\n", details.Issue.Title)
		}
		if details.Issue.Body != "" {
			fmt.Fprintf(&b, "\n**Description:**\n%s\n", details.Issue.Body)
		}
		b.WriteString(`
You are working in an isolated git worktree on a dedicated branch.
Make the smallest change that resolves the issue, with tests.
Do not commit, push, or open pull requests; leave changes in the tree.
`)
		return b.String()
	case contracts.SkillRespondComment:
		var b strings.Builder
		fmt.Fprintf(&b, "A comment was added to issue #%d", issueNumber(agentCtx, details))
		if repo != "" {
			fmt.Fprintf(&b, " in %s", repo)
		}
		b.WriteString(".\n")
		if details.Comment.Body != "" {
			fmt.Fprintf(&b, "\n**Comment:**\n%s\n", details.Comment.Body)
		}
		b.WriteString(`
Address the comment in the working tree if it requests a change; otherwise
summarize what, if anything, needs to happen. Do not commit or push.
`)
		return b.String()
	default:
		return fmt.Sprintf("Perform skill %q for event %s. No further instructions.", skill, agentCtx.EventType)
	}
}

func issueNumber(agentCtx contracts.AgentContext, details payloadDetails) int {
	if agentCtx.IssueNumber != nil {
		return *agentCtx.IssueNumber
	}
	return details.Issue.Number
}
