package llm

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/patchsmith/internal/agent"
	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
)

func systemPrompt(stage pipeline.Stage) string {
	switch stage {
	case pipeline.StageIntelligence:
		return "You are a software issue analyst. Read the issue and any repository context, " +
			"then produce a JSON object with fields: summary (string), category (bug|feature|refactor|docs), " +
			"affected_areas (array of likely file or package names), reproduction (string or null), " +
			"and confidence (0-1). Output only the JSON object."
	case pipeline.StageImpact:
		return "You are an impact assessor. Given an issue and its intelligence analysis, produce a " +
			"JSON object with fields: blast_radius (low|medium|high), files (array of paths likely to change), " +
			"risks (array of strings), tests_affected (array of strings), and breaking_change (bool). " +
			"Output only the JSON object."
	case pipeline.StagePlanning:
		return "You are a fix planner. Produce a concise markdown plan with numbered steps. Each step " +
			"names the file to change and describes the change. Keep the plan minimal: the smallest fix " +
			"that resolves the issue. Do not write code."
	case pipeline.StageGeneration:
		return "You are a patch generator. Implement the plan as a single unified diff against the " +
			"repository. Output only the diff inside a ```diff fence. Use a/ and b/ path prefixes. " +
			"Do not touch files the plan does not name."
	case pipeline.StageReview:
		return "You are a code reviewer. Review the patch against the issue and the plan. Produce a " +
			"markdown review with sections Verdict (approve or request-changes), Findings, and Risk. " +
			"Flag anything destructive, any path outside the repository, and any secret-like content."
	case pipeline.StageValidation:
		return "You are a validation reporter. Given a patch, its review, and test results, produce a " +
			"JSON object with fields: verdict (pass|fail), tests_passed (bool), review_clean (bool), " +
			"and notes (array of strings). Output only the JSON object."
	}
	return "You are a software engineering assistant."
}

func userPrompt(stage pipeline.Stage, in agent.Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Issue %s: %s\n\n%s\n", in.Issue.Coordinate(), in.Issue.Title, in.Issue.Body)
	if len(in.Issue.Labels) > 0 {
		fmt.Fprintf(&b, "\nLabels: %s\n", strings.Join(in.Issue.Labels, ", "))
	}

	if in.Retrieval != "" {
		b.WriteString("\n## Repository context\n\n")
		b.WriteString(in.Retrieval)
		b.WriteString("\n")
	}

	appendPrior := func(title string, stage pipeline.Stage) {
		if prior := in.Prior(stage); prior != "" {
			fmt.Fprintf(&b, "\n## %s\n\n%s\n", title, prior)
		}
	}

	switch stage {
	case pipeline.StageImpact:
		appendPrior("Intelligence analysis", pipeline.StageIntelligence)
	case pipeline.StagePlanning:
		appendPrior("Intelligence analysis", pipeline.StageIntelligence)
		appendPrior("Impact assessment", pipeline.StageImpact)
	case pipeline.StageGeneration:
		appendPrior("Impact assessment", pipeline.StageImpact)
		appendPrior("Plan", pipeline.StagePlanning)
	case pipeline.StageReview:
		appendPrior("Plan", pipeline.StagePlanning)
		appendPrior("Patch", pipeline.StageGeneration)
	case pipeline.StageValidation:
		appendPrior("Patch", pipeline.StageGeneration)
		appendPrior("Review", pipeline.StageReview)
	}

	return b.String()
}
