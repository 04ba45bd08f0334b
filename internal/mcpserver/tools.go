package mcpserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchsmith/internal/artifact"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

var artifactNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

type processIssueInput struct {
	Owner  string   `json:"owner" jsonschema:"required,Repository owner"`
	Repo   string   `json:"repo" jsonschema:"required,Repository name"`
	Number int      `json:"number" jsonschema:"required,Issue number"`
	Title  string   `json:"title" jsonschema:"required,Issue title"`
	Body   string   `json:"body" jsonschema:"Issue body text"`
	Labels []string `json:"labels,omitempty" jsonschema:"Issue labels"`
}

type processIssueOutput struct {
	RunID    string  `json:"run_id"`
	State    string  `json:"state"`
	Records  int     `json:"records"`
	Tokens   int     `json:"tokens"`
	USD      float64 `json:"usd"`
	FailedOn string  `json:"failed_on,omitempty"`
}

type listRunsInput struct{}

type listRunsOutput struct {
	Runs []artifact.RunSummary `json:"runs"`
}

type getRunInput struct {
	RunID string `json:"run_id" jsonschema:"required,Run identifier"`
}

type getRunOutput struct {
	Run *run.Context `json:"run"`
}

type readArtifactInput struct {
	RunID string `json:"run_id" jsonschema:"required,Run identifier"`
	Name  string `json:"name" jsonschema:"required,Artifact file name, e.g. plan.md or patch.diff"`
}

type readArtifactOutput struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "process_issue",
		Description: "Run an issue through the full fix pipeline and report the terminal state",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args processIssueInput) (*mcp.CallToolResult, processIssueOutput, error) {
		if args.Owner == "" || args.Repo == "" || args.Number <= 0 {
			return nil, processIssueOutput{}, fmt.Errorf("owner, repo and a positive issue number are required")
		}
		if args.Title == "" {
			return nil, processIssueOutput{}, fmt.Errorf("title is required")
		}

		issue := run.Issue{
			Owner:  args.Owner,
			Repo:   args.Repo,
			Number: args.Number,
			Title:  args.Title,
			Body:   args.Body,
			Labels: args.Labels,
		}
		rc, err := s.processor.Process(ctx, issue)
		if err != nil {
			return nil, processIssueOutput{}, fmt.Errorf("run failed: %w", err)
		}

		s.log.Info(ctx, "mcp run finished",
			zap.String("run_id", rc.ID),
			zap.String("state", string(rc.State)))

		return nil, processIssueOutput{
			RunID:    rc.ID,
			State:    string(rc.State),
			Records:  len(rc.Records),
			Tokens:   rc.Cost.Tokens(),
			USD:      rc.Cost.USD,
			FailedOn: rc.FirstError,
		}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_runs",
		Description: "List all recorded runs with their terminal states and costs",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listRunsInput) (*mcp.CallToolResult, listRunsOutput, error) {
		summaries, err := s.store.Summarize()
		if err != nil {
			return nil, listRunsOutput{}, fmt.Errorf("failed to list runs: %w", err)
		}
		return nil, listRunsOutput{Runs: summaries}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_run",
		Description: "Fetch one run's full context: state, stage records, costs",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args getRunInput) (*mcp.CallToolResult, getRunOutput, error) {
		runDir, err := s.store.RunDir(args.RunID)
		if err != nil {
			return nil, getRunOutput{}, fmt.Errorf("run not found: %w", err)
		}
		rc, err := artifact.LoadContext(runDir)
		if err != nil {
			return nil, getRunOutput{}, fmt.Errorf("failed to load run: %w", err)
		}
		return nil, getRunOutput{Run: rc}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "read_artifact",
		Description: "Read one artifact file from a run, e.g. plan.md, patch.diff, report.md",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args readArtifactInput) (*mcp.CallToolResult, readArtifactOutput, error) {
		if !artifactNamePattern.MatchString(args.Name) {
			return nil, readArtifactOutput{}, fmt.Errorf("invalid artifact name %q", args.Name)
		}
		runDir, err := s.store.RunDir(args.RunID)
		if err != nil {
			return nil, readArtifactOutput{}, fmt.Errorf("run not found: %w", err)
		}
		data, err := os.ReadFile(filepath.Join(runDir, args.Name))
		if err != nil {
			return nil, readArtifactOutput{}, fmt.Errorf("artifact not found: %w", err)
		}
		return nil, readArtifactOutput{Name: args.Name, Content: string(data)}, nil
	})
}
