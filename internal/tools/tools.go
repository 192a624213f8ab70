// Package tools registers the MCP tool surface: gated SQL execution,
// read-only introspection, and query history.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"sqlgate/internal/catalog"
	"sqlgate/internal/domain"
	"sqlgate/internal/gate"
)

// HistoryLister reads query history. Implemented by
// repository.QueryHistoryRepo; nil when the history store is unavailable.
type HistoryLister interface {
	List(ctx context.Context, filter domain.QueryHistoryFilter) ([]domain.QueryHistoryEntry, error)
}

// Deps are the services the tool handlers call into.
type Deps struct {
	Gate    *gate.Gate
	Catalog *catalog.Service
	History HistoryLister
	Logger  *slog.Logger
}

// Register adds every tool to the server. Gate outcomes
// (BLOCKED/AWAITING_CONFIRMATION/EXPIRED) are ordinary tool results; only
// validation and execution failures become IsError results.
func Register(server *mcp.Server, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mcp.AddTool(server, &mcp.Tool{
		Name: "execute_sql",
		Description: "Execute a SQL statement. Read statements run immediately; " +
			"write statements are risk-classified and require confirmation via confirm_execution.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in executeSQLInput) (*mcp.CallToolResult, any, error) {
		res, err := deps.Gate.ProposeQuery(ctx, in.SQL)
		if err != nil {
			return errorResult(logger, "execute_sql", err), nil, nil
		}
		return jsonResult(res), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name: "execute_procedure",
		Description: "Execute a stored procedure with named parameters. Procedures whose names " +
			"indicate read intent run immediately; all others require confirmation.",
		InputSchema: executeProcedureSchema(),
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in executeProcedureInput) (*mcp.CallToolResult, any, error) {
		name := in.Procedure
		if in.Schema != "" {
			name = in.Schema + "." + in.Procedure
		}
		res, err := deps.Gate.ProposeProcedure(ctx, name, in.Parameters)
		if err != nil {
			return errorResult(logger, "execute_procedure", err), nil, nil
		}
		return jsonResult(res), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name: "confirm_execution",
		Description: "Confirm and execute a previously proposed operation using its confirmation token. " +
			"Tokens are single-use and expire after 5 minutes.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in confirmInput) (*mcp.CallToolResult, any, error) {
		res, err := deps.Gate.ConfirmAndExecute(ctx, in.Token)
		if err != nil {
			return errorResult(logger, "confirm_execution", err), nil, nil
		}
		return jsonResult(res), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_security_status",
		Description: "Report the current security posture: feature flags, derived security level, and recommendations.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		return jsonResult(deps.Gate.SecurityStatus()), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_tables",
		Description: "List base tables, optionally restricted to one schema.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in schemaInput) (*mcp.CallToolResult, any, error) {
		tables, err := deps.Catalog.ListTables(ctx, in.Schema)
		if err != nil {
			return errorResult(logger, "list_tables", err), nil, nil
		}
		return jsonResult(tables), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "describe_table",
		Description: "Describe a table: columns, primary key, and foreign keys.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in tableInput) (*mcp.CallToolResult, any, error) {
		details, err := deps.Catalog.DescribeTable(ctx, in.Schema, in.Table)
		if err != nil {
			return errorResult(logger, "describe_table", err), nil, nil
		}
		return jsonResult(details), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_data",
		Description: "Preview rows from a table. The row limit is clamped to the configured cap.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in readDataInput) (*mcp.CallToolResult, any, error) {
		result, err := deps.Catalog.PreviewData(ctx, in.Schema, in.Table, in.Limit)
		if err != nil {
			return errorResult(logger, "read_data", err), nil, nil
		}
		return jsonResult(result), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_objects",
		Description: "Search table, column, and procedure names. Type may be table, column, or procedure.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in searchInput) (*mcp.CallToolResult, any, error) {
		results, err := deps.Catalog.SearchObjects(ctx, in.Pattern, in.Type)
		if err != nil {
			return errorResult(logger, "search_objects", err), nil, nil
		}
		return jsonResult(results), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_procedures",
		Description: "List stored procedures, optionally restricted to one schema.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in schemaInput) (*mcp.CallToolResult, any, error) {
		procs, err := deps.Catalog.ListProcedures(ctx, in.Schema)
		if err != nil {
			return errorResult(logger, "list_procedures", err), nil, nil
		}
		return jsonResult(procs), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "describe_procedure",
		Description: "Describe a stored procedure's parameters.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in procedureInput) (*mcp.CallToolResult, any, error) {
		details, err := deps.Catalog.DescribeProcedure(ctx, in.Schema, in.Procedure)
		if err != nil {
			return errorResult(logger, "describe_procedure", err), nil, nil
		}
		return jsonResult(details), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_query_history",
		Description: "List executed statements, newest first. Status may be SUCCESS or FAILED.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in historyInput) (*mcp.CallToolResult, any, error) {
		if deps.History == nil {
			return errorResult(logger, "list_query_history",
				errors.New("query history is not available on this server")), nil, nil
		}
		filter := domain.QueryHistoryFilter{Limit: in.Limit}
		if in.Status != "" {
			status := in.Status
			filter.Status = &status
		}
		entries, err := deps.History.List(ctx, filter)
		if err != nil {
			return errorResult(logger, "list_query_history", err), nil, nil
		}
		return jsonResult(entries), nil, nil
	})
}

type executeSQLInput struct {
	SQL string `json:"sql" jsonschema:"the SQL statement to execute"`
}

type executeProcedureInput struct {
	Schema     string         `json:"schema,omitempty"`
	Procedure  string         `json:"procedure"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type confirmInput struct {
	Token string `json:"token" jsonschema:"the confirmation token returned by a pending proposal"`
}

type schemaInput struct {
	Schema string `json:"schema,omitempty" jsonschema:"schema name; all schemas when omitted"`
}

type tableInput struct {
	Schema string `json:"schema,omitempty" jsonschema:"schema name (default dbo)"`
	Table  string `json:"table" jsonschema:"table name"`
}

type readDataInput struct {
	Schema string `json:"schema,omitempty" jsonschema:"schema name (default dbo)"`
	Table  string `json:"table" jsonschema:"table name"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum rows to return"`
}

type searchInput struct {
	Pattern string `json:"pattern" jsonschema:"substring to search for in object names"`
	Type    string `json:"type,omitempty" jsonschema:"restrict to table, column, or procedure"`
}

type procedureInput struct {
	Schema    string `json:"schema,omitempty" jsonschema:"schema name (default dbo)"`
	Procedure string `json:"procedure" jsonschema:"procedure name"`
}

type historyInput struct {
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum entries to return (default 50)"`
	Status string `json:"status,omitempty" jsonschema:"filter by SUCCESS or FAILED"`
}

// executeProcedureSchema spells out the input schema because the parameters
// map needs an explicit additionalProperties; inference would leave it
// unconstrained in the wrong direction.
func executeProcedureSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"schema": {
				Type:        "string",
				Description: "schema name (default dbo)",
			},
			"procedure": {
				Type:        "string",
				Description: "stored procedure name",
			},
			"parameters": {
				Type:                 "object",
				Description:          "named parameters passed to the procedure",
				AdditionalProperties: &jsonschema.Schema{},
			},
		},
		Required: []string{"procedure"},
	}
}

// jsonResult marshals v as indented JSON text content.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("encode result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// errorResult converts a service error into a tool result with IsError set;
// tool failures are never protocol errors.
func errorResult(logger *slog.Logger, tool string, err error) *mcp.CallToolResult {
	var vErr *domain.ValidationError
	var nfErr *domain.NotFoundError
	switch {
	case errors.As(err, &vErr), errors.As(err, &nfErr):
		// Caller mistakes are expected; keep the log quiet.
		logger.Debug("tool rejected input", "tool", tool, "error", err)
	default:
		logger.Error("tool failed", "tool", tool, "error", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}
