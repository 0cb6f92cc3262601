// Package insight is a natural-language dashboard over one tabular dataset.
// Questions typed into the insight tab become instructions in a small query
// language, run locally against the table, and come back as text answers or
// charts.
//
// Usage:
//
//	insight serve --config insight.yaml
//	insight ask --prompt "What is the average yield?"
//
// The packages below do the work:
//
//	insight/     tab visibility and the question orchestrator
//	engine/      the instruction language and its executor
//	translator/  question -> instruction via the code model
//	dataset/     workbook and CSV loading and cleaning
//	server/      the browser dashboard
//	mcpserver/   the same questions over MCP
package insight

// Version is reported by the CLI, the dashboard and the MCP server.
const Version = "0.3.0"
