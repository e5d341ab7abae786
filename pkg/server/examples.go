package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/richard-senior/mcpcore/pkg/protocol"
)

// DefaultCalculatorTool adapts the teacher's calculator tool to the
// ToolHandler shape: an evaluator for space-separated arithmetic
// expressions of numbers and + - * / operators with the usual
// precedence, registered by callers that want a runnable example tool
// without bringing their own.
func DefaultCalculatorTool() (protocol.Tool, ToolHandler) {
	return protocol.Tool{
			Name:        "calculator",
			Description: "Evaluates a space-separated arithmetic expression such as \"2 + 2\" or \"2 + 3 * 4\", with * and / binding tighter than + and -.",
			InputSchema: protocol.ToolInputSchema{
				Type: "object",
				Properties: map[string]json.RawMessage{
					"expression": json.RawMessage(`{"type":"string","description":"An expression of the form 'number operator number [operator number ...]'"}`),
				},
				Required: []string{"expression"},
			},
		}, func(ctx context.Context, arguments json.RawMessage) (*protocol.ToolsCallResult, error) {
			var params struct {
				Expression string `json:"expression"`
			}
			if err := json.Unmarshal(arguments, &params); err != nil {
				return nil, fmt.Errorf("calculator: invalid arguments: %w", err)
			}
			result, err := evaluateExpression(params.Expression)
			if err != nil {
				return nil, err
			}
			return &protocol.ToolsCallResult{
				Content: []protocol.ContentBlock{{Type: "text", Text: strconv.FormatFloat(result, 'g', -1, 64)}},
			}, nil
		}
}

// operatorPrecedence ranks the four supported operators so chained
// expressions like "2 + 3 * 4" fold in the usual arithmetic order
// rather than strictly left to right; 0 means "not an operator".
func operatorPrecedence(op string) int {
	switch op {
	case "*", "/":
		return 2
	case "+", "-":
		return 1
	default:
		return 0
	}
}

// evaluateExpression evaluates a whitespace-separated, alternating
// number/operator expression of any length (not just a single
// two-operand pair) using a small precedence-climbing stack, so
// "2 + 3 * 4" resolves to 14 rather than requiring the caller to
// pre-group it into "2 + (3 * 4)".
func evaluateExpression(expression string) (float64, error) {
	tokens := strings.Fields(strings.TrimSpace(expression))
	if len(tokens) == 0 || len(tokens)%2 == 0 {
		return 0, fmt.Errorf(`calculator: expression must alternate numbers and operators, e.g. "2 + 2" or "2 + 3 * 4"`)
	}

	var values []float64
	var ops []string

	apply := func() error {
		b, a := values[len(values)-1], values[len(values)-2]
		op := ops[len(ops)-1]
		values = values[:len(values)-2]
		ops = ops[:len(ops)-1]
		switch op {
		case "+":
			values = append(values, a+b)
		case "-":
			values = append(values, a-b)
		case "*":
			values = append(values, a*b)
		case "/":
			if b == 0 {
				return fmt.Errorf("calculator: division by zero")
			}
			values = append(values, a/b)
		}
		return nil
	}

	for i, tok := range tokens {
		if i%2 == 0 {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return 0, fmt.Errorf("calculator: invalid operand %q: %w", tok, err)
			}
			values = append(values, v)
			continue
		}
		if operatorPrecedence(tok) == 0 {
			return 0, fmt.Errorf("calculator: unsupported operator %q", tok)
		}
		for len(ops) > 0 && operatorPrecedence(ops[len(ops)-1]) >= operatorPrecedence(tok) {
			if err := apply(); err != nil {
				return 0, err
			}
		}
		ops = append(ops, tok)
	}
	for len(ops) > 0 {
		if err := apply(); err != nil {
			return 0, err
		}
	}
	return values[0], nil
}

// DefaultDocumentationResource adapts the teacher's example_documentation
// resource: a single static in-memory markdown document, useful as a
// minimal runnable resource handler.
func DefaultDocumentationResource() (protocol.Resource, ResourceHandler) {
	const uri = "mcpcore://docs/overview"
	return protocol.Resource{
			URI:         uri,
			Name:        "example_documentation",
			Description: "Example documentation resource",
			MimeType:    "text/markdown",
		}, func(ctx context.Context, requested string) (*protocol.ResourcesReadResult, error) {
			return &protocol.ResourcesReadResult{
				Contents: []protocol.ResourceContents{{
					URI:      uri,
					MimeType: "text/markdown",
					Text:     "# MCP Documentation\n\nThis is example documentation served over the resources family.",
				}},
			}, nil
		}
}

// DefaultCodeReviewPrompt adapts the teacher's "code-review" sample
// prompt: a template rendered in memory from its arguments rather than
// read from a file-backed registry, since this module carries no
// persistent storage layer for user-authored prompts.
func DefaultCodeReviewPrompt() (protocol.Prompt, PromptHandler) {
	return protocol.Prompt{
			Name:        "code-review",
			Description: "Review code for best practices, bugs, and improvements",
			Arguments: []protocol.PromptArgument{
				{Name: "language", Description: "Programming language of the code", Required: true},
				{Name: "code", Description: "The code to review", Required: true},
			},
		}, func(ctx context.Context, arguments map[string]string) (*protocol.PromptsGetResult, error) {
			language, code := arguments["language"], arguments["code"]
			if language == "" || code == "" {
				return nil, fmt.Errorf("code-review: both \"language\" and \"code\" arguments are required")
			}
			text := fmt.Sprintf(
				"Please review the following %s code for:\n- Best practices\n- Potential bugs\n- Performance improvements\n- Security issues\n\nCode:\n```%s\n%s\n```",
				language, language, code,
			)
			return &protocol.PromptsGetResult{
				Description: "Code review request",
				Messages: []protocol.PromptMessage{{
					Role:    protocol.RoleUser,
					Content: protocol.ContentBlock{Type: "text", Text: text},
				}},
			}, nil
		}
}
