package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/pmflow/pmflow/pkg/config"
)

// EscalateToPlannerToolName is the reserved escalation tool. The react node
// intercepts calls to it before execution; the handler below only runs if a
// non-react agent somehow reaches it.
const EscalateToPlannerToolName = "escalate_to_planner"

// ProjectDirectory resolves project identity against the provider store.
// Implemented by database.Store.
type ProjectDirectory interface {
	CurrentProject(ctx context.Context, projectID string) (map[string]any, error)
	ResolveProjectKey(ctx context.Context, key string) (string, error)
}

const tavilySearchURL = "https://api.tavily.com/search"

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

// NewWebSearchTool returns the Tavily-backed web_search tool. Available to
// the react agent and the researcher.
func NewWebSearchTool(apiKey string, client *http.Client) Tool {
	if client == nil {
		client = http.DefaultClient
	}
	return Tool{
		Name:        "web_search",
		Description: "Search the web for current information. Returns relevant results with summaries and URLs.",
		Schema: `{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query to execute"},
				"max_results": {"type": "integer", "minimum": 1, "maximum": 10}
			},
			"required": ["query"]
		}`,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			maxResults := 5
			if n, ok := args["max_results"].(float64); ok {
				maxResults = int(n)
			}
			if apiKey == "" {
				return "", fmt.Errorf("web search is not configured: set TAVILY_API_KEY")
			}
			body, err := json.Marshal(tavilyRequest{APIKey: apiKey, Query: query, MaxResults: maxResults})
			if err != nil {
				return "", err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, tavilySearchURL, bytes.NewReader(body))
			if err != nil {
				return "", err
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("search request failed: %w", err)
			}
			defer resp.Body.Close()
			payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return "", err
			}
			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("search returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
			}
			return string(payload), nil
		},
	}
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]+>`)
	blankRe       = regexp.MustCompile(`\n{3,}`)
)

// NewCrawlPageTool returns the crawl_page tool: fetch a URL and reduce the
// response to readable text.
func NewCrawlPageTool(client *http.Client) Tool {
	if client == nil {
		client = http.DefaultClient
	}
	return Tool{
		Name:        "crawl_page",
		Description: "Fetch a web page and return its readable text content.",
		Schema: `{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "The URL to fetch"}
			},
			"required": ["url"]
		}`,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			url, _ := args["url"].(string)
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				return "", fmt.Errorf("url must be http(s): %q", url)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return "", err
			}
			req.Header.Set("User-Agent", "pmflow/1.0")
			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("fetch failed: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("fetch returned HTTP %d", resp.StatusCode)
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
			if err != nil {
				return "", err
			}
			return htmlToText(string(body)), nil
		},
	}
}

func htmlToText(html string) string {
	text := scriptStyleRe.ReplaceAllString(html, " ")
	text = tagRe.ReplaceAllString(text, "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(blankRe.ReplaceAllString(text, "\n\n"))
}

// NewBackendAPICallTool returns the backend_api_call tool used by pm_agent
// to reach the PM data service directly.
func NewBackendAPICallTool(baseURL, token string, client *http.Client) Tool {
	if client == nil {
		client = http.DefaultClient
	}
	return Tool{
		Name:        "backend_api_call",
		Description: "Call the PM backend API. Path is relative to the service root; body is JSON for POST/PUT.",
		Schema: `{
			"type": "object",
			"properties": {
				"method": {"type": "string", "enum": ["GET", "POST", "PUT", "DELETE"]},
				"path": {"type": "string", "description": "Request path, e.g. /api/projects"},
				"body": {"type": "object"}
			},
			"required": ["method", "path"]
		}`,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			method, _ := args["method"].(string)
			path, _ := args["path"].(string)
			if baseURL == "" {
				return "", fmt.Errorf("backend API is not configured")
			}
			var reqBody io.Reader
			if raw, ok := args["body"]; ok && raw != nil {
				encoded, err := json.Marshal(raw)
				if err != nil {
					return "", err
				}
				reqBody = bytes.NewReader(encoded)
			}
			req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(baseURL, "/")+path, reqBody)
			if err != nil {
				return "", err
			}
			req.Header.Set("Content-Type", "application/json")
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("backend request failed: %w", err)
			}
			defer resp.Body.Close()
			payload, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
			if err != nil {
				return "", err
			}
			if resp.StatusCode >= 400 {
				return "", fmt.Errorf("backend returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
			}
			return string(payload), nil
		},
	}
}

// NewProjectTools returns get_current_project and resolve_project_key,
// backed by the provider-credential store.
func NewProjectTools(dir ProjectDirectory) []Tool {
	return []Tool{
		{
			Name:        "get_current_project",
			Description: "Return details of the project in scope for this conversation.",
			Schema: `{
				"type": "object",
				"properties": {
					"project_id": {"type": "string"}
				},
				"required": ["project_id"]
			}`,
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				projectID, _ := args["project_id"].(string)
				info, err := dir.CurrentProject(ctx, projectID)
				if err != nil {
					return "", err
				}
				out, err := json.Marshal(info)
				if err != nil {
					return "", err
				}
				return string(out), nil
			},
		},
		{
			Name:        "resolve_project_key",
			Description: "Resolve a human project key (e.g. PROJ) to its provider-qualified project id.",
			Schema: `{
				"type": "object",
				"properties": {
					"key": {"type": "string", "description": "The project key to resolve"}
				},
				"required": ["key"]
			}`,
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				key, _ := args["key"].(string)
				id, err := dir.ResolveProjectKey(ctx, key)
				if err != nil {
					return "", err
				}
				return id, nil
			},
		},
	}
}

// NewEscalateTool returns the reserved escalation marker tool. It is listed
// to the react agent so the model can request planning, but calls are
// intercepted upstream.
func NewEscalateTool() Tool {
	return Tool{
		Name:        EscalateToPlannerToolName,
		Description: "Escalate this request to the full planning pipeline when it needs multi-step work.",
		Schema: `{
			"type": "object",
			"properties": {
				"reason": {"type": "string", "description": "Why planning is required"}
			},
			"required": ["reason"]
		}`,
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			reason, _ := args["reason"].(string)
			return "escalating to planner: " + reason, nil
		},
	}
}

// RegisterBuiltins wires the builtin tool set with its agent allow-lists.
// The PM agent never sees web tools; the coder sees no side-effect tools.
func RegisterBuiltins(r *Registry, dir ProjectDirectory, searchAPIKey, backendURL, backendToken string, client *http.Client) error {
	webAgents := []string{config.NodeReactAgent, config.NodeResearcher}
	pmAgents := []string{config.NodeReactAgent, config.NodePMAgent, config.NodeResearcher}

	if err := r.Register(NewWebSearchTool(searchAPIKey, client), webAgents...); err != nil {
		return err
	}
	if err := r.Register(NewCrawlPageTool(client), webAgents...); err != nil {
		return err
	}
	if err := r.Register(NewBackendAPICallTool(backendURL, backendToken, client), pmAgents...); err != nil {
		return err
	}
	if dir != nil {
		for _, t := range NewProjectTools(dir) {
			if err := r.Register(t, pmAgents...); err != nil {
				return err
			}
		}
	}
	return r.Register(NewEscalateTool(), config.NodeReactAgent)
}
