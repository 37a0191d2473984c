package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/tools"
)

// toolNameSeparator joins server ID and tool name into one registry name.
// Double underscore keeps names valid as LLM function identifiers.
const toolNameSeparator = "__"

// QualifyToolName builds the registry name for a remote tool.
func QualifyToolName(serverID, toolName string) string {
	return serverID + toolNameSeparator + toolName
}

// SplitToolName reverses QualifyToolName.
func SplitToolName(name string) (serverID, toolName string, err error) {
	parts := strings.SplitN(name, toolNameSeparator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("tool name %q is not server%stool", name, toolNameSeparator)
	}
	return parts[0], parts[1], nil
}

// Bridge loads remote tools into the local registry and owns the PM-provider
// call semantics: project-ID normalization and the one-shot provider re-sync
// on mismatch errors.
type Bridge struct {
	client   *Client
	registry *config.MCPServerRegistry
	sync     *ProviderSyncClient // nil disables mismatch recovery
	logger   *slog.Logger
}

// NewBridge creates a bridge. syncClient may be nil when no provider-sync
// endpoint is configured.
func NewBridge(client *Client, registry *config.MCPServerRegistry, syncClient *ProviderSyncClient, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{client: client, registry: registry, sync: syncClient, logger: logger}
}

// RegisterAll lists tools from every connected server and registers them
// with the local registry under qualified names. Server failures are logged
// and skipped: partial tools are better than none.
func (b *Bridge) RegisterAll(ctx context.Context, reg *tools.Registry) error {
	registered := 0
	for _, serverID := range b.registry.IDs() {
		serverCfg, err := b.registry.Get(serverID)
		if err != nil {
			continue
		}
		if !b.client.HasSession(serverID) {
			if err := b.client.InitializeServer(ctx, serverID); err != nil {
				b.logger.Warn("Skipping tool server", "server", serverID, "error", err)
				continue
			}
		}
		remoteTools, err := b.client.ListTools(ctx, serverID)
		if err != nil {
			b.logger.Warn("Failed to list tools", "server", serverID, "error", err)
			continue
		}
		for _, tool := range remoteTools {
			if err := reg.Register(b.makeTool(serverID, serverCfg, tool), serverCfg.AllowedAgents...); err != nil {
				return fmt.Errorf("register %s: %w", QualifyToolName(serverID, tool.Name), err)
			}
			registered++
		}
	}
	b.logger.Info("Remote tools registered", "count", registered)
	return nil
}

func (b *Bridge) makeTool(serverID string, serverCfg *config.MCPServerConfig, tool *mcpsdk.Tool) tools.Tool {
	toolName := tool.Name
	isPM := serverCfg.PMProvider
	return tools.Tool{
		Name:        QualifyToolName(serverID, toolName),
		Description: tool.Description,
		Schema:      marshalSchema(tool.InputSchema),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if isPM {
				args = normalizeProjectID(args)
			}
			content, toolErr, err := b.callRemote(ctx, serverID, toolName, args)
			if err != nil {
				return "", err
			}
			// The backend reports a mismatch either as a tool error or
			// embedded in a successful result. Recover from both shapes.
			if isPM && isProviderMismatch(content) {
				return b.resyncAndRetry(ctx, serverID, toolName, args, content, toolErr)
			}
			return finishCall(content, toolErr)
		},
	}
}

// callRemote executes one remote call. Transport failures come back as err;
// tool-level failures come back as (content, true, nil) so callers can
// inspect the error text before converting it.
func (b *Bridge) callRemote(ctx context.Context, serverID, toolName string, args map[string]any) (content string, toolErr bool, err error) {
	result, err := b.client.CallTool(ctx, serverID, toolName, args)
	if err != nil {
		return "", false, err
	}
	return extractTextContent(result), result.IsError, nil
}

// resyncAndRetry handles a provider-mismatch result: one provider-sync call,
// then exactly one retry. A second mismatch keeps its original shape.
func (b *Bridge) resyncAndRetry(ctx context.Context, serverID, toolName string, args map[string]any, original string, originalToolErr bool) (string, error) {
	if b.sync == nil {
		return finishCall(original, originalToolErr)
	}
	b.logger.Warn("Provider mismatch from tool, re-syncing provider",
		"server", serverID, "tool", toolName)
	if _, err := b.sync.Resync(ctx); err != nil {
		b.logger.Error("Provider sync failed", "server", serverID, "error", err)
		return finishCall(original, originalToolErr)
	}
	content, toolErr, err := b.callRemote(ctx, serverID, toolName, args)
	if err != nil {
		return "", err
	}
	return finishCall(content, toolErr)
}

// finishCall converts a remote result into handler semantics: tool errors
// become Go errors carrying the result text.
func finishCall(content string, toolErr bool) (string, error) {
	if toolErr {
		return "", fmt.Errorf("%s", content)
	}
	return content, nil
}

// extractTextContent concatenates all text items of a tool result. Non-text
// content is skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func marshalSchema(schema any) string {
	if schema == nil {
		return ""
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	return string(data)
}
