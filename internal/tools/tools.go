// Package tools exposes the memory service as MCP tools.
package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/memory"
)

const serverName = "memory-mcp"

// Toolset binds tool handlers to a memory service.
type Toolset struct {
	svc    *memory.Service
	logger *zap.Logger
}

func NewToolset(svc *memory.Service, logger *zap.Logger) *Toolset {
	return &Toolset{svc: svc, logger: logger}
}

// NewServer creates an MCP server with every memory tool registered.
func NewServer(svc *memory.Service, version string, logger *zap.Logger) *server.MCPServer {
	s := server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.AddTools(NewToolset(svc, logger).ServerTools()...)
	return s
}

// ServerTools returns every tool definition paired with its handler.
func (t *Toolset) ServerTools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: rememberTool(), Handler: t.remember},
		{Tool: searchMemoriesTool(), Handler: t.searchMemories},
		{Tool: recallTool(), Handler: t.recall},
		{Tool: recallScoredTool(), Handler: t.recallScored},
		{Tool: listRecentTool(), Handler: t.listRecent},
		{Tool: getMemoryTool(), Handler: t.getMemory},
		{Tool: statsTool(), Handler: t.stats},
		{Tool: associationsTool(), Handler: t.recallWithAssociations},
		{Tool: chainTool(), Handler: t.memoryChain},
		{Tool: linkTool(), Handler: t.linkMemories},
		{Tool: causalChainTool(), Handler: t.causalChain},
		{Tool: createEpisodeTool(), Handler: t.createEpisode},
		{Tool: searchEpisodesTool(), Handler: t.searchEpisodes},
		{Tool: episodeMemoriesTool(), Handler: t.episodeMemories},
		{Tool: listEpisodesTool(), Handler: t.listEpisodes},
		{Tool: visualTool(), Handler: t.saveVisual},
		{Tool: audioTool(), Handler: t.saveAudio},
		{Tool: cameraRecallTool(), Handler: t.recallByCamera},
		{Tool: workingMemoryTool(), Handler: t.workingMemory},
		{Tool: refreshWorkingTool(), Handler: t.refreshWorking},
	}
}

// errorBody mirrors the REST error shape so clients parse one format.
type errorBody struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	IDs     []string `json:"ids,omitempty"`
}

// failure renders err as a tool-level error. Protocol errors are reserved for
// transport problems, so handlers always return a nil error.
func (t *Toolset) failure(name string, err error) (*mcp.CallToolResult, error) {
	kind := memory.KindOf(err)
	if kind == memory.KindInternal || kind == memory.KindUnavailable {
		t.logger.Warn("tool failed", zap.String("tool", name), zap.Error(err))
	}
	b, _ := json.Marshal(errorBody{Kind: kind, Message: err.Error(), IDs: memory.MissingIDs(err)})
	return mcp.NewToolResultError(string(b)), nil
}

func invalidArgs(err error) (*mcp.CallToolResult, error) {
	b, _ := json.Marshal(errorBody{Kind: memory.KindValidation, Message: "invalid arguments: " + err.Error()})
	return mcp.NewToolResultError(string(b)), nil
}

func result(v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// parseEmotionCategory parses the enum arguments shared by several tools.
func parseEmotionCategory(emotion, category string) (memory.Emotion, memory.Category, error) {
	e, err := memory.ParseEmotion(emotion)
	if err != nil {
		return "", "", err
	}
	c, err := memory.ParseCategory(category)
	if err != nil {
		return "", "", err
	}
	return e, c, nil
}

func emotionNames() []string {
	out := make([]string, len(memory.Emotions))
	for i, e := range memory.Emotions {
		out[i] = string(e)
	}
	return out
}

func categoryNames() []string {
	out := make([]string, len(memory.Categories))
	for i, c := range memory.Categories {
		out[i] = string(c)
	}
	return out
}

func linkTypeNames() []string {
	out := make([]string, len(memory.LinkTypes))
	for i, l := range memory.LinkTypes {
		out[i] = string(l)
	}
	return out
}

type insertResponse struct {
	Memory        memory.Memory `json:"memory"`
	AutoLinks     []memory.Link `json:"auto_links"`
	AutoLinkError string        `json:"auto_link_error,omitempty"`
}

func newInsertResponse(res *memory.InsertResult) insertResponse {
	out := insertResponse{Memory: res.Memory, AutoLinks: res.AutoLink.Links}
	if out.AutoLinks == nil {
		out.AutoLinks = []memory.Link{}
	}
	if res.AutoLink.Err != nil {
		out.AutoLinkError = res.AutoLink.Err.Error()
	}
	return out
}

// nonNil keeps empty results rendering as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
