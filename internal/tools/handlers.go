package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/memory"
)

func (t *Toolset) remember(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Content       string   `json:"content"`
		Emotion       string   `json:"emotion"`
		Category      string   `json:"category"`
		Importance    int      `json:"importance"`
		Tags          []string `json:"tags"`
		LinkThreshold float64  `json:"link_threshold"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	emotion, category, err := parseEmotionCategory(args.Emotion, args.Category)
	if err != nil {
		return t.failure("remember", err)
	}
	res, err := t.svc.Store.Insert(ctx, memory.InsertRequest{
		Content:       args.Content,
		Emotion:       emotion,
		Category:      category,
		Importance:    args.Importance,
		Tags:          args.Tags,
		LinkThreshold: args.LinkThreshold,
	})
	if err != nil {
		return t.failure("remember", err)
	}
	return result(newInsertResponse(res))
}

func (t *Toolset) searchMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Query    string `json:"query"`
		K        *int   `json:"k"`
		Emotion  string `json:"emotion"`
		Category string `json:"category"`
		DateFrom string `json:"date_from"`
		DateTo   string `json:"date_to"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	emotion, category, err := parseEmotionCategory(args.Emotion, args.Category)
	if err != nil {
		return t.failure("search_memories", err)
	}
	from, err := memory.ParseDate(args.DateFrom, false)
	if err != nil {
		return t.failure("search_memories", err)
	}
	to, err := memory.ParseDate(args.DateTo, true)
	if err != nil {
		return t.failure("search_memories", err)
	}
	hits, err := t.svc.Store.Search(ctx, args.Query, intOr(args.K, 5), memory.SearchFilter{
		Emotion:  emotion,
		Category: category,
		From:     from,
		To:       to,
	})
	if err != nil {
		return t.failure("search_memories", err)
	}
	return result(nonNil(hits))
}

type recallArgs struct {
	Context string `json:"context"`
	K       *int   `json:"k"`
	Depth   *int   `json:"depth"`
}

func (t *Toolset) recall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args recallArgs
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	hits, err := t.svc.Recall.Recall(ctx, args.Context, intOr(args.K, 3))
	if err != nil {
		return t.failure("recall", err)
	}
	return result(nonNil(hits))
}

func (t *Toolset) recallScored(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args recallArgs
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	hits, err := t.svc.Recall.RecallScored(ctx, args.Context, intOr(args.K, 5))
	if err != nil {
		return t.failure("recall_scored", err)
	}
	return result(nonNil(hits))
}

func (t *Toolset) recallWithAssociations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args recallArgs
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	res, err := t.svc.Recall.RecallWithAssociations(ctx, args.Context, intOr(args.K, 3), intOr(args.Depth, 2))
	if err != nil {
		return t.failure("recall_with_associations", err)
	}
	res.Primary = nonNil(res.Primary)
	res.Associated = nonNil(res.Associated)
	return result(res)
}

func (t *Toolset) listRecent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Limit    *int   `json:"limit"`
		Category string `json:"category"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	category, err := memory.ParseCategory(args.Category)
	if err != nil {
		return t.failure("list_recent_memories", err)
	}
	ms, err := t.svc.Store.ListRecent(ctx, intOr(args.Limit, 10), category)
	if err != nil {
		return t.failure("list_recent_memories", err)
	}
	return result(nonNil(ms))
}

type memoryIDArgs struct {
	MemoryID  string `json:"memory_id"`
	Depth     *int   `json:"depth"`
	MaxDepth  *int   `json:"max_depth"`
	Direction string `json:"direction"`
}

func (t *Toolset) getMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args memoryIDArgs
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	m, err := t.svc.Store.Get(ctx, args.MemoryID)
	if err != nil {
		return t.failure("get_memory", err)
	}
	out, in := t.svc.Graph.Links(m.ID)
	return result(map[string]interface{}{
		"memory":         m,
		"outgoing_links": nonNil(out),
		"incoming_links": nonNil(in),
	})
}

func (t *Toolset) stats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := t.svc.Store.Stats(ctx)
	if err != nil {
		return t.failure("get_memory_stats", err)
	}
	return result(map[string]interface{}{
		"memories":         st,
		"links":            t.svc.Graph.LinkCount(),
		"working_memory":   t.svc.Working.Size(),
		"working_capacity": t.svc.Working.Capacity(),
	})
}

func (t *Toolset) memoryChain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args memoryIDArgs
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	nodes, err := t.svc.Graph.Chain(ctx, args.MemoryID, intOr(args.Depth, 2))
	if err != nil {
		return t.failure("get_memory_chain", err)
	}
	return result(nonNil(nodes))
}

func (t *Toolset) causalChain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args memoryIDArgs
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	dir, err := memory.ParseDirection(args.Direction)
	if err != nil {
		return t.failure("get_causal_chain", err)
	}
	steps, err := t.svc.Graph.CausalChain(ctx, args.MemoryID, dir, intOr(args.MaxDepth, 3))
	if err != nil {
		return t.failure("get_causal_chain", err)
	}
	return result(nonNil(steps))
}

func (t *Toolset) linkMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		SourceID string `json:"source_id"`
		TargetID string `json:"target_id"`
		LinkType string `json:"link_type"`
		Note     string `json:"note"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	typ, err := memory.ParseLinkType(args.LinkType)
	if err != nil {
		return t.failure("link_memories", err)
	}
	l, err := t.svc.Graph.Link(ctx, args.SourceID, args.TargetID, typ, args.Note)
	if err != nil {
		return t.failure("link_memories", err)
	}
	return result(l)
}

func (t *Toolset) createEpisode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Title         string   `json:"title"`
		MemoryIDs     []string `json:"memory_ids"`
		Participants  []string `json:"participants"`
		AutoSummarize *bool    `json:"auto_summarize"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	ep, err := t.svc.Episodes.CreateEpisode(ctx, memory.EpisodeRequest{
		Title:         args.Title,
		MemoryIDs:     args.MemoryIDs,
		Participants:  args.Participants,
		AutoSummarize: args.AutoSummarize == nil || *args.AutoSummarize,
	})
	if err != nil {
		return t.failure("create_episode", err)
	}
	return result(ep)
}

func (t *Toolset) searchEpisodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Query string `json:"query"`
		K     *int   `json:"k"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	hits, err := t.svc.Episodes.SearchEpisodes(ctx, args.Query, intOr(args.K, 3))
	if err != nil {
		return t.failure("search_episodes", err)
	}
	return result(nonNil(hits))
}

func (t *Toolset) episodeMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		EpisodeID string `json:"episode_id"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	ms, err := t.svc.Episodes.GetEpisodeMemories(ctx, args.EpisodeID)
	if err != nil {
		return t.failure("get_episode_memories", err)
	}
	return result(nonNil(ms))
}

func (t *Toolset) listEpisodes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eps, err := t.svc.Episodes.ListEpisodes(ctx)
	if err != nil {
		return t.failure("list_episodes", err)
	}
	return result(nonNil(eps))
}

func (t *Toolset) saveVisual(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Content    string   `json:"content"`
		ImagePath  string   `json:"image_path"`
		Pan        *float64 `json:"pan"`
		Tilt       *float64 `json:"tilt"`
		PresetID   string   `json:"preset_id"`
		Emotion    string   `json:"emotion"`
		Importance int      `json:"importance"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	emotion, err := memory.ParseEmotion(args.Emotion)
	if err != nil {
		return t.failure("save_visual_memory", err)
	}
	var pose *memory.CameraPose
	if args.Pan != nil || args.Tilt != nil {
		if args.Pan == nil || args.Tilt == nil {
			return invalidArgs(fmt.Errorf("pan and tilt must be given together"))
		}
		pose = &memory.CameraPose{Pan: *args.Pan, Tilt: *args.Tilt, PresetID: args.PresetID}
	}
	res, err := t.svc.Store.InsertVisual(ctx, memory.VisualRequest{
		Content:    args.Content,
		ImageRef:   args.ImagePath,
		Camera:     pose,
		Emotion:    emotion,
		Importance: args.Importance,
	})
	if err != nil {
		return t.failure("save_visual_memory", err)
	}
	return result(newInsertResponse(res))
}

func (t *Toolset) saveAudio(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Content    string `json:"content"`
		AudioPath  string `json:"audio_path"`
		Transcript string `json:"transcript"`
		Emotion    string `json:"emotion"`
		Importance int    `json:"importance"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	emotion, err := memory.ParseEmotion(args.Emotion)
	if err != nil {
		return t.failure("save_audio_memory", err)
	}
	res, err := t.svc.Store.InsertAudio(ctx, memory.AudioRequest{
		Content:    args.Content,
		AudioRef:   args.AudioPath,
		Transcript: args.Transcript,
		Emotion:    emotion,
		Importance: args.Importance,
	})
	if err != nil {
		return t.failure("save_audio_memory", err)
	}
	return result(newInsertResponse(res))
}

func (t *Toolset) recallByCamera(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Pan       *float64 `json:"pan"`
		Tilt      *float64 `json:"tilt"`
		Tolerance *float64 `json:"tolerance"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	if args.Pan == nil || args.Tilt == nil {
		return invalidArgs(fmt.Errorf("pan and tilt are required"))
	}
	tolerance := 15.0
	if args.Tolerance != nil {
		tolerance = *args.Tolerance
	}
	hits, err := t.svc.Recall.RecallByCameraPosition(ctx, *args.Pan, *args.Tilt, tolerance)
	if err != nil {
		return t.failure("recall_by_camera_position", err)
	}
	return result(nonNil(hits))
}

func (t *Toolset) workingMemory(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		N *int `json:"n"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidArgs(err)
	}
	ms, err := t.svc.Working.Get(intOr(args.N, 10))
	if err != nil {
		return t.failure("get_working_memory", err)
	}
	return result(nonNil(ms))
}

func (t *Toolset) refreshWorking(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ms, err := t.svc.Working.Refresh(ctx)
	if err != nil {
		return t.failure("refresh_working_memory", err)
	}
	return result(nonNil(ms))
}
