package tools

import "github.com/mark3labs/mcp-go/mcp"

var stringItems = map[string]interface{}{"type": "string"}

func rememberTool() mcp.Tool {
	return mcp.NewTool("remember",
		mcp.WithDescription("Store a new memory. Similar existing memories are linked automatically."),
		mcp.WithString("content", mcp.Required(), mcp.Description("What happened, in your own words")),
		mcp.WithString("emotion", mcp.Enum(emotionNames()...), mcp.Description("How it felt")),
		mcp.WithString("category", mcp.Enum(categoryNames()...), mcp.Description("What kind of memory this is")),
		mcp.WithNumber("importance", mcp.Min(1), mcp.Max(5), mcp.DefaultNumber(3), mcp.Description("1 (trivial) to 5 (unforgettable)")),
		mcp.WithArray("tags", mcp.Items(stringItems), mcp.Description("Free-form tags")),
		mcp.WithNumber("link_threshold", mcp.Description("Cosine distance below which memories are auto-linked")),
	)
}

func searchMemoriesTool() mcp.Tool {
	return mcp.NewTool("search_memories",
		mcp.WithDescription("Search memories by meaning with optional emotion, category and date filters."),
		mcp.WithString("query", mcp.Required(), mcp.Description("What to look for")),
		mcp.WithNumber("k", mcp.Min(1), mcp.DefaultNumber(5), mcp.Description("Number of results")),
		mcp.WithString("emotion", mcp.Enum(emotionNames()...)),
		mcp.WithString("category", mcp.Enum(categoryNames()...)),
		mcp.WithString("date_from", mcp.Description("Inclusive lower bound, RFC 3339 or YYYY-MM-DD")),
		mcp.WithString("date_to", mcp.Description("Inclusive upper bound, RFC 3339 or YYYY-MM-DD")),
	)
}

func recallTool() mcp.Tool {
	return mcp.NewTool("recall",
		mcp.WithDescription("Recall memories relevant to the current conversation."),
		mcp.WithString("context", mcp.Required(), mcp.Description("The current conversation context")),
		mcp.WithNumber("k", mcp.Min(1), mcp.DefaultNumber(3)),
	)
}

func recallScoredTool() mcp.Tool {
	return mcp.NewTool("recall_scored",
		mcp.WithDescription("Recall memories ranked by similarity, recency, emotion and importance."),
		mcp.WithString("context", mcp.Required()),
		mcp.WithNumber("k", mcp.Min(1), mcp.DefaultNumber(5)),
	)
}

func listRecentTool() mcp.Tool {
	return mcp.NewTool("list_recent_memories",
		mcp.WithDescription("List the most recent memories, newest first."),
		mcp.WithNumber("limit", mcp.Min(1), mcp.DefaultNumber(10)),
		mcp.WithString("category", mcp.Enum(categoryNames()...)),
	)
}

func getMemoryTool() mcp.Tool {
	return mcp.NewTool("get_memory",
		mcp.WithDescription("Fetch one memory with its outgoing and incoming links."),
		mcp.WithString("memory_id", mcp.Required()),
	)
}

func statsTool() mcp.Tool {
	return mcp.NewTool("get_memory_stats",
		mcp.WithDescription("Count memories by category and emotion."),
	)
}

func associationsTool() mcp.Tool {
	return mcp.NewTool("recall_with_associations",
		mcp.WithDescription("Recall memories and follow their links to associated ones."),
		mcp.WithString("context", mcp.Required()),
		mcp.WithNumber("k", mcp.Min(1), mcp.DefaultNumber(3)),
		mcp.WithNumber("depth", mcp.Min(1), mcp.Max(5), mcp.DefaultNumber(2)),
	)
}

func chainTool() mcp.Tool {
	return mcp.NewTool("get_memory_chain",
		mcp.WithDescription("Walk the link graph from a memory."),
		mcp.WithString("memory_id", mcp.Required()),
		mcp.WithNumber("depth", mcp.Min(1), mcp.Max(5), mcp.DefaultNumber(2)),
	)
}

func linkTool() mcp.Tool {
	return mcp.NewTool("link_memories",
		mcp.WithDescription("Create a typed link between two memories."),
		mcp.WithString("source_id", mcp.Required()),
		mcp.WithString("target_id", mcp.Required()),
		mcp.WithString("link_type", mcp.Enum(linkTypeNames()...), mcp.DefaultString("caused_by")),
		mcp.WithString("note", mcp.Description("Why the two are connected")),
	)
}

func causalChainTool() mcp.Tool {
	return mcp.NewTool("get_causal_chain",
		mcp.WithDescription("Trace causes (backward) or effects (forward) of a memory."),
		mcp.WithString("memory_id", mcp.Required()),
		mcp.WithString("direction", mcp.Enum("backward", "forward"), mcp.DefaultString("backward")),
		mcp.WithNumber("max_depth", mcp.Min(1), mcp.Max(5), mcp.DefaultNumber(3)),
	)
}

func createEpisodeTool() mcp.Tool {
	return mcp.NewTool("create_episode",
		mcp.WithDescription("Group memories into a titled episode."),
		mcp.WithString("title", mcp.Required()),
		mcp.WithArray("memory_ids", mcp.Required(), mcp.Items(stringItems)),
		mcp.WithArray("participants", mcp.Items(stringItems)),
		mcp.WithBoolean("auto_summarize", mcp.DefaultBool(true)),
	)
}

func searchEpisodesTool() mcp.Tool {
	return mcp.NewTool("search_episodes",
		mcp.WithDescription("Search episodes by meaning."),
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("k", mcp.Min(1), mcp.DefaultNumber(3)),
	)
}

func episodeMemoriesTool() mcp.Tool {
	return mcp.NewTool("get_episode_memories",
		mcp.WithDescription("List the memories of an episode in the order they happened."),
		mcp.WithString("episode_id", mcp.Required()),
	)
}

func listEpisodesTool() mcp.Tool {
	return mcp.NewTool("list_episodes",
		mcp.WithDescription("List every episode, newest first."),
	)
}

func visualTool() mcp.Tool {
	return mcp.NewTool("save_visual_memory",
		mcp.WithDescription("Remember something seen, with the image and camera pose."),
		mcp.WithString("content", mcp.Required()),
		mcp.WithString("image_path", mcp.Required()),
		mcp.WithNumber("pan", mcp.Description("Camera pan in degrees")),
		mcp.WithNumber("tilt", mcp.Description("Camera tilt in degrees")),
		mcp.WithString("preset_id"),
		mcp.WithString("emotion", mcp.Enum(emotionNames()...)),
		mcp.WithNumber("importance", mcp.Min(1), mcp.Max(5), mcp.DefaultNumber(3)),
	)
}

func audioTool() mcp.Tool {
	return mcp.NewTool("save_audio_memory",
		mcp.WithDescription("Remember something heard, with the recording and transcript."),
		mcp.WithString("content"),
		mcp.WithString("audio_path"),
		mcp.WithString("transcript"),
		mcp.WithString("emotion", mcp.Enum(emotionNames()...)),
		mcp.WithNumber("importance", mcp.Min(1), mcp.Max(5), mcp.DefaultNumber(3)),
	)
}

func cameraRecallTool() mcp.Tool {
	return mcp.NewTool("recall_by_camera_position",
		mcp.WithDescription("Recall what was seen near a camera pose."),
		mcp.WithNumber("pan", mcp.Required()),
		mcp.WithNumber("tilt", mcp.Required()),
		mcp.WithNumber("tolerance", mcp.DefaultNumber(15), mcp.Description("Maximum angular offset in degrees")),
	)
}

func workingMemoryTool() mcp.Tool {
	return mcp.NewTool("get_working_memory",
		mcp.WithDescription("Show what is currently in working memory, most recent first."),
		mcp.WithNumber("n", mcp.Min(1), mcp.DefaultNumber(10)),
	)
}

func refreshWorkingTool() mcp.Tool {
	return mcp.NewTool("refresh_working_memory",
		mcp.WithDescription("Reload working memory from important and recent memories."),
	)
}
