package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/memory"
)

// RegisterMemoryCommands registers the memory slash commands over svc.
func RegisterMemoryCommands(reg *Registry, svc *memory.Service) {
	reg.Register(rememberCommand(svc))
	reg.Register(searchCommand(svc))
	reg.Register(recallCommand(svc))
	reg.Register(getCommand(svc))
	reg.Register(statsCommand(svc))
	reg.Register(linkCommand(svc))
	reg.Register(chainCommand(svc))
	reg.Register(causesCommand(svc))
	reg.Register(episodeCommand(svc))
	reg.Register(episodesCommand(svc))
	reg.Register(workingCommand(svc))
	reg.Register(refreshCommand(svc))
}

func failed(err error) *CommandResult {
	return &CommandResult{
		Content: fmt.Sprintf("Failed (%s): %v", memory.KindOf(err), err),
		Data:    map[string]any{"kind": memory.KindOf(err), "ids": memory.MissingIDs(err)},
	}
}

func usage(u string) *CommandResult {
	return &CommandResult{Content: "Usage: " + u}
}

// leadingOptions peels key=value tokens for the given keys off the front of args.
func leadingOptions(args string, keys ...string) (map[string]string, string) {
	opts := make(map[string]string)
	rest := strings.TrimSpace(args)
	for rest != "" {
		tok, tail, _ := strings.Cut(rest, " ")
		k, v, ok := strings.Cut(tok, "=")
		if !ok || !contains(keys, k) {
			break
		}
		opts[k] = v
		rest = strings.TrimSpace(tail)
	}
	return opts, rest
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func formatMemory(b *strings.Builder, m memory.Memory) {
	fmt.Fprintf(b, "[%s] %s", m.CreatedAt.Format("2006-01-02 15:04"), m.Content)
	var tags []string
	if m.Emotion != "" {
		tags = append(tags, string(m.Emotion))
	}
	if m.Category != "" {
		tags = append(tags, string(m.Category))
	}
	tags = append(tags, fmt.Sprintf("importance %d", m.Importance))
	fmt.Fprintf(b, " (%s)\n    id: %s\n", strings.Join(tags, ", "), m.ID)
}

func rememberCommand(svc *memory.Service) *Command {
	const u = "/remember [emotion=<e>] [category=<c>] [importance=<1-5>] <content>"
	return &Command{
		Name:        "remember",
		Description: "Store a new memory",
		Usage:       u,
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			opts, content := leadingOptions(args, "emotion", "category", "importance")
			if content == "" {
				return usage(u), nil
			}
			req := memory.InsertRequest{Content: content}
			var err error
			if req.Emotion, err = memory.ParseEmotion(opts["emotion"]); err != nil {
				return failed(err), nil
			}
			if req.Category, err = memory.ParseCategory(opts["category"]); err != nil {
				return failed(err), nil
			}
			if v := opts["importance"]; v != "" {
				if req.Importance, err = strconv.Atoi(v); err != nil {
					return usage(u), nil
				}
			}
			res, err := svc.Store.Insert(ctx, req)
			if err != nil {
				return failed(err), nil
			}
			msg := fmt.Sprintf("Memory stored: %s", res.Memory.ID)
			if n := len(res.AutoLink.Links); n > 0 {
				msg += fmt.Sprintf(" (linked to %d similar memories)", n)
			}
			return &CommandResult{Content: msg, Data: res.Memory}, nil
		},
	}
}

func searchCommand(svc *memory.Service) *Command {
	const u = "/search [emotion=<e>] [category=<c>] [k=<n>] <query>"
	return &Command{
		Name:        "search",
		Description: "Search memories by meaning",
		Usage:       u,
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			opts, query := leadingOptions(args, "emotion", "category", "k")
			if query == "" {
				return usage(u), nil
			}
			k := 5
			if v := opts["k"]; v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return usage(u), nil
				}
				k = n
			}
			var f memory.SearchFilter
			var err error
			if f.Emotion, err = memory.ParseEmotion(opts["emotion"]); err != nil {
				return failed(err), nil
			}
			if f.Category, err = memory.ParseCategory(opts["category"]); err != nil {
				return failed(err), nil
			}
			hits, err := svc.Store.Search(ctx, query, k, f)
			if err != nil {
				return failed(err), nil
			}
			return hitsResult(query, hits), nil
		},
	}
}

func hitsResult(query string, hits []memory.SearchHit) *CommandResult {
	if len(hits) == 0 {
		return &CommandResult{Content: "No memories found for: " + query, Data: hits}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Memories for %q:\n", query)
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. [%.3f] ", i+1, h.Distance)
		formatMemory(&b, h.Memory)
	}
	return &CommandResult{Content: b.String(), Data: hits}
}

func recallCommand(svc *memory.Service) *Command {
	return &Command{
		Name:        "recall",
		Description: "Recall memories relevant to a context, with their associations",
		Usage:       "/recall <context>",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if args == "" {
				return usage("/recall <context>"), nil
			}
			res, err := svc.Recall.RecallWithAssociations(ctx, args, 3, 2)
			if err != nil {
				return failed(err), nil
			}
			out := hitsResult(args, res.Primary)
			if len(res.Associated) > 0 {
				var b strings.Builder
				b.WriteString(out.Content)
				b.WriteString("Associated:\n")
				for _, n := range res.Associated {
					fmt.Fprintf(&b, "  (%s, %d hop) ", n.Via, n.Hops)
					formatMemory(&b, n.Memory)
				}
				out.Content = b.String()
			}
			out.Data = res
			return out, nil
		},
	}
}

func getCommand(svc *memory.Service) *Command {
	return &Command{
		Name:        "get",
		Description: "Show one memory and its links",
		Usage:       "/get <memory_id>",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if args == "" {
				return usage("/get <memory_id>"), nil
			}
			m, err := svc.Store.Get(ctx, args)
			if err != nil {
				return failed(err), nil
			}
			var b strings.Builder
			formatMemory(&b, m)
			out, in := svc.Graph.Links(m.ID)
			for _, l := range out {
				fmt.Fprintf(&b, "    → %s %s\n", l.Type, l.TargetID)
			}
			for _, l := range in {
				fmt.Fprintf(&b, "    ← %s %s\n", l.Type, l.SourceID)
			}
			return &CommandResult{Content: b.String(), Data: m}, nil
		},
	}
}

func statsCommand(svc *memory.Service) *Command {
	return &Command{
		Name:        "stats",
		Description: "Show memory statistics",
		Usage:       "/stats",
		Handler: func(ctx context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			st, err := svc.Store.Stats(ctx)
			if err != nil {
				return failed(err), nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Total memories: %d\n", st.Total)
			for _, c := range memory.Categories {
				if n := st.ByCategory[string(c)]; n > 0 {
					fmt.Fprintf(&b, "  %s: %d\n", c, n)
				}
			}
			fmt.Fprintf(&b, "Links: %d, working memory: %d/%d\n",
				svc.Graph.LinkCount(), svc.Working.Size(), svc.Working.Capacity())
			return &CommandResult{Content: b.String(), Data: st}, nil
		},
	}
}

func linkCommand(svc *memory.Service) *Command {
	const u = "/link <source_id> <target_id> [similar|caused_by|leads_to|related] [note]"
	return &Command{
		Name:        "link",
		Description: "Link two memories",
		Usage:       u,
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			fields := strings.Fields(args)
			if len(fields) < 2 {
				return usage(u), nil
			}
			var typ memory.LinkType
			var note string
			if len(fields) > 2 {
				var err error
				if typ, err = memory.ParseLinkType(fields[2]); err != nil {
					return failed(err), nil
				}
				note = strings.Join(fields[3:], " ")
			}
			l, err := svc.Graph.Link(ctx, fields[0], fields[1], typ, note)
			if err != nil {
				return failed(err), nil
			}
			return &CommandResult{Content: fmt.Sprintf("Linked %s -%s-> %s", l.SourceID, l.Type, l.TargetID), Data: l}, nil
		},
	}
}

func chainResult(title string, nodes []memory.ChainNode) *CommandResult {
	if len(nodes) == 0 {
		return &CommandResult{Content: "No linked memories.", Data: nodes}
	}
	var b strings.Builder
	b.WriteString(title + "\n")
	for _, n := range nodes {
		fmt.Fprintf(&b, "%s(%s) ", strings.Repeat("  ", n.Hops), n.Via)
		formatMemory(&b, n.Memory)
	}
	return &CommandResult{Content: b.String(), Data: nodes}
}

func depthArg(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func chainCommand(svc *memory.Service) *Command {
	const u = "/chain <memory_id> [depth]"
	return &Command{
		Name:        "chain",
		Description: "Follow links outward from a memory",
		Usage:       u,
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			id, rest, _ := strings.Cut(args, " ")
			if id == "" {
				return usage(u), nil
			}
			depth, err := depthArg(strings.TrimSpace(rest), 2)
			if err != nil {
				return usage(u), nil
			}
			nodes, err := svc.Graph.Chain(ctx, id, depth)
			if err != nil {
				return failed(err), nil
			}
			return chainResult("Memory chain:", nodes), nil
		},
	}
}

func causesCommand(svc *memory.Service) *Command {
	const u = "/causes <memory_id> [backward|forward] [depth]"
	return &Command{
		Name:        "causes",
		Description: "Follow causal links from a memory",
		Usage:       u,
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			fields := strings.Fields(args)
			if len(fields) == 0 {
				return usage(u), nil
			}
			var dirArg, depthStr string
			if len(fields) > 1 {
				dirArg = fields[1]
			}
			if len(fields) > 2 {
				depthStr = fields[2]
			}
			dir, err := memory.ParseDirection(dirArg)
			if err != nil {
				return failed(err), nil
			}
			depth, err := depthArg(depthStr, 3)
			if err != nil {
				return usage(u), nil
			}
			steps, err := svc.Graph.CausalChain(ctx, fields[0], dir, depth)
			if err != nil {
				return failed(err), nil
			}
			title := "Causes:"
			if dir == memory.Forward {
				title = "Effects:"
			}
			return chainResult(title, steps), nil
		},
	}
}

func episodeCommand(svc *memory.Service) *Command {
	const u = "/episode <title> | <memory_id>[,<memory_id>...]"
	return &Command{
		Name:        "episode",
		Description: "Group memories into a summarized episode",
		Usage:       u,
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			title, list, ok := strings.Cut(args, "|")
			if !ok {
				return usage(u), nil
			}
			ep, err := svc.Episodes.CreateEpisode(ctx, memory.EpisodeRequest{
				Title:         strings.TrimSpace(title),
				MemoryIDs:     strings.Split(list, ","),
				AutoSummarize: true,
			})
			if err != nil {
				return failed(err), nil
			}
			msg := fmt.Sprintf("Episode %q created with %d memories: %s", ep.Title, len(ep.MemoryIDs), ep.ID)
			if ep.Summary != "" {
				msg += "\n" + ep.Summary
			}
			return &CommandResult{Content: msg, Data: ep}, nil
		},
	}
}

func episodesCommand(svc *memory.Service) *Command {
	return &Command{
		Name:        "episodes",
		Description: "List episodes, or search them by meaning",
		Usage:       "/episodes [query]",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			var eps []memory.Episode
			if args == "" {
				var err error
				if eps, err = svc.Episodes.ListEpisodes(ctx); err != nil {
					return failed(err), nil
				}
			} else {
				hits, err := svc.Episodes.SearchEpisodes(ctx, args, 5)
				if err != nil {
					return failed(err), nil
				}
				for _, h := range hits {
					eps = append(eps, h.Episode)
				}
			}
			if len(eps) == 0 {
				return &CommandResult{Content: "No episodes.", Data: []memory.Episode{}}, nil
			}
			var b strings.Builder
			for _, ep := range eps {
				fmt.Fprintf(&b, "%s  %s (%d memories, %s)\n", ep.ID, ep.Title, len(ep.MemoryIDs),
					ep.StartTime.Format("2006-01-02"))
			}
			return &CommandResult{Content: b.String(), Data: eps}, nil
		},
	}
}

func workingCommand(svc *memory.Service) *Command {
	return &Command{
		Name:        "working",
		Description: "Show working memory, newest first",
		Usage:       "/working [n]",
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			n := svc.Working.Capacity()
			if args != "" {
				v, err := strconv.Atoi(args)
				if err != nil {
					return usage("/working [n]"), nil
				}
				n = v
			}
			ms, err := svc.Working.Get(n)
			if err != nil {
				return failed(err), nil
			}
			return memoriesResult(ms), nil
		},
	}
}

func refreshCommand(svc *memory.Service) *Command {
	return &Command{
		Name:        "refresh",
		Description: "Reload working memory from important and recent memories",
		Usage:       "/refresh",
		Handler: func(ctx context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			ms, err := svc.Working.Refresh(ctx)
			if err != nil {
				return failed(err), nil
			}
			return memoriesResult(ms), nil
		},
	}
}

func memoriesResult(ms []memory.Memory) *CommandResult {
	if len(ms) == 0 {
		return &CommandResult{Content: "Working memory is empty.", Data: ms}
	}
	var b strings.Builder
	for _, m := range ms {
		formatMemory(&b, m)
	}
	return &CommandResult{Content: b.String(), Data: ms}
}
