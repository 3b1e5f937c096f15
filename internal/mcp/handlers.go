package mcp

import (
	"context"
	"fmt"
	"strings"

	"tiered-mcp-memory/internal/rerank"
	"tiered-mcp-memory/internal/storage/relational"
	"tiered-mcp-memory/internal/types"
)

const defaultListLimit = 10

// Argument coercion. JSON numbers arrive as float64.

func getString(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func getInt(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

func getInt64(args map[string]interface{}, key string) (int64, bool) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

func getBool(args map[string]interface{}, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func getStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getInt64Slice(args map[string]interface{}, key string) []int64 {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(raw))
	for _, item := range raw {
		if f, ok := item.(float64); ok {
			out = append(out, int64(f))
		}
	}
	return out
}

// getForceEdges decodes the forceRelationships argument. FromID is filled in
// by the pipeline after the save assigns an id.
func getForceEdges(args map[string]interface{}, key string, fromID string) []types.GraphEdge {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]types.GraphEdge, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		edge := types.GraphEdge{
			FromID: fromID,
			ToID:   getString(obj, "to_id"),
			Type:   types.EdgeType(getString(obj, "type")),
		}
		if edge.Type == "" {
			edge.Type = types.EdgeRelatedTo
		}
		if s, ok := obj["strength"].(float64); ok {
			edge.Strength = s
		}
		if edge.ToID != "" {
			out = append(out, edge)
		}
	}
	return out
}

func failure(format string, a ...interface{}) map[string]interface{} {
	return map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf(format, a...),
	}
}

func (ms *MemoryServer) handleMemoryStatus(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	report := ms.deps.Pipeline.Status(ctx)

	out := map[string]interface{}{
		"success": true,
		"status":  report,
	}
	if getBool(args, "autostart", false) {
		// Container lifecycle is out of scope; report which backends would
		// need it so the operator can act.
		var unreachable []string
		if !report.Relational.OK {
			unreachable = append(unreachable, "relational")
		}
		if !report.Vector.OK {
			unreachable = append(unreachable, "vector")
		}
		if report.GraphEnabled && !report.Graph.OK {
			unreachable = append(unreachable, "graph")
		}
		out["autostart_requested"] = unreachable
	}
	return out, nil
}

func (ms *MemoryServer) handleSaveMemoryFull(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	category := getString(args, "category")
	topic := getString(args, "topic")
	content := getString(args, "content")

	m := &types.Memory{Category: category, Topic: topic, Content: content}
	if err := m.Validate(); err != nil {
		return failure("%v", err), nil
	}

	// Edge sources are rewritten to the new memory's node after the save.
	force := getForceEdges(args, "forceRelationships", "")

	receipt, err := ms.deps.Pipeline.Save(ctx, category, topic, content, force)
	if err != nil {
		ms.logger.ErrorContext(ctx, "Save failed", "category", category, "error", err)
		return failure("save failed: %v", err), nil
	}
	return map[string]interface{}{
		"success": true,
		"receipt": receipt,
	}, nil
}

func (ms *MemoryServer) handleSaveMemorySQL(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	m := &types.Memory{
		Category: getString(args, "category"),
		Topic:    getString(args, "topic"),
		Content:  getString(args, "content"),
	}
	if err := m.Validate(); err != nil {
		return failure("%v", err), nil
	}

	saved, err := ms.deps.Relational.SaveMemory(ctx, m.Category, m.Topic, m.Content)
	if err != nil {
		return failure("save failed: %v", err), nil
	}
	return map[string]interface{}{
		"success": true,
		"memory":  saved,
	}, nil
}

func (ms *MemoryServer) handleUpdateMemorySQL(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	id, ok := getInt64(args, "id")
	if !ok {
		return failure("id is required"), nil
	}

	var upd relational.MemoryUpdate
	if v, ok := args["topic"].(string); ok {
		upd.Topic = &v
	}
	if v, ok := args["content"].(string); ok {
		upd.Content = &v
	}
	if v, ok := args["category"].(string); ok {
		upd.Category = &v
	}

	found, warning, err := ms.deps.Pipeline.Update(ctx, id, upd)
	if err != nil {
		return failure("update failed: %v", err), nil
	}
	if !found {
		return failure("memory %d not found", id), nil
	}
	return map[string]interface{}{
		"success": true,
		"id":      id,
		"warning": warning,
	}, nil
}

func (ms *MemoryServer) handleMoveMemorySQL(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	id, ok := getInt64(args, "id")
	if !ok {
		return failure("id is required"), nil
	}
	newCategory := getString(args, "new_category")
	if strings.TrimSpace(newCategory) == "" {
		return failure("new_category cannot be empty"), nil
	}

	found, warning, err := ms.deps.Pipeline.Move(ctx, id, newCategory)
	if err != nil {
		return failure("move failed: %v", err), nil
	}
	if !found {
		return failure("memory %d not found", id), nil
	}
	return map[string]interface{}{
		"success":  true,
		"id":       id,
		"category": newCategory,
		"warning":  warning,
	}, nil
}

func (ms *MemoryServer) handleRecallCategory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	category := getString(args, "category")
	if category == "" {
		return failure("category is required"), nil
	}
	limit := getInt(args, "limit", defaultListLimit)

	rows, err := ms.deps.Relational.ByCategory(ctx, category, limit)
	if err != nil {
		return failure("recall failed: %v", err), nil
	}
	return map[string]interface{}{
		"success":  true,
		"category": category,
		"count":    len(rows),
		"memories": rows,
	}, nil
}

func (ms *MemoryServer) handleGetRecentMemories(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	limit := getInt(args, "limit", defaultListLimit)

	rows, err := ms.deps.Relational.Recent(ctx, limit)
	if err != nil {
		return failure("recent lookup failed: %v", err), nil
	}
	return map[string]interface{}{
		"success":  true,
		"count":    len(rows),
		"memories": rows,
	}, nil
}

func (ms *MemoryServer) handleListCategories(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	counts, err := ms.deps.Relational.ListCategories(ctx)
	if err != nil {
		return failure("category listing failed: %v", err), nil
	}
	return map[string]interface{}{
		"success":    true,
		"count":      len(counts),
		"categories": counts,
	}, nil
}

func (ms *MemoryServer) handleSearchIntelligent(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	query := getString(args, "query")
	if strings.TrimSpace(query) == "" {
		return failure("query is required"), nil
	}

	strategy := getString(args, "rerankStrategy")
	if strategy != "" && !rerank.ValidStrategy(strategy) {
		return failure("unknown rerank strategy %q", strategy), nil
	}

	result := ms.deps.Pipeline.SearchIntelligent(ctx, query,
		getStringSlice(args, "categories"),
		getBool(args, "enableReranking", false),
		strategy)
	return result, nil
}

func (ms *MemoryServer) handleSearchWithGraph(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	query := getString(args, "query")
	if strings.TrimSpace(query) == "" {
		return failure("query is required"), nil
	}

	result := ms.deps.Pipeline.SearchWithGraph(ctx, query,
		getStringSlice(args, "categories"),
		getBool(args, "includeRelated", true),
		getInt(args, "maxRelationshipDepth", 2))
	return result, nil
}

func (ms *MemoryServer) handleGraphContext(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	id, ok := getInt64(args, "memoryId")
	if !ok {
		return failure("memoryId is required"), nil
	}
	depth := getInt(args, "relationshipDepth", 2)

	hood, err := ms.deps.Pipeline.GraphContext(ctx, id, depth)
	if err != nil {
		return failure("graph context failed: %v", err), nil
	}
	if filter := getStringSlice(args, "relationshipTypes"); len(filter) > 0 {
		hood = filterNeighborhood(hood, filter)
	}
	return map[string]interface{}{
		"success":   true,
		"memory_id": id,
		"depth":     depth,
		"nodes":     hood.Nodes,
		"edges":     hood.Edges,
	}, nil
}

// filterNeighborhood keeps only edges of the requested types, and only nodes
// still reachable through a kept edge (plus the center node, if present).
func filterNeighborhood(hood *types.GraphNeighborhood, edgeTypes []string) *types.GraphNeighborhood {
	allowed := make(map[types.EdgeType]bool, len(edgeTypes))
	for _, t := range edgeTypes {
		allowed[types.EdgeType(t)] = true
	}

	out := &types.GraphNeighborhood{}
	keep := make(map[string]bool)
	for _, e := range hood.Edges {
		if !allowed[e.Type] {
			continue
		}
		out.Edges = append(out.Edges, e)
		keep[e.FromID] = true
		keep[e.ToID] = true
	}
	for _, n := range hood.Nodes {
		if keep[n.ID] {
			out.Nodes = append(out.Nodes, n)
		}
	}
	return out
}

func (ms *MemoryServer) handleGraphStatistics(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	stats, err := ms.deps.Pipeline.GraphStats(ctx)
	if err != nil {
		return failure("graph statistics failed: %v", err), nil
	}
	return map[string]interface{}{
		"success": true,
		"stats":   stats,
	}, nil
}

func (ms *MemoryServer) handleRetrieveAdvanced(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	id, ok := getInt64(args, "memoryId")
	if !ok {
		return failure("memoryId is required"), nil
	}

	adv, err := ms.deps.Pipeline.RetrieveAdvanced(ctx, id)
	if err != nil {
		return failure("retrieve failed: %v", err), nil
	}
	if adv.Memory == nil && len(adv.Concepts) == 0 {
		return failure("memory %d not found", id), nil
	}
	return map[string]interface{}{
		"success": true,
		"memory":  adv,
	}, nil
}

func (ms *MemoryServer) handleBatchAnalyze(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	ids := getInt64Slice(args, "memory_ids")
	if len(ids) == 0 {
		return failure("memory_ids cannot be empty"), nil
	}

	if getBool(args, "background", true) {
		jobID, err := ms.deps.Jobs.Submit(ctx, ids)
		if err != nil {
			return failure("submit failed: %v", err), nil
		}
		return map[string]interface{}{
			"success":    true,
			"job_id":     jobID,
			"background": true,
		}, nil
	}

	jobID, results, err := ms.deps.Jobs.RunSync(ctx, ids)
	if err != nil {
		return failure("analysis failed: %v", err), nil
	}
	return map[string]interface{}{
		"success":    true,
		"job_id":     jobID,
		"background": false,
		"results":    results,
	}, nil
}

func (ms *MemoryServer) handleAnalysisStatus(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	jobID := getString(args, "job_id")
	if jobID == "" {
		return failure("job_id is required"), nil
	}

	job, err := ms.deps.Jobs.Status(ctx, jobID)
	if err != nil {
		return failure("status lookup failed: %v", err), nil
	}
	if job == nil {
		return failure("unknown job %s", jobID), nil
	}
	return map[string]interface{}{
		"success": true,
		"job":     job,
	}, nil
}

func (ms *MemoryServer) handleAnalysisResult(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	jobID := getString(args, "job_id")
	if jobID == "" {
		return failure("job_id is required"), nil
	}

	job, err := ms.deps.Jobs.Status(ctx, jobID)
	if err != nil {
		return failure("result lookup failed: %v", err), nil
	}
	if job == nil {
		return failure("unknown job %s", jobID), nil
	}

	results, err := ms.deps.Jobs.Results(ctx, jobID)
	if err != nil {
		return failure("result lookup failed: %v", err), nil
	}
	return map[string]interface{}{
		"success": true,
		"job":     job,
		"results": results,
	}, nil
}

func (ms *MemoryServer) handleTestLLMConnection(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)

	chat := map[string]interface{}{
		"model": ms.deps.Chat.Model(),
		"ok":    true,
	}
	if err := ms.deps.Chat.Health(ctx); err != nil {
		chat["ok"] = false
		chat["error"] = err.Error()
	}

	embedding := map[string]interface{}{
		"model":     ms.deps.Embedder.Model(),
		"dimension": ms.deps.Embedder.Dimension(),
		"ok":        true,
	}
	if err := ms.deps.Embedder.Health(ctx); err != nil {
		embedding["ok"] = false
		embedding["error"] = err.Error()
	}

	return map[string]interface{}{
		"success":   chat["ok"] == true && embedding["ok"] == true,
		"chat":      chat,
		"embedding": embedding,
	}, nil
}

func (ms *MemoryServer) handleReadSystemLogs(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if ms.deps.LogSink == nil {
		return failure("log file not configured"), nil
	}
	lines := getInt(args, "lines", 50)
	filter := getString(args, "filter")

	tail, err := ms.deps.LogSink.Tail(lines, filter)
	if err != nil {
		return failure("log read failed: %v", err), nil
	}
	return map[string]interface{}{
		"success": true,
		"path":    ms.deps.LogSink.Path(),
		"count":   len(tail),
		"lines":   tail,
	}, nil
}

func (ms *MemoryServer) handleExecuteDirective(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	ctx = traceCtx(ctx)
	content, err := ms.readDirective()
	if err != nil {
		ms.logger.WarnContext(ctx, "Directive read failed", "path", ms.deps.DirectivePath, "error", err)
		return failure("directive read failed: %v", err), nil
	}
	return map[string]interface{}{
		"success":   true,
		"directive": content,
	}, nil
}
