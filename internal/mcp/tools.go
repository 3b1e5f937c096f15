package mcp

import (
	mcp "github.com/fredcamaral/gomcp-sdk"
)

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func intProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": desc}
}

func boolProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": desc}
}

func stringArrayProp(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": desc,
	}
}

// registerTools wires the full tool surface.
func (ms *MemoryServer) registerTools() {
	ms.mcpServer.AddTool(mcp.NewTool(
		"memory_status",
		"Report health and statistics for every memory backend (relational, vector, graph).",
		mcp.ObjectSchema("Status parameters", map[string]interface{}{
			"autostart": boolProp("Request external container startup for unreachable backends"),
		}, nil),
	), mcp.ToolHandlerFunc(ms.handleMemoryStatus))

	ms.mcpServer.AddTool(mcp.NewTool(
		"save_memory_full",
		"Save a memory through the full pipeline: classification, significance routing, vector concepts, and graph relationships.",
		mcp.ObjectSchema("Save parameters", map[string]interface{}{
			"category": stringProp("Free-form category; 'core_memories' bypasses classification"),
			"topic":    stringProp("Short topic line"),
			"content":  stringProp("Memory content; must be non-empty"),
			"forceRelationships": map[string]interface{}{
				"type":        "array",
				"description": "Explicit edges to create: [{to_id, type, strength}]",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"to_id":    stringProp("Target node id"),
						"type":     stringProp("Edge type, e.g. RELATED_TO"),
						"strength": map[string]interface{}{"type": "number", "description": "Edge strength in [0,1]"},
					},
				},
			},
		}, []string{"category", "topic", "content"}),
	), mcp.ToolHandlerFunc(ms.handleSaveMemoryFull))

	ms.mcpServer.AddTool(mcp.NewTool(
		"save_memory_sql",
		"Save a memory to the relational store only, without classification or enrichment.",
		mcp.ObjectSchema("Save parameters", map[string]interface{}{
			"category": stringProp("Free-form category"),
			"topic":    stringProp("Short topic line"),
			"content":  stringProp("Memory content; must be non-empty"),
		}, []string{"category", "topic", "content"}),
	), mcp.ToolHandlerFunc(ms.handleSaveMemorySQL))

	ms.mcpServer.AddTool(mcp.NewTool(
		"update_memory_sql",
		"Update topic, content, or category of an existing memory. Vector and graph records are not rewritten.",
		mcp.ObjectSchema("Update parameters", map[string]interface{}{
			"id":       intProp("Memory id"),
			"topic":    stringProp("New topic"),
			"content":  stringProp("New content"),
			"category": stringProp("New category"),
		}, []string{"id"}),
	), mcp.ToolHandlerFunc(ms.handleUpdateMemorySQL))

	ms.mcpServer.AddTool(mcp.NewTool(
		"move_memory_sql",
		"Move a memory to another category. Vector and graph records are not rewritten.",
		mcp.ObjectSchema("Move parameters", map[string]interface{}{
			"id":           intProp("Memory id"),
			"new_category": stringProp("Target category; must be non-empty"),
		}, []string{"id", "new_category"}),
	), mcp.ToolHandlerFunc(ms.handleMoveMemorySQL))

	ms.mcpServer.AddTool(mcp.NewTool(
		"recall_category",
		"List memories in one category, newest first.",
		mcp.ObjectSchema("Recall parameters", map[string]interface{}{
			"category": stringProp("Category to list"),
			"limit":    intProp("Maximum rows, default 10"),
		}, []string{"category"}),
	), mcp.ToolHandlerFunc(ms.handleRecallCategory))

	ms.mcpServer.AddTool(mcp.NewTool(
		"get_recent_memories",
		"List the most recently saved memories across all categories.",
		mcp.ObjectSchema("Recent parameters", map[string]interface{}{
			"limit": intProp("Maximum rows, default 10"),
		}, nil),
	), mcp.ToolHandlerFunc(ms.handleGetRecentMemories))

	ms.mcpServer.AddTool(mcp.NewTool(
		"list_categories",
		"List every category with its memory count.",
		mcp.ObjectSchema("List parameters", map[string]interface{}{}, nil),
	), mcp.ToolHandlerFunc(ms.handleListCategories))

	ms.mcpServer.AddTool(mcp.NewTool(
		"search_memories_intelligent",
		"Unified search across the relational and vector stores with adaptive strategy and optional reranking.",
		mcp.ObjectSchema("Search parameters", map[string]interface{}{
			"query":           stringProp("Search query"),
			"categories":      stringArrayProp("Restrict to these categories"),
			"enableReranking": boolProp("Apply the reranker to merged results"),
			"rerankStrategy":  stringProp("Rerank strategy: text, llm, or hybrid (default hybrid)"),
		}, []string{"query"}),
	), mcp.ToolHandlerFunc(ms.handleSearchIntelligent))

	ms.mcpServer.AddTool(mcp.NewTool(
		"search_memories_with_graph",
		"Unified search expanded with graph neighbors of the top results.",
		mcp.ObjectSchema("Search parameters", map[string]interface{}{
			"query":                stringProp("Search query"),
			"categories":           stringArrayProp("Restrict to these categories"),
			"includeRelated":       boolProp("Pull in graph neighbors (default true)"),
			"maxRelationshipDepth": intProp("Traversal depth, 1-4 (default 2)"),
		}, []string{"query"}),
	), mcp.ToolHandlerFunc(ms.handleSearchWithGraph))

	ms.mcpServer.AddTool(mcp.NewTool(
		"get_graph_context_for_memory",
		"Return the graph neighborhood around one memory.",
		mcp.ObjectSchema("Graph context parameters", map[string]interface{}{
			"memoryId":          intProp("Memory id"),
			"relationshipDepth": intProp("Traversal depth, 1-4 (default 2)"),
			"relationshipTypes": stringArrayProp("Filter edges to these types"),
		}, []string{"memoryId"}),
	), mcp.ToolHandlerFunc(ms.handleGraphContext))

	ms.mcpServer.AddTool(mcp.NewTool(
		"get_graph_statistics",
		"Report node, edge, and per-type edge counts for the graph store.",
		mcp.ObjectSchema("Statistics parameters", map[string]interface{}{}, nil),
	), mcp.ToolHandlerFunc(ms.handleGraphStatistics))

	ms.mcpServer.AddTool(mcp.NewTool(
		"retrieve_memory_advanced",
		"Return one memory with its stored concepts and graph neighborhood.",
		mcp.ObjectSchema("Retrieve parameters", map[string]interface{}{
			"memoryId": intProp("Memory id"),
		}, []string{"memoryId"}),
	), mcp.ToolHandlerFunc(ms.handleRetrieveAdvanced))

	ms.mcpServer.AddTool(mcp.NewTool(
		"batch_analyze_memories",
		"Classify a batch of memories. Runs in the background by default and returns a job id.",
		mcp.ObjectSchema("Batch parameters", map[string]interface{}{
			"memory_ids": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "integer"},
				"description": "Memory ids to analyze",
			},
			"background": boolProp("Run asynchronously (default true)"),
		}, []string{"memory_ids"}),
	), mcp.ToolHandlerFunc(ms.handleBatchAnalyze))

	ms.mcpServer.AddTool(mcp.NewTool(
		"get_analysis_status",
		"Report status and progress of an analysis job.",
		mcp.ObjectSchema("Status parameters", map[string]interface{}{
			"job_id": stringProp("Job id returned by batch_analyze_memories"),
		}, []string{"job_id"}),
	), mcp.ToolHandlerFunc(ms.handleAnalysisStatus))

	ms.mcpServer.AddTool(mcp.NewTool(
		"get_analysis_result",
		"Return the per-memory results of an analysis job.",
		mcp.ObjectSchema("Result parameters", map[string]interface{}{
			"job_id": stringProp("Job id returned by batch_analyze_memories"),
		}, []string{"job_id"}),
	), mcp.ToolHandlerFunc(ms.handleAnalysisResult))

	ms.mcpServer.AddTool(mcp.NewTool(
		"test_llm_connection",
		"Probe the chat and embedding providers.",
		mcp.ObjectSchema("Probe parameters", map[string]interface{}{}, nil),
	), mcp.ToolHandlerFunc(ms.handleTestLLMConnection))

	ms.mcpServer.AddTool(mcp.NewTool(
		"read_system_logs",
		"Return the tail of the server log file.",
		mcp.ObjectSchema("Log parameters", map[string]interface{}{
			"lines":  intProp("Number of lines, default 50"),
			"filter": stringProp("Case-insensitive substring filter"),
		}, nil),
	), mcp.ToolHandlerFunc(ms.handleReadSystemLogs))

	ms.mcpServer.AddTool(mcp.NewTool(
		"execute_special_directive",
		"Read the configured directive file and return its contents verbatim.",
		mcp.ObjectSchema("Directive parameters", map[string]interface{}{}, nil),
	), mcp.ToolHandlerFunc(ms.handleExecuteDirective))
}
