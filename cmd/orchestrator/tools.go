package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/delgross/ai-orchestrator-sub002/internal/apierrors"
	"github.com/delgross/ai-orchestrator-sub002/internal/circuit"
	"github.com/delgross/ai-orchestrator-sub002/internal/config"
	"github.com/delgross/ai-orchestrator-sub002/internal/statestore"
	"github.com/delgross/ai-orchestrator-sub002/pkg/agent"
	"github.com/delgross/ai-orchestrator-sub002/pkg/ingestion"
	"github.com/delgross/ai-orchestrator-sub002/pkg/mcptransport"
	"github.com/delgross/ai-orchestrator-sub002/pkg/memory"
	"github.com/delgross/ai-orchestrator-sub002/pkg/scheduler"
	"github.com/delgross/ai-orchestrator-sub002/pkg/sentinel"
	"github.com/delgross/ai-orchestrator-sub002/pkg/toolexec"
)

// internalToolDeps bundles everything the internal tool handlers reach.
type internalToolDeps struct {
	cfg      *config.Config
	mem      *memory.Client
	sched    *scheduler.Scheduler
	mcp      *mcptransport.Manager
	breakers *circuit.Registry
	sent     *sentinel.Sentinel
	pipeline *ingestion.Pipeline
}

// registerInternalTools wires the built-in tool surface into the executor
// and publishes each tool's wire schema on the engine.
func registerInternalTools(executor *toolexec.Executor, engine *agent.Engine, deps internalToolDeps) {
	objSchema := func(props map[string]any, required ...string) map[string]any {
		schema := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}

	executor.Register("get_system_status", func(ctx context.Context, _ map[string]any) (any, error) {
		return systemStatus(deps), nil
	})
	engine.RegisterInternalTool("get_system_status",
		"Report scheduler, circuit-breaker, and MCP server health.",
		objSchema(map[string]any{}))

	executor.Register("store_fact", func(ctx context.Context, args map[string]any) (any, error) {
		f, err := factFromArgs(args)
		if err != nil {
			return nil, err
		}
		id, err := deps.mem.StoreFact(ctx, f)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": id, "kb_id": f.KBID}, nil
	})
	engine.RegisterInternalTool("store_fact",
		"Persist one (entity, relation, target) fact in a knowledge base.",
		objSchema(map[string]any{
			"entity":     map[string]any{"type": "string"},
			"relation":   map[string]any{"type": "string"},
			"target":     map[string]any{"type": "string"},
			"context":    map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number"},
			"kb_id":      map[string]any{"type": "string"},
		}, "entity", "relation", "target"))

	executor.Register("update_fact", func(ctx context.Context, args map[string]any) (any, error) {
		f, err := factFromArgs(args)
		if err != nil {
			return nil, err
		}
		id, err := deps.mem.StoreFact(ctx, f)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": id, "kb_id": f.KBID}, nil
	})
	engine.RegisterInternalTool("update_fact",
		"Update a fact's context or confidence (upsert by entity/relation/target).",
		objSchema(map[string]any{
			"entity":     map[string]any{"type": "string"},
			"relation":   map[string]any{"type": "string"},
			"target":     map[string]any{"type": "string"},
			"context":    map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number"},
			"kb_id":      map[string]any{"type": "string"},
		}, "entity", "relation", "target"))

	executor.Register("query_facts", func(ctx context.Context, args map[string]any) (any, error) {
		kbID, _ := args["kb_id"].(string)
		entity, _ := args["entity"].(string)
		if kbID == "" {
			return nil, fmt.Errorf("%w: kb_id is required", apierrors.ErrValidation)
		}
		facts, err := deps.mem.QueryFacts(ctx, kbID, entity)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(facts))
		for _, f := range facts {
			out = append(out, map[string]any{
				"id": f.ID, "entity": f.Entity, "relation": f.Relation,
				"target": f.Target, "context": f.Context, "confidence": f.Confidence,
			})
		}
		return out, nil
	})
	engine.RegisterInternalTool("query_facts",
		"Query stored facts in a knowledge base, optionally by entity.",
		objSchema(map[string]any{
			"kb_id":  map[string]any{"type": "string"},
			"entity": map[string]any{"type": "string"},
		}, "kb_id"))

	executor.Register("delete_fact", func(ctx context.Context, args map[string]any) (any, error) {
		id, ok := args["id"].(float64)
		kbID, _ := args["kb_id"].(string)
		if !ok || kbID == "" {
			return nil, fmt.Errorf("%w: id and kb_id are required", apierrors.ErrValidation)
		}
		if err := deps.mem.DeleteFact(ctx, int64(id), kbID); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true}, nil
	})
	engine.RegisterInternalTool("delete_fact",
		"Delete one fact by id within a knowledge base.",
		objSchema(map[string]any{
			"id":    map[string]any{"type": "integer"},
			"kb_id": map[string]any{"type": "string"},
		}, "id", "kb_id"))

	executor.Register("trigger_ingestion", func(ctx context.Context, _ map[string]any) (any, error) {
		if deps.pipeline == nil {
			return nil, errors.New("ingestion pipeline is not running")
		}
		marker := filepath.Join(deps.cfg.System.RAGIngestDir, ".trigger_now")
		if err := os.WriteFile(marker, []byte("requested via trigger_ingestion\n"), 0o644); err != nil {
			return nil, fmt.Errorf("write trigger sentinel: %w", err)
		}
		go deps.pipeline.RunOnce(context.Background())
		return map[string]any{"triggered": true}, nil
	})
	engine.RegisterInternalTool("trigger_ingestion",
		"Force an immediate ingestion pass, including deferred heavy files.",
		objSchema(map[string]any{}))

	executor.Register("run_command", func(ctx context.Context, args map[string]any) (any, error) {
		command, _ := args["command"].(string)
		if command == "" {
			return nil, fmt.Errorf("%w: command is required", apierrors.ErrValidation)
		}
		verdict := deps.sent.Evaluate(ctx, command)
		if !verdict.Allowed {
			return nil, fmt.Errorf("%w: %s", apierrors.ErrSentinelBlocked, verdict.Reason)
		}
		execCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		out, err := exec.CommandContext(execCtx, "sh", "-c", command).CombinedOutput()
		if err != nil {
			return nil, fmt.Errorf("command failed: %w: %s", err, string(out))
		}
		return string(out), nil
	})
	engine.RegisterInternalTool("run_command",
		"Run a shell command after the three-tier safety check.",
		objSchema(map[string]any{
			"command": map[string]any{"type": "string"},
		}, "command"))
}

// factFromArgs builds a statestore.Fact from a tool argument map.
func factFromArgs(args map[string]any) (statestore.Fact, error) {
	entity, _ := args["entity"].(string)
	relation, _ := args["relation"].(string)
	target, _ := args["target"].(string)
	if entity == "" || relation == "" || target == "" {
		return statestore.Fact{}, fmt.Errorf("%w: entity, relation, and target are required", apierrors.ErrValidation)
	}
	factContext, _ := args["context"].(string)
	confidence, _ := args["confidence"].(float64)
	kbID, _ := args["kb_id"].(string)
	if kbID == "" {
		kbID = "default"
	}
	return statestore.Fact{
		Entity: entity, Relation: relation, Target: target,
		Context: factContext, Confidence: confidence, KBID: kbID,
	}, nil
}

// systemStatus assembles the get_system_status tool's payload.
func systemStatus(deps internalToolDeps) map[string]any {
	status := map[string]any{}

	if deps.sched != nil {
		tasks := map[string]any{}
		for _, snap := range deps.sched.Status() {
			tasks[snap.Name] = map[string]any{
				"enabled": snap.Enabled, "running": snap.Running,
				"runs": snap.RunCount, "errors": snap.ErrorCount,
			}
		}
		status["tasks"] = tasks
	}
	if deps.mcp != nil {
		status["mcp_failed"] = deps.mcp.FailedServers()
	}
	if deps.breakers != nil {
		breakers := map[string]any{"global": deps.breakers.State("global").String()}
		for name := range deps.cfg.MCPServerRegistry.GetAll() {
			breakers[name] = deps.breakers.State(name).String()
		}
		status["breakers"] = breakers
	}
	if deps.pipeline != nil {
		paused, reason := deps.pipeline.Paused()
		status["ingestion_paused"] = paused
		if paused {
			status["ingestion_pause_reason"] = reason
		}
	}
	return status
}
