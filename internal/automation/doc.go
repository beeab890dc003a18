// Package automation provides the rule engine for Warden.
//
// Rules watch inbound messages (chat, webhooks, MQTT events) and, when a
// message satisfies the rule's trigger, dispatch a lifecycle action against
// one or more managed resources.
//
// Architecture:
//
//	┌────────────────────────────────────────────────────────┐
//	│              Orchestrator (orchestrator.go)             │
//	│  Single event loop fed by HandleEvent                   │
//	│  ┌──────────────┐    ┌───────────────┐                 │
//	│  │   Registry   │───▶│  Repository   │                 │
//	│  │(registry.go) │    │(repository.go)│                 │
//	│  └──────────────┘    └───────────────┘                 │
//	│        │                                                │
//	│        ▼                                                │
//	│  ┌──────────────────────────────────────────────┐      │
//	│  │  Per event, for each enabled rule by priority │      │
//	│  │  1. Matcher.Evaluate (matcher.go)             │      │
//	│  │  2. safety.Store.TryReserve per target        │      │
//	│  │  3. dispatch.Queue.Submit, or Skip on denial  │      │
//	│  └──────────────────────────────────────────────┘      │
//	└────────────────────────────────────────────────────────┘
//
// # Matching
//
// Evaluate short-circuits through five stages: prefilter (channel, source,
// webhook-only), regex (500ms budget, case-insensitive), ignore keywords,
// required keywords, trigger keywords (any/all). Keywords longer than four
// characters also match near-miss spellings.
//
// # Thread Safety
//
// Registry, Matcher and Orchestrator are safe for concurrent use from
// multiple goroutines.
//
// # Usage
//
//	repo := automation.NewSQLiteRepository(db)
//	registry := automation.NewRegistry(repo, defaults)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	orch := automation.NewOrchestrator(registry, automation.NewMatcher(0), store, queue, 0)
//	orch.SyncSettings()
//	go orch.Run(ctx)
//	_ = orch.HandleEvent(tc)
package automation
