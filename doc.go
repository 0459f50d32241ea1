// Package steward is an agent runtime that lets a conversational LLM
// assistant call a fixed catalog of read/write tools on behalf of a user
// while enforcing a per-session autonomy level that gates which tool risk
// classes may execute without explicit human approval.
//
// # Quick Start
//
// Build a catalog, wire a store and model provider, and run turns:
//
//	catalog := steward.NewCatalog()
//	catalog.Add(market.New())
//	catalog.Add(production.New())
//	catalog.Add(shopping.New())
//
//	store := sqlite.New("steward.db")
//	rt := steward.NewRuntime(provider, catalog, store,
//		steward.WithMaxIterations(5),
//		steward.WithSystemPrompt("You are a helpful assistant."))
//
//	sess, _ := rt.CreateSession(ctx, "user-1", steward.AutonomyL1)
//	result, err := rt.RunTurn(ctx, sess.ID, "How much does copper ore sell for?")
//
// When a proposed tool call exceeds the session's autonomy ceiling,
// RunTurn returns an [*ErrAwaitingApproval] and suspends. The turn resumes
// only through an explicit decision:
//
//	var pending *steward.ErrAwaitingApproval
//	if errors.As(err, &pending) {
//	    result, err = rt.Approve(ctx, pending.SessionID, pending.PlanID)
//	}
//
// # Core Components
//
//   - [Catalog] - static tool name to risk tier + executor mapping
//   - [Accumulator] - rebuilds complete tool calls from streamed fragments
//   - [Decide] - pure autonomy × risk authorization policy
//   - [ExecuteWithRetry] - bounded retry with exponential backoff
//   - [EventSink] - ordered per-session progress event fan-out
//   - [Runtime] - the agentic loop driving one turn end to end
//
// Persistence lives behind [Store] (store/sqlite, store/postgres) and the
// model behind [Provider]. Both are collaborators; the runtime owns the
// loop state machine only.
package steward
