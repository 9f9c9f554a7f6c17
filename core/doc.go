// Package core contains the shared data model and contracts of the taskmesh
// orchestration engine: the append-only Event model, the Decision/Operation
// vocabulary produced by decision oracles, the event log store interface,
// step budgets and the per-run execution context.
//
// All higher level packages (gateway, batch, worker, scheduler, workflow)
// depend on core; core depends on nothing but logging and the standard
// library. Interfaces that would otherwise create package cycles
// (ToolInvoker, WorkerRunner, LogStore, Oracle) live here so concrete
// implementations can be swapped freely.
package core
