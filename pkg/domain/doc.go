/*
Package domain contains the core data model of the goplan workflow orchestrator.

It defines the durable ConversationState threaded through every step, the partial
Update a step returns, the SuspendSignal/ResumeHandle interrupt protocol, lifecycle
events, and the error taxonomy. The package is kept pure and free of I/O.

# Key Entities

  - ConversationState: the per-conversation record (input, history, extraction, results, errors, final output).
  - Update: the partial state change a step produces; applied by the orchestrator under single-writer rules.
  - SuspendSignal: returned by a step to halt the workflow pending caller input.
  - ResumeHandle: what the caller needs to continue a suspended conversation.
  - Event: step-lifecycle notification consumed by subscribers and hooks.
*/
package domain
