/*
Package ports defines the driven ports (interfaces) of the goplan orchestrator.

These interfaces decouple the core from external implementations, allowing the
workflow to run against various checkpoint backends and collaborator services.

# Key Interfaces

  - CheckpointStore: persists and loads ConversationState by conversation ID.
  - DistributedLocker: provides cross-replica locking for single-writer access.
  - Extractor, Recommender, Synthesizer: the opaque text-producing collaborators.
  - Forecaster: weather lookup used by the activity recommender.
  - FlightSearcher, HotelSearcher: live searches the flight and hotel recommenders are grounded on.
*/
package ports
