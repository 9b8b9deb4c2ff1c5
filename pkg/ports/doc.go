/*
Package ports defines the driven ports (interfaces) of the Glimpse pipeline.

These interfaces decouple the load controller from host-platform constructs, allowing the
same state machine to run behind a browser-like viewport, a headless renderer or an HTTP
service.

# Key Interfaces

  - VisibilityPort: One-shot notification when a render target becomes sufficiently visible.
  - CapabilityProbe: Whether the runtime can decode the next-generation encoding.
  - AssetLoader: Non-blocking retrieval of the bytes behind a delivery URL.
  - SnapshotStore: Persistence of render snapshots for hosts that poll them.
  - DistributedLocker: Serializes snapshot writes across replicas.
*/
package ports
