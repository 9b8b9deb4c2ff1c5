/*
Package domain contains the core domain models and the pure transition logic of the Glimpse
image-delivery pipeline.

It defines the per-request state machine (LoadState, Event, Next), the request configuration
(ImageRequest) and the values handed to the rendering layer (RenderState, PlaceholderToken,
LoadInfo). This package is kept pure and free of external dependencies like I/O or timers,
following Hexagonal Architecture principles: ports and adapters drive it from the outside.

# Key Entities

  - ImageRequest: Configuration and identity of one image-loading attempt.
  - LoadState: The per-request state value (Idle, Observing, Loading, Loaded, ...).
  - Next: The transition table. Given a state and a typed event it returns the states entered
    and the side effects the controller must perform.
  - RenderState: The snapshot consumed by the rendering layer.
*/
package domain
