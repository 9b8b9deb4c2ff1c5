/*
Package glimpse is an adaptive image-delivery pipeline.

For every image request it reserves layout space with a tiny placeholder, defers the
download until the target approaches the viewport, asks an external transformation
service for a resized next-generation encoding when the runtime can decode one, and
falls back to the untouched source when the transformed asset fails.

# Architecture

The load state machine lives in internal/runtime and is driven by three ports:

  - ports.CapabilityProbe: can the runtime decode the next-generation format? Probed once per process.
  - ports.VisibilityPort: when does the target become visible?
  - ports.AssetLoader: retrieve a delivery URL and report the outcome.

Adapters for each live under pkg/adapters. Hosts observe progress through
domain.Callbacks (OnLoad, OnError) and domain.LifecycleHooks.

# Usage

	pipe, err := glimpse.New(glimpse.WithHostOrigin("example.com"))
	if err != nil {
		log.Fatal(err)
	}

	req := domain.NewImageRequest("https://example.com/img/hero.jpg")
	req.Width = 800
	req.Priority = true

	img, err := pipe.Mount(ctx, req, "hero", domain.Callbacks{
		OnLoad: func(info domain.LoadInfo) { log.Println("loaded", info.DeliveryURL) },
	})
	if err != nil {
		log.Fatal(err)
	}
	defer img.Teardown()
*/
package glimpse
