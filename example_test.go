package glimpse_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/glimpse"
	"github.com/aretw0/glimpse/pkg/adapters/loader"
	"github.com/aretw0/glimpse/pkg/domain"
	"github.com/aretw0/glimpse/pkg/negotiate"
)

// ExampleNew mounts a priority image against a scripted loader where the
// transformed asset fails and the original succeeds.
func ExampleNew() {
	scripted := loader.NewScripted(true).Set("https://example.com/img/hero.jpg?w=800&q=75&f=nextgen", false)

	pipe, err := glimpse.New(
		glimpse.WithHostOrigin("example.com"),
		glimpse.WithProbe(negotiate.Static(true)),
		glimpse.WithLoader(scripted),
	)
	if err != nil {
		log.Fatal(err)
	}

	req := domain.NewImageRequest("https://example.com/img/hero.jpg")
	req.Width = 800
	req.Quality = 75
	req.Priority = true

	img, err := pipe.Mount(context.Background(), req, "hero", domain.Callbacks{
		OnLoad: func(info domain.LoadInfo) {
			fmt.Println("loaded", info.DeliveryURL, "fallback:", info.Fallback)
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	defer img.Teardown()

	fmt.Println(img.State())
	// Output:
	// loaded https://example.com/img/hero.jpg fallback: true
	// loaded
}

func ExamplePipeline_Compose() {
	pipe, err := glimpse.New(
		glimpse.WithHostOrigin("example.com"),
		glimpse.WithProbe(negotiate.Static(false)),
	)
	if err != nil {
		log.Fatal(err)
	}

	req := domain.NewImageRequest("/img/a.jpg")
	req.Width = 400
	req.Height = 300
	req.Quality = 80
	fmt.Println(pipe.Compose(req))

	req.SourceURL = "https://other.org/a.jpg"
	fmt.Println(pipe.Compose(req))
	// Output:
	// /img/a.jpg?w=400&h=300 original
	// https://other.org/a.jpg original
}
