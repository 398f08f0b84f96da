package http_test

import (
	"context"
	"fmt"
	"time"

	httpserver "github.com/fyrsmithlabs/coursechat/internal/http"
	"github.com/fyrsmithlabs/coursechat/internal/logging"
	"github.com/fyrsmithlabs/coursechat/internal/rag"
	"github.com/fyrsmithlabs/coursechat/internal/vectorstore"
)

// ExampleServer wires the API over an in-memory store with fixed models.
func ExampleServer() {
	store, err := vectorstore.NewMemoryStore(2, nil)
	if err != nil {
		panic(err)
	}
	embedder := rag.EmbedderFunc(func(_ context.Context, _ string) ([]float32, error) {
		return []float32{1, 0}, nil
	})
	generator := rag.GeneratorFunc(func(_ context.Context, p rag.Prompt) (string, error) {
		return "answer to: " + p.User, nil
	})

	svc, err := rag.NewService(store, embedder, generator, rag.Config{TopK: 4}, nil)
	if err != nil {
		panic(err)
	}

	server, err := httpserver.NewServer(svc, logging.NewNop(), &httpserver.Config{
		Host:           "localhost",
		Port:           8080,
		RequestTimeout: 90 * time.Second,
	})
	if err != nil {
		panic(err)
	}

	go func() {
		if err := server.Start(); err != nil {
			fmt.Printf("server stopped: %v\n", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}
