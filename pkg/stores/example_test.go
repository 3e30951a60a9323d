package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/framegraph/framegraph/pkg/scene"
	"github.com/framegraph/framegraph/pkg/stores"
)

// ExampleSQLiteStore_SaveRevision records two snapshots of a project.
func ExampleSQLiteStore_SaveRevision() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: stores.MemoryPath})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	proj, err := store.EnsureProject(ctx, "intro.json")
	if err != nil {
		log.Fatal(err)
	}

	p := scene.NewProject()
	if _, err := store.SaveRevision(ctx, proj.ID, p, "empty"); err != nil {
		log.Fatal(err)
	}
	p = p.InsertNode(scene.NewNode(scene.NodeRect, "box"), 0)
	rev, err := store.SaveRevision(ctx, proj.ID, p, "add box")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(rev.Seq, rev.Message, rev.Nodes)
	// Output: 2 add box 1
}
