package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"github.com/lanrat/extmerge"
)

var count = int(1e7) // 10M

func main() {
	ctx := context.Background()

	// create an input sequence with unsorted data
	input := func(yield func(extmerge.Record[int64]) bool) {
		for i := 0; i < count; i++ {
			if !yield(extmerge.Record[int64]{Key: rand.Int63()}) {
				return
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	config := extmerge.DefaultConfig()
	config.BufferSize = 1 << 16
	config.Logger = logger
	config.Observer = extmerge.NewLogObserver(logger)

	// create the sorter and start sorting
	sorter, err := extmerge.New(config, extmerge.WithCodec(extmerge.Int64Codec()))
	if err != nil {
		fmt.Printf("err: %s\n", err)
		os.Exit(1)
	}
	defer sorter.Close()

	run, err := sorter.Sort(ctx, input)
	if err != nil {
		fmt.Printf("err: %s\n", err)
		os.Exit(1)
	}
	defer sorter.Release(run)

	// print output sorted data
	for rec, err := range sorter.Records(ctx, run) {
		if err != nil {
			fmt.Printf("err: %s\n", err)
			return
		}
		fmt.Printf("%d\n", rec.Key)
	}
}
