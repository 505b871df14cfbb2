package agent

import (
	"context"
	"sync"
)

// Parallel runs fn for every input concurrently and delivers the outputs on
// the returned channel in completion order. The channel is closed once every
// call has returned, which makes draining it a barrier: no caller moves on
// while a sibling is still running. Each call receives its own input and
// never sees a sibling's output.
//
// A panic in fn is converted with recovered, when set, and delivered like any other
// output so that one failing branch cannot tear down its siblings.
func Parallel[I, O any](ctx context.Context, inputs []I, fn func(context.Context, I) O, recovered func(I, any) O) <-chan O {
	out := make(chan O, len(inputs))

	var wg sync.WaitGroup

	for _, in := range inputs {
		wg.Add(1)

		go func(in I) {
			defer wg.Done()

			defer func() {
				if r := recover(); r != nil {
					if recovered == nil {
						panic(r)
					}

					out <- recovered(in, r)
				}
			}()

			out <- fn(ctx, in)
		}(in)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
