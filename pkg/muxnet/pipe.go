package muxnet

import (
	"io"
	"sync"
)

// Pipe concurrently copies in both directions between two socket-like objects.
// As soon as either direction ends (EOF or error) both objects are closed, which
// unblocks the other direction; Pipe returns once both copies have stopped.
// sent counts bytes copied from a to b, received counts bytes copied from b to a.
func Pipe(a io.ReadWriteCloser, b io.ReadWriteCloser) (sent int64, received int64) {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			a.Close()
			b.Close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		received, _ = io.Copy(a, b)
		closeBoth()
	}()
	go func() {
		defer wg.Done()
		sent, _ = io.Copy(b, a)
		closeBoth()
	}()
	wg.Wait()
	return sent, received
}
