// Package process launches child processes and drives their I/O without
// blocking the host.
//
// A Reactor owns every live child. Spawn creates the child with three pipes
// and returns a Handle; output is pushed to the consumers bound at spawn time
// while the reactor is being driven, either by Run on its own goroutine or by
// the host calling Step from its event loop.
//
//	r, err := process.New(process.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	h, err := r.SpawnString(`sh -c "echo hello"`, process.SpawnOptions{
//	    OnOutput: func(chunk []byte) error {
//	        fmt.Print(string(chunk))
//	        return nil
//	    },
//	    OnExit: func(status int) error {
//	        fmt.Println("exit", status)
//	        return nil
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	return r.RunUntilIdle(ctx)
//
// # Readiness strategies
//
// StrategyEvent registers one epoll watch per output descriptor and one
// pidfd watch per child (Linux only). StrategyPoll keeps a Registry of live
// handles and, on every tick, polls the union of their descriptors and does
// a non-blocking wait on each child. StrategyAuto picks the event strategy
// when the kernel supports it.
//
// # Consumers
//
// Consumers run with the reactor's dispatch lock held, one at a time. They
// may call Write, Close, Kill and Status on any handle, and may spawn new
// children, but must not call Wait. A consumer error or panic is logged and
// the stream continues.
//
// When no output consumer is given, stdout is not watched and is read with
// Handle.Read instead.
//
// # Termination
//
// When a child exits the reactor drains what is left in its pipes, calls the
// exit consumer with the raw status, closes all three pipes and marks the
// handle terminated. Output still buffered in the kernel after the drain can
// be lost; the flush is best effort. Wait observes the same exit
// synchronously and the teardown runs only once.
//
// # Exit status
//
// The status is passed through as the operating system reports it. On Unix
// it is the wait status (exit code in bits 8-15, terminating signal in the
// low 7 bits); on Windows it is the process exit code. ExitCode and Signaled
// decode it.
package process
