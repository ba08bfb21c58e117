// Package dynamo provides the core run primitives shared by every component
// of a molecular dynamics job:
//
//   - [Context]: the explicit per-run state (particles, phase, counters, RNG)
//   - [Phase]: the forward-only run state machine
//   - [Fix]: the closed set of components, tagged by [FixKind], with one
//     capability interface per kind
//   - the error taxonomy ([ConfigError], [InstabilityError], [IOError])
//   - [ParallelFor]: deterministic chunked parallel loops
//
// # Example
//
//	ctx := dynamo.NewContext(sys, 0.002, 1234, logger)
//	if err := ctx.EnterPhase(dynamo.Equilibrating, 5000); err != nil {
//		return err
//	}
//
// # Thread Safety
//
// A Context belongs to a single run loop and is NOT thread-safe. Only the
// pair-force kernel fans out, through [ParallelFor], and it never touches the
// Context.
package dynamo
