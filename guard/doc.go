// Package guard compiles declarative post-condition expressions into a
// small boolean expression tree and evaluates them against a run's
// accumulated facet values. Guards are registered per capability, keyed by
// (facet, path), and evaluated after the capability produces its outputs;
// a failing evaluation is reported per guard rather than aborting its
// siblings.
package guard
