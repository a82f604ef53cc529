// Package budget fits prompt context into a token budget.
//
// Token cost is estimated as ceil(len/4). Allocate splits a total budget
// across named sections by weight, returns unused share to a pool and gives
// the pool to sections that need more in a single round. Section text is cut
// to its final allocation with a "[TRUNCATED]" marker, so a report's
// TotalUsed may exceed TotalBudget by the marker's few tokens per cut
// section.
//
// BuildBudgetedContext is the builder the agent runtime uses.
// BuildDeterministicContext is the simpler single-cut form.
package budget
