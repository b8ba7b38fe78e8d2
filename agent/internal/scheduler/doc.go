// Package scheduler moves telemetry from the category buffers to the sender
// pool.
//
// Scheduling is a static weighted round-robin. One cycle visits the
// categories in priority order (error, check_in, transaction, log) and gives
// each its weight in slots; unused slots are not lent to other categories.
// With the default weights 5/4/3/2 a cycle under sustained load dispatches
// exactly five errors, four check-ins, three transactions and two log
// batches, and errors are always dispatched first, so a handful of errors is
// never queued behind a flood of logs.
//
// A slot acquires one unit of the bounded sender pool before draining a
// single unit from the buffer. The pool therefore bounds both in-flight HTTP
// requests and the dequeue rate: when every worker is busy the scheduler
// waits and items stay in their (bounded) buffers.
//
// Run wakes on the buffers' notify channel or on a fallback tick and keeps
// cycling until every buffer is empty. Flush forces the same drain, ships any
// pending client report and waits for in-flight sends. Run and Flush share a
// drain lock so there is only ever one drainer.
//
// Delivery failures are terminal for the envelope. Retries happen inside the
// transport; nothing is put back into a buffer.
package scheduler
