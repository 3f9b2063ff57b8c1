// Package manager is the inference orchestrator between the HTTP layer and
// the batching queue. It is structured into small files by concern:
//
//   - manager.go: Manager type, construction, warmup, shutdown, Info.
//   - config.go: Config and package defaults.
//   - errors.go: validation errors and Retryable.
//   - infer.go: Embed, Rerank, Predict and the shared submit path
//     (validate, tokenize, enqueue, await).
//   - postprocess.go: normalization, softmax, ranking.
//   - search.go: Index and Search over the pebble store.
//   - status_report.go: Status for /status.
//   - sanity.go: dependency checks for the `check` command.
//
// A request with N inputs becomes N queue entries. Nothing is enqueued until
// every input has been validated and tokenized; once enqueued, the first
// failure (or client cancellation) withdraws the siblings that are still
// pending.
package manager
