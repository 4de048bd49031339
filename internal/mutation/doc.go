// Package mutation turns accepted store writes into change events.
//
// Every write goes through the [Interceptor] or the [BulkDeleter]. Both run
// the store mutation inside the broadcaster's commit lock so the published
// event always matches the store state it describes.
package mutation
