// Package blackboard provides the shared fact/artifact store that the crew
// scheduler's policies observe and react to. Facts are typed key/value
// entries with upsert semantics; artifacts are append-only named work
// products. Every mutation publishes a change event to all subscribers, in
// the order the mutations were applied, whether or not the stored value
// changed.
//
// The store is backed by Redis. All keys and channels are namespaced by
// instance name so multiple instances can safely share one Redis server.
// Queries are snapshot reads, not live views.
package blackboard
