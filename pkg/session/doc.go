/*
Package session tracks mounted image requests and persists their render snapshots.

Live controllers stay on the replica that mounted them; snapshots are written to a
ports.SnapshotStore on every transition so any replica can answer status queries.
Writes for one request are serialized locally and, when a DistributedLocker is
configured, across replicas.
*/
package session
