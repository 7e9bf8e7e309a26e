/*
Package session serializes access to conversation checkpoints.

It pairs an in-process, reference-counted lock per conversation with an optional
distributed lock, so that only one writer touches a checkpoint at a time even when
several replicas share the same store.
*/
package session
