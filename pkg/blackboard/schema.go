package blackboard

import "fmt"

// Redis key and channel layout. Everything is prefixed
// autoflow:{instance}: so instances never collide.

// FactKey returns the Redis hash key for a fact.
func FactKey(instanceName, factKey string) string {
	return fmt.Sprintf("autoflow:%s:fact:%s", instanceName, factKey)
}

// FactScanPattern returns the SCAN pattern matching all fact keys for an
// instance.
func FactScanPattern(instanceName string) string {
	return fmt.Sprintf("autoflow:%s:fact:*", instanceName)
}

// ArtifactsKey returns the Redis list key holding the instance's artifacts.
func ArtifactsKey(instanceName string) string {
	return fmt.Sprintf("autoflow:%s:artifacts", instanceName)
}

// EventsChannel returns the Pub/Sub channel for blackboard change events.
func EventsChannel(instanceName string) string {
	return fmt.Sprintf("autoflow:%s:events", instanceName)
}
