package redis

import "fmt"

// positionKey holds the last assigned position for a workflow instance.
func positionKey(keyPrefix, workflowID string) string {
	return fmt.Sprintf("%vposition:%v", keyPrefix, workflowID)
}

// streamKey is the HASH holding a workflow instance's messages, keyed by
// position.
func streamKey(keyPrefix, workflowID string) string {
	return fmt.Sprintf("%vstream:%v", keyPrefix, workflowID)
}

// pendingKey is the ZSET of not-yet-processed outbound command positions for
// a workflow instance, scored by position.
func pendingKey(keyPrefix, workflowID string) string {
	return fmt.Sprintf("%vpending:%v", keyPrefix, workflowID)
}

// workflowsKey is the SET of workflow ids with at least one message.
func workflowsKey(keyPrefix string) string {
	return keyPrefix + "workflows"
}
