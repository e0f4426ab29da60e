package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskOutboxSend = "email.outbox.send"

// OutboxSendPayload carries a claimed outbox row to the worker that sends it.
// The lock token proves the claim, so a stale task cannot send twice.
type OutboxSendPayload struct {
	OutboxID  string `json:"outboxId"`
	LockToken string `json:"lockToken"`
}

func NewOutboxSendTask(payload OutboxSendPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboxSend, data), nil
}

func ParseOutboxSendPayload(task *asynq.Task) (OutboxSendPayload, error) {
	var payload OutboxSendPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OutboxSendPayload{}, err
	}
	return payload, nil
}
