package model

// GenerateJobPayload is the queue message handed from the enqueuing side to
// a worker. Its lifecycle is independent of the Task row: the queue may
// redeliver it after a crash, so the worker re-checks the Task state before
// doing anything.
type GenerateJobPayload struct {
	TaskID         string `json:"taskId"`
	UserID         string `json:"userId"`
	UploadID       string `json:"uploadId"`
	Plan           Plan   `json:"plan"`
	Gender         Gender `json:"gender"`
	IdempotencyKey string `json:"idempotencyKey"`
}
