// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package model // import "feedkeeper.app/internal/model"

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the persisted state of a queued job. A job being executed has
// no dedicated status, it stays pending and is locked by its claimer.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusFailed  JobStatus = "failed"
)

// Job represents a row of the jobs queue.
type Job struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Key       []byte          `json:"key" db:"key"`
	Data      json.RawMessage `json:"data" db:"data"`
	Status    JobStatus       `json:"status" db:"status"`
	Attempts  int             `json:"attempts" db:"attempts"`
	Error     string          `json:"error,omitempty" db:"error"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Payload decodes the job data.
func (j *Job) Payload() (Payload, error) { return UnmarshalPayload(j.Data) }

// Kind returns the kind tag of the job data without decoding the rest of
// it. An empty kind is returned for malformed data.
func (j *Job) Kind() JobKind {
	var head payloadHead
	if err := json.Unmarshal(j.Data, &head); err != nil {
		return ""
	}
	return head.Kind
}

// JobStats counts jobs by status.
type JobStats struct {
	Pending int64 `db:"pending"`
	Failed  int64 `db:"failed"`
}
