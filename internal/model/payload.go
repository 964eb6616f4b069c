package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// JobKind is the discriminator embedded in every job payload.
type JobKind string

const (
	JobKindFetchFeed       JobKind = "fetch_feed"
	JobKindBackfillFavicon JobKind = "backfill_favicon"
)

var (
	ErrUnknownJobKind = errors.New("model: unknown job kind")
	ErrInvalidPayload = errors.New("model: invalid job payload")
)

// JobKinds returns every kind a worker must be able to dispatch.
func JobKinds() []JobKind {
	return []JobKind{JobKindFetchFeed, JobKindBackfillFavicon}
}

// Payload is the tagged union stored in the data column of a job.
type Payload interface {
	Kind() JobKind
	// Key returns the idempotency key of the job carrying this payload.
	Key() []byte
}

// FetchFeed asks for a feed to be fetched and its new entries ingested.
type FetchFeed struct {
	FeedID int64 `json:"feed_id"`
}

var _ Payload = (*FetchFeed)(nil)

func NewFetchFeed(feedID int64) *FetchFeed { return &FetchFeed{FeedID: feedID} }

func (*FetchFeed) Kind() JobKind { return JobKindFetchFeed }

func (self *FetchFeed) Key() []byte {
	return strconv.AppendInt([]byte(JobKindFetchFeed+":"), self.FeedID, 10)
}

func (self *FetchFeed) validate() error {
	if self.FeedID <= 0 {
		return fmt.Errorf("%w: feed_id must be positive, got %d",
			ErrInvalidPayload, self.FeedID)
	}
	return nil
}

// BackfillFavicon is a batch job, it selects its own feeds.
type BackfillFavicon struct{}

var _ Payload = (*BackfillFavicon)(nil)

func NewBackfillFavicon() *BackfillFavicon { return &BackfillFavicon{} }

func (*BackfillFavicon) Kind() JobKind { return JobKindBackfillFavicon }

func (*BackfillFavicon) Key() []byte { return []byte(JobKindBackfillFavicon) }

type payloadHead struct {
	Kind JobKind `json:"kind"`
}

// MarshalPayload encodes p as a JSON object with its kind tag added under
// the "kind" key.
func MarshalPayload(p Payload) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("model: marshal %s payload: %w", p.Kind(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("model: %s payload is not an object: %w",
			p.Kind(), err)
	} else if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}

	kind, err := json.Marshal(p.Kind())
	if err != nil {
		return nil, fmt.Errorf("model: marshal kind: %w", err)
	}
	fields["kind"] = kind

	b, err = json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("model: marshal %s payload: %w", p.Kind(), err)
	}
	return b, nil
}

// UnmarshalPayload decodes a payload produced by MarshalPayload.
func UnmarshalPayload(b []byte) (Payload, error) {
	var head payloadHead
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	var p Payload
	switch head.Kind {
	case JobKindFetchFeed:
		p = new(FetchFeed)
	case JobKindBackfillFavicon:
		p = new(BackfillFavicon)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobKind, head.Kind)
	}

	if err := json.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, head.Kind, err)
	}

	if v, ok := p.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return nil, err
		}
	}
	return p, nil
}
