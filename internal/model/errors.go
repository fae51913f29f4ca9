package model

import "fmt"

// FetchError reports a failure to pull items from one upstream source.
// It never feeds the failure streak on its own.
type FetchError struct {
	SourceKey string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.SourceKey, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RenderError reports a bug in message construction. It is fatal for
// the affected item only and must not affect other items in a batch.
type RenderError struct {
	ItemID string
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render item %s: %v", e.ItemID, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// DeliveryError reports a failed send to the external channel. It is
// the only error that feeds the failure streak and it stops further
// sends in the current cycle.
type DeliveryError struct {
	ChannelID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("send to channel %s: %v", e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
