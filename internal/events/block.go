package events

import "time"

// BlockGet is emitted after the block store read a block.
type BlockGet struct {
	Cid      string
	Size     int
	Err      error
	Start    time.Time
	Duration time.Duration
}

// BlockPut is emitted after the block store stored a value. Existed is set
// when the block was already present and nothing was written.
type BlockPut struct {
	Cid      string
	Size     int
	Existed  bool
	Err      error
	Start    time.Time
	Duration time.Duration
}
