package model

// SegmentStatus represents the lifecycle state of a single media segment
type SegmentStatus string

const (
	// SegmentStatusPending means the segment is queued but not started
	SegmentStatusPending SegmentStatus = "Pending"

	// SegmentStatusDownloading means the segment fetch is in progress
	SegmentStatusDownloading SegmentStatus = "Downloading"

	// SegmentStatusDecrypting means the segment bytes are being decrypted
	SegmentStatusDecrypting SegmentStatus = "Decrypting"

	// SegmentStatusReady means the segment plaintext is persisted to its slot
	SegmentStatusReady SegmentStatus = "Ready"

	// SegmentStatusFailed means the segment exhausted its retry budget
	SegmentStatusFailed SegmentStatus = "Failed"
)

// String returns the string representation of SegmentStatus
func (ss SegmentStatus) String() string {
	return string(ss)
}

// IsActive returns true if a worker currently owns the segment
func (ss SegmentStatus) IsActive() bool {
	return ss == SegmentStatusDownloading || ss == SegmentStatusDecrypting
}

// IsSettled returns true if the segment reached a terminal state
func (ss SegmentStatus) IsSettled() bool {
	return ss == SegmentStatusReady || ss == SegmentStatusFailed
}

// JobStatus represents the overall state of a download job
type JobStatus string

const (
	// JobStatusResolving means the playlist is being fetched and parsed
	JobStatusResolving JobStatus = "Resolving"

	// JobStatusDownloading means segment workers are running
	JobStatusDownloading JobStatus = "Downloading"

	// JobStatusAssembling means all segments are ready and the output is being produced
	JobStatusAssembling JobStatus = "Assembling"

	// JobStatusFinished means the final file was written successfully
	JobStatusFinished JobStatus = "Finished"

	// JobStatusFailed means the job hit a fatal error
	JobStatusFailed JobStatus = "Failed"

	// JobStatusCancelled means the job was cancelled by the user
	JobStatusCancelled JobStatus = "Cancelled"
)

// String returns the string representation of JobStatus
func (js JobStatus) String() string {
	return string(js)
}

// IsActive returns true if the job is still making progress
func (js JobStatus) IsActive() bool {
	return js == JobStatusResolving || js == JobStatusDownloading || js == JobStatusAssembling
}

// IsTerminal returns true if the job reached one of its three final outcomes
func (js JobStatus) IsTerminal() bool {
	return js == JobStatusFinished || js == JobStatusFailed || js == JobStatusCancelled
}
