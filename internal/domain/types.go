package domain

import "time"

// JobStatus tracks each lifecycle stage of a transcription job.
type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusDownloading  JobStatus = "downloading"
	JobStatusTranscribing JobStatus = "transcribing"
	JobStatusResuming     JobStatus = "resuming"
	JobStatusComplete     JobStatus = "complete"
	JobStatusFailed       JobStatus = "failed"
)

// Terminal reports whether no further transitions are possible without resume.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete
}

// Incomplete reports whether the job still has unfinished work.
func (s JobStatus) Incomplete() bool {
	switch s {
	case JobStatusPending, JobStatusDownloading, JobStatusTranscribing, JobStatusResuming, JobStatusFailed:
		return true
	default:
		return false
	}
}

// SourceKind distinguishes remote URLs from locally uploaded files.
type SourceKind string

const (
	SourceURL          SourceKind = "url"
	SourceUploadedFile SourceKind = "uploaded_file"
)

// Source identifies where the job's media comes from.
type Source struct {
	Kind SourceKind `json:"kind"`
	Ref  string     `json:"ref"`
}

// Resumable reports whether the source can be re-read after a failure.
// Uploaded files have no durable origin to fetch again.
func (s Source) Resumable() bool {
	return s.Kind == SourceURL
}

// Params contains user-selected transcription options for one job.
type Params struct {
	Language  string `json:"language"`
	Model     string `json:"model"`
	Translate bool   `json:"translate"`
	OutputDir string `json:"outputDir,omitempty"`
}

// Result contains final artifact paths and the merged transcript.
type Result struct {
	Transcript   string `json:"transcript"`
	TextPath     string `json:"textPath"`
	SubtitlePath string `json:"subtitlePath"`
	MediaPath    string `json:"mediaPath,omitempty"`
}

// Job stores one submitted transcription request and its evolving state.
type Job struct {
	ID           string    `json:"id"`
	Source       Source    `json:"source"`
	Params       Params    `json:"params"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	Error        string    `json:"error,omitempty"`
	Result       *Result   `json:"result,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	CheckpointAt time.Time `json:"checkpointAt"`
}

// SegmentUnit is one timestamped piece of transcript. Start and End are
// seconds on the global audio timeline, already shifted by the segment
// offset when recorded.
type SegmentUnit struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Segment is one fixed-duration slice of the source audio, the unit of
// checkpointed progress. Offset and Duration are seconds.
type Segment struct {
	Index    int           `json:"index"`
	Offset   float64       `json:"offset"`
	Duration float64       `json:"duration"`
	Done     bool          `json:"done"`
	Text     string        `json:"text,omitempty"`
	Units    []SegmentUnit `json:"units,omitempty"`
}

// Checkpoint records which segments of one audio source are transcribed.
// Segments holds completed segments in index order; Cursor is the index of
// the next segment to process and always equals len(Segments).
type Checkpoint struct {
	Fingerprint     string    `json:"fingerprint"`
	ParamsHash      string    `json:"paramsHash"`
	AudioPath       string    `json:"audioPath"`
	AudioDuration   float64   `json:"audioDuration"`
	SegmentDuration float64   `json:"segmentDuration"`
	TotalSegments   int       `json:"totalSegments"`
	Cursor          int       `json:"cursor"`
	Segments        []Segment `json:"segments"`
}

// Complete reports whether every segment has been transcribed.
func (c *Checkpoint) Complete() bool {
	return c != nil && c.TotalSegments > 0 && c.Cursor == c.TotalSegments
}

// Transcript is the merged output of all segments in index order.
type Transcript struct {
	Text  string        `json:"text"`
	Units []SegmentUnit `json:"units"`
}
