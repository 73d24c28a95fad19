// Package event implements the typed event bus that carries URL lifecycle
// transitions across named worker pools.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event. The string values are the stable identifiers any
// additional handler must register against.
type Kind string

const (
	PreDownload Kind = "pre_download"
	Download    Kind = "download"
	Downloaded  Kind = "downloaded"
	Upload      Kind = "upload"
	Uploaded    Kind = "uploaded"
)

// StreamInfo describes a finished (or finishing) recording session. It is the
// payload of downloaded/upload/uploaded events.
type StreamInfo struct {
	Name       string
	URL        string
	Title      string
	Start      time.Time
	End        time.Time
	CoverPath  string
	IsDownload bool // one-shot download mode, skips the still-live loop
}

// Event is a lifecycle transition. Name and URL are set on pre_download and
// download events; Info is set on downloaded, upload and uploaded events.
// ID correlates one transition across handler logs.
type Event struct {
	ID   string
	Kind Kind
	Name string
	URL  string
	Info *StreamInfo
}

// NewPreDownload builds a pre_download event for a streamer key and URL.
func NewPreDownload(name, url string) Event {
	return Event{ID: uuid.NewString(), Kind: PreDownload, Name: name, URL: url}
}

// NewDownload builds a download event for a streamer key and URL.
func NewDownload(name, url string) Event {
	return Event{ID: uuid.NewString(), Kind: Download, Name: name, URL: url}
}

// NewDownloaded builds a downloaded event from a finished session.
func NewDownloaded(info *StreamInfo) Event {
	return Event{ID: uuid.NewString(), Kind: Downloaded, Name: info.Name, URL: info.URL, Info: info}
}

// NewUpload builds an upload event. Info may carry only Name and URL when the
// upload is a probe-for-pending-segments signal from the watcher.
func NewUpload(info *StreamInfo) Event {
	return Event{ID: uuid.NewString(), Kind: Upload, Name: info.Name, URL: info.URL, Info: info}
}

// NewUploaded builds an uploaded event.
func NewUploaded(info *StreamInfo) Event {
	return Event{ID: uuid.NewString(), Kind: Uploaded, Name: info.Name, URL: info.URL, Info: info}
}
