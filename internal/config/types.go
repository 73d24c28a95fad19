package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/livearc/livearc/internal/hook"
)

// Downloader selects the recording backend for a session.
const (
	DownloaderNative        = "native"  // in-process HTTP copier
	DownloaderFFmpeg        = "ffmpeg"  // external transcoder, single output
	DownloaderFFmpegSegment = "ffmpeg-segment"
)

// StringList accepts either a single scalar or a sequence in YAML.
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var ss []string
	if err := node.Decode(&ss); err != nil {
		return err
	}
	*l = StringList(ss)
	return nil
}

// Streamer is the per-key configuration block. Zero fields fall back to the
// global defaults via Config.Merged.
type Streamer struct {
	URL            StringList `yaml:"url"`
	Remark         string     `yaml:"remark"`
	FilenamePrefix string     `yaml:"filename_prefix"`
	Format         string     `yaml:"format"` // preferred container suffix (flv, ts, mp4, mkv)
	Uploader       string     `yaml:"uploader"`
	UploadTemplate string     `yaml:"upload_template"`

	Preprocessor        hook.Chain `yaml:"preprocessor"`
	SegmentProcessor    hook.Chain `yaml:"segment_processor"`
	DownloadedProcessor hook.Chain `yaml:"downloaded_processor"`
	Postprocessor       hook.Chain `yaml:"postprocessor"`

	SegmentTime              string   `yaml:"segment_time"` // HH:MM:SS
	FileSize                 int64    `yaml:"file_size"`    // bytes
	OptArgs                  []string `yaml:"opt_args"`
	Downloader               string   `yaml:"downloader"`
	SegmentProcessorParallel *bool    `yaml:"segment_processor_parallel"`
	UseLiveCover             *bool    `yaml:"use_live_cover"`
	IsDownload               bool     `yaml:"is_download"` // one-shot mode, skips the still-live loop
}

// Config is the full daemon configuration.
type Config struct {
	WorkDir  string `yaml:"workdir"`
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
	Listen   string `yaml:"listen"` // observability endpoint, empty disables

	EventLoopInterval  int `yaml:"event_loop_interval"` // seconds between polls in one group
	BatchCheckInterval int `yaml:"batch_check_interval"`
	CheckSourcecode    int `yaml:"check_sourcecode"` // hot-reload poll interval, seconds
	Pool1Size          int `yaml:"pool1_size"`
	Pool2Size          int `yaml:"pool2_size"`
	Delay              int `yaml:"delay"` // upload delay, seconds

	FilteringThreshold       int64  `yaml:"filtering_threshold"` // MiB, uploads skip & delete smaller files
	Downloader               string `yaml:"downloader"`
	FilenamePrefix           string `yaml:"filename_prefix"`
	SegmentTime              string `yaml:"segment_time"`
	FileSize                 int64  `yaml:"file_size"`
	UseLiveCover             bool   `yaml:"use_live_cover"`
	SegmentProcessorParallel bool   `yaml:"segment_processor_parallel"`

	Streamers map[string]Streamer `yaml:"streamers"`
}

func (c *Config) applyDefaults() {
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	if c.DBPath == "" {
		c.DBPath = "data/livearc.sqlite3"
	}
	if c.EventLoopInterval <= 0 {
		c.EventLoopInterval = 30
	}
	if c.BatchCheckInterval <= 0 {
		c.BatchCheckInterval = 30
	}
	if c.CheckSourcecode <= 0 {
		c.CheckSourcecode = 15
	}
	if c.Pool1Size <= 0 {
		c.Pool1Size = 5
	}
	if c.Pool2Size <= 0 {
		c.Pool2Size = 3
	}
	if c.Downloader == "" {
		c.Downloader = DownloaderNative
	}
}

// Merged returns the effective per-streamer settings for name, with global
// defaults filled in for absent fields.
func (c *Config) Merged(name string) Streamer {
	s := c.Streamers[name]
	if s.FilenamePrefix == "" {
		s.FilenamePrefix = c.FilenamePrefix
	}
	if s.SegmentTime == "" {
		s.SegmentTime = c.SegmentTime
	}
	if s.FileSize == 0 {
		s.FileSize = c.FileSize
	}
	if s.Downloader == "" {
		s.Downloader = c.Downloader
	}
	if s.SegmentProcessorParallel == nil {
		v := c.SegmentProcessorParallel
		s.SegmentProcessorParallel = &v
	}
	if s.UseLiveCover == nil {
		v := c.UseLiveCover
		s.UseLiveCover = &v
	}
	return s
}

// URLIndex maps each watched URL to its streamer key. Rebuilt on every config
// change.
type URLIndex map[string]string

// Index builds the URL → streamer-key mapping. It fails when two keys claim
// the same URL.
func (c *Config) Index() (URLIndex, error) {
	idx := make(URLIndex)
	for name, s := range c.Streamers {
		for _, u := range s.URL {
			if prev, ok := idx[u]; ok && prev != name {
				return nil, fmt.Errorf("config: url %q claimed by both %q and %q", u, prev, name)
			}
			idx[u] = name
		}
	}
	return idx, nil
}

// Validate checks startup invariants. Failures are fatal at startup.
func (c *Config) Validate() error {
	if len(c.Streamers) == 0 {
		return fmt.Errorf("config: no streamers configured")
	}
	for name, s := range c.Streamers {
		if len(s.URL) == 0 {
			return fmt.Errorf("config: streamer %q has no url", name)
		}
		switch s.Downloader {
		case "", DownloaderNative, DownloaderFFmpeg, DownloaderFFmpegSegment:
		default:
			return fmt.Errorf("config: streamer %q: unknown downloader %q", name, s.Downloader)
		}
	}
	if _, err := c.Index(); err != nil {
		return err
	}
	return nil
}
