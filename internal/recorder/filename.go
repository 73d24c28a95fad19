package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// invalidChars matches everything that may not appear in a generated file
// name. Unicode letters and digits stay allowed because room titles are
// routinely CJK; \p{L}\p{N} covers what an ASCII \w misses.
var invalidChars = regexp.MustCompile(`[^-\p{L}\p{N}_.%{}\[\]【】「」（）・°\s]`)

// Sanitize strips disallowed characters. It is a fixed point: sanitizing a
// sanitized name returns it unchanged.
func Sanitize(s string) string {
	return invalidChars.ReplaceAllString(s, "")
}

// Namer generates unique segment paths from the streamer's filename_prefix
// template. Placeholders {streamer}, {title} and {url} are expanded first,
// then the result runs through strftime against the session start time.
type Namer struct {
	dir      string
	template string
	streamer string
	title    string
	url      string
	suffix   string
	start    time.Time
}

func NewNamer(dir, template, streamer, title, url, suffix string, start time.Time) *Namer {
	if template == "" {
		template = "{streamer}%Y-%m-%dT%H_%M_%S"
	}
	if title == "" {
		title = streamer
	}
	return &Namer{
		dir:      dir,
		template: template,
		streamer: streamer,
		title:    title,
		url:      url,
		suffix:   suffix,
		start:    start,
	}
}

func (n *Namer) expand(t time.Time) string {
	s := n.template
	s = strings.ReplaceAll(s, "{streamer}", n.streamer)
	s = strings.ReplaceAll(s, "{title}", n.title)
	s = strings.ReplaceAll(s, "{url}", n.url)
	s = strftime.Format(s, t)
	return Sanitize(s)
}

// Next returns a segment path that does not exist yet, neither as the final
// name nor as its .part intermediate. On collision the timestamp is advanced
// by whole seconds until the name is unique.
func (n *Namer) Next() (string, error) {
	for i := 0; ; i++ {
		if i >= 3600 {
			return "", fmt.Errorf("recorder: no unique name for %q within an hour of shifts", n.template)
		}
		base := n.expand(n.start)
		path := filepath.Join(n.dir, base+"."+n.suffix)
		if !exists(path) && !exists(path+".part") {
			return path, nil
		}
		n.start = n.start.Add(time.Second)
	}
}

// Base returns the expanded name for the current start time without the
// uniqueness walk. Used for the cover file, which may overwrite.
func (n *Namer) Base() string {
	return n.expand(n.start)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
