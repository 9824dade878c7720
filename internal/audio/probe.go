package audio

import (
	"bytes"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/youpy/go-wav"
)

// Info describes uploaded content.
type Info struct {
	MediaType string  `json:"media_type"`
	Extension string  `json:"extension"`
	IsAudio   bool    `json:"is_audio"`
	Duration  float64 `json:"duration"` // seconds, 0 when the container isn't parsed
}

// Probe sniffs the media type from the content, falling back to the
// declared type when sniffing is inconclusive. Video containers count as
// audio since every provider accepts mp4/webm.
func Probe(content []byte, declared string) Info {
	declared, _, _ = strings.Cut(strings.TrimSpace(declared), ";")

	m := mimetype.Detect(content)
	info := Info{MediaType: baseType(m.String()), Extension: m.Extension()}
	for p := m; p != nil; p = p.Parent() {
		if isMediaType(p.String()) {
			info.IsAudio = true
			break
		}
	}
	if !info.IsAudio && info.MediaType == "application/octet-stream" && isMediaType(declared) {
		info.MediaType = declared
		info.IsAudio = true
		if dm := mimetype.Lookup(declared); dm != nil {
			info.Extension = dm.Extension()
		}
	}

	if m.Is("audio/wav") {
		info.Duration = wavDuration(content)
	}
	return info
}

func wavDuration(content []byte) float64 {
	r := wav.NewReader(bytes.NewReader(content))
	d, err := r.Duration()
	if err != nil {
		return 0
	}
	return d.Seconds()
}

func isMediaType(t string) bool {
	return strings.HasPrefix(t, "audio/") || strings.HasPrefix(t, "video/")
}

func baseType(t string) string {
	t, _, _ = strings.Cut(t, ";")
	return strings.TrimSpace(t)
}
