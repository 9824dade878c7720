package pipeline

import (
	"strings"

	"github.com/snarg/juicer/internal/audio"
	"github.com/snarg/juicer/internal/transcribe"
)

// chunkResult is one transcribed byte range.
type chunkResult struct {
	rng  audio.Range
	resp *transcribe.Response
}

// merge joins chunk texts with single spaces and shifts each chunk's
// segments onto the timeline of the whole file. With a known duration the
// offset is the chunk's proportional position, start/size·duration. Without
// one the offsets accumulate each chunk's own span. Byte offsets only
// approximate time for variable bitrate audio, so segment times are clamped
// to never go backwards. It returns the duration of the merged timeline.
func merge(parts []chunkResult, size int64, duration float64) (string, []transcribe.Segment, float64) {
	var texts []string
	var segments []transcribe.Segment
	last, elapsed := 0.0, 0.0

	for _, p := range parts {
		if p.resp == nil {
			continue
		}
		if t := strings.TrimSpace(p.resp.Text); t != "" {
			texts = append(texts, t)
		}
		offset := elapsed
		if duration > 0 {
			offset = 0
			if size > 0 {
				offset = float64(p.rng.Start) / float64(size) * duration
			}
		}
		for _, s := range p.resp.Segments {
			at := s.Time + offset
			if at < last {
				at = last
			}
			last = at
			segments = append(segments, transcribe.Segment{Time: at, Text: s.Text})
		}
		elapsed += span(p.resp)
	}

	text := strings.Join(texts, " ")
	if len(segments) == 0 && text != "" {
		segments = []transcribe.Segment{{Time: 0, Text: text}}
	}
	if duration <= 0 {
		duration = elapsed
	}
	return text, segments, duration
}

// span is how much audio a chunk response covers: the reported duration,
// else the start of its last segment.
func span(resp *transcribe.Response) float64 {
	if resp.Duration > 0 {
		return resp.Duration
	}
	var end float64
	for _, s := range resp.Segments {
		end = max(end, s.Time)
	}
	return end
}
