package engine

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// parseProgressLine extracts the output position, in seconds, from one line
// of ffmpeg's -progress key=value stream.
func parseProgressLine(line string) (float64, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}
	value = strings.TrimSpace(value)
	if value == "" || value == "N/A" {
		return 0, false
	}

	switch key {
	case "out_time_us", "out_time_ms":
		// out_time_ms is microseconds too.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		return float64(us) / 1e6, true
	case "out_time":
		return parseClock(value)
	}
	return 0, false
}

// parseClock reads HH:MM:SS.ffffff.
func parseClock(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	return d.Seconds() + sec, true
}

// streamProgress reads ffmpeg's stderr until EOF. Progress keys are turned
// into fractions of total; every other line is copied to logs.
func streamProgress(r io.Reader, total float64, onProgress func(float64), logs io.Writer) {
	scanner := bufio.NewScanner(r)
	last := -1.0

	for scanner.Scan() {
		line := scanner.Text()

		if sec, ok := parseProgressLine(line); ok {
			if total <= 0 || onProgress == nil {
				continue
			}
			f := sec / total
			if f > 1 {
				f = 1
			}
			if f > last {
				last = f
				onProgress(f)
			}
			continue
		}

		if isProgressKey(line) {
			continue
		}
		if logs != nil {
			io.WriteString(logs, line+"\n")
		}
	}
}

var progressKeys = map[string]struct{}{
	"frame": {}, "fps": {}, "bitrate": {}, "total_size": {}, "dup_frames": {},
	"drop_frames": {}, "speed": {}, "progress": {}, "out_time": {},
	"out_time_us": {}, "out_time_ms": {},
}

func isProgressKey(line string) bool {
	key, _, ok := strings.Cut(line, "=")
	if !ok {
		return false
	}
	if _, ok := progressKeys[key]; ok {
		return true
	}
	return strings.HasPrefix(key, "stream_")
}
