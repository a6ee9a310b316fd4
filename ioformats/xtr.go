package ioformats

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/qbi-lab/madym/image"
)

// XtrType selects which metadata side-car format WriteXtr emits, matching
// mdm_XtrFormat::XTR_type's OLD_XTR/NEW_XTR split.
type XtrType int

const (
	NoXtr XtrType = iota
	OldXtr
	NewXtr
)

// WriteXtr writes baseName+".xtr", either the old four-line
// voxel-dimensions/flip-angle/TR/timestamp format or the new flat
// key-value format, from the subset of im.Meta the format carries.
func WriteXtr(baseName string, im *image.Image, typeFlag XtrType) error {
	if typeFlag == NoXtr {
		return nil
	}
	f, err := os.Create(baseName + ".xtr")
	if err != nil {
		return &IOError{Msg: fmt.Sprintf("ioformats: creating %s.xtr: %v", baseName, err)}
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	if typeFlag == OldXtr {
		return writeOldXtr(w, im)
	}
	return writeNewXtr(w, im)
}

func writeOldXtr(w *bufio.Writer, im *image.Image) error {
	dx, dy, dz := im.Spacing()
	ts := im.Meta.Timestamp
	hrs := int(ts / 10000)
	mins := int((ts - float64(hrs)*10000) / 100)
	secs := ts - float64(hrs)*10000 - float64(mins)*100

	_, err := fmt.Fprintf(w,
		"voxel dimensions:\t%g %g %g\nflip angle:\t%g\nTR:\t%g\ntimestamp:\t%d %d %g %g\n",
		dx, dy, dz, im.Meta.FlipAngle, im.Meta.TR, hrs, mins, secs, ts)
	if err != nil {
		return &IOError{Msg: fmt.Sprintf("ioformats: writing old xtr: %v", err)}
	}
	return nil
}

// metaFields enumerates the key-value pairs the new xtr format round-trips
// (spec.md §4.12 acquisition metadata fields it names).
func metaFields(im *image.Image) []struct {
	key string
	val float64
} {
	m := im.Meta
	return []struct {
		key string
		val float64
	}{
		{"FlipAngle", m.FlipAngle},
		{"TR", m.TR},
		{"TE", m.TE},
		{"TI", m.TI},
		{"B", m.B},
		{"TimeStamp", m.Timestamp},
		{"OriginX", m.OriginX},
		{"OriginY", m.OriginY},
		{"OriginZ", m.OriginZ},
	}
}

func writeNewXtr(w *bufio.Writer, im *image.Image) error {
	for _, kv := range metaFields(im) {
		if _, err := fmt.Fprintf(w, "%s:\t%g\n", kv.key, kv.val); err != nil {
			return &IOError{Msg: fmt.Sprintf("ioformats: writing new xtr: %v", err)}
		}
	}
	return nil
}

// ReadXtr reads baseName+".xtr" and merges its fields into im.Meta,
// auto-detecting the old four-line format (first token "voxel"/"Voxel")
// versus the new key-value format, matching
// mdm_XtrFormat::readAnalyzeXtr's sniff.
func ReadXtr(baseName string, im *image.Image) error {
	f, err := os.Open(baseName + ".xtr")
	if err != nil {
		return &IOError{Msg: fmt.Sprintf("ioformats: opening %s.xtr: %v", baseName, err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return &IOError{Msg: fmt.Sprintf("ioformats: reading %s.xtr: %v", baseName, err)}
	}
	if len(lines) == 0 {
		return &IOError{Msg: fmt.Sprintf("ioformats: %s.xtr is empty", baseName)}
	}

	first := strings.Fields(lines[0])
	if len(first) > 0 && (strings.EqualFold(first[0], "voxel")) {
		return readOldXtr(lines, im)
	}
	return readNewXtr(lines, im)
}

func readOldXtr(lines []string, im *image.Image) error {
	for _, line := range lines {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		fields := strings.Fields(parts[1])
		switch strings.ToLower(key) {
		case "voxel dimensions":
			if len(fields) >= 3 {
				dx, _ := strconv.ParseFloat(fields[0], 64)
				dy, _ := strconv.ParseFloat(fields[1], 64)
				dz, _ := strconv.ParseFloat(fields[2], 64)
				im.DX, im.DY, im.DZ = dx, dy, dz
			}
		case "flip angle":
			if len(fields) >= 1 {
				im.Meta.FlipAngle, _ = strconv.ParseFloat(fields[0], 64)
			}
		case "tr":
			if len(fields) >= 1 {
				im.Meta.TR, _ = strconv.ParseFloat(fields[0], 64)
			}
		case "timestamp":
			if len(fields) >= 4 {
				im.Meta.Timestamp, _ = strconv.ParseFloat(fields[3], 64)
			}
		}
	}
	return nil
}

func readNewXtr(lines []string, im *image.Image) error {
	for _, line := range lines {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			continue
		}
		switch key {
		case "FlipAngle":
			im.Meta.FlipAngle = val
		case "TR":
			im.Meta.TR = val
		case "TE":
			im.Meta.TE = val
		case "TI":
			im.Meta.TI = val
		case "B":
			im.Meta.B = val
		case "TimeStamp":
			im.Meta.Timestamp = val
		case "OriginX":
			im.Meta.OriginX = val
		case "OriginY":
			im.Meta.OriginY = val
		case "OriginZ":
			im.Meta.OriginZ = val
		}
	}
	return nil
}
