package serialmux

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/headtrack/internal/pointtracker"
)

// Pose lines are NMEA-style sentences:
//
//	$HTPOS,<valid>,<yaw>,<pitch>,<roll>,<x>,<y>,<z>*<xor checksum>
//
// angles in degrees, translation in centimetres, two decimals.
const poseTalker = "HTPOS"

// FormatPoseLine renders one sample as a newline-terminated sentence.
func FormatPoseLine(s pointtracker.Sample) string {
	valid := 0
	if s.Valid {
		valid = 1
	}
	p := s.Pose
	body := fmt.Sprintf("%s,%d,%.2f,%.2f,%.2f,%.2f,%.2f,%.2f",
		poseTalker, valid, p.Yaw, p.Pitch, p.Roll, p.X, p.Y, p.Z)
	return fmt.Sprintf("$%s*%02X\n", body, checksum(body))
}

// ParsePoseLine is the inverse of FormatPoseLine; Time and the reprojection
// error are not carried on the wire.
func ParsePoseLine(line string) (pointtracker.Sample, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return pointtracker.Sample{}, fmt.Errorf("missing sentence start: %q", line)
	}
	body, sum, ok := strings.Cut(line[1:], "*")
	if !ok {
		return pointtracker.Sample{}, fmt.Errorf("missing checksum: %q", line)
	}
	want, err := strconv.ParseUint(sum, 16, 8)
	if err != nil || byte(want) != checksum(body) {
		return pointtracker.Sample{}, fmt.Errorf("bad checksum: %q", line)
	}

	fields := strings.Split(body, ",")
	if len(fields) != 8 || fields[0] != poseTalker {
		return pointtracker.Sample{}, fmt.Errorf("not a pose sentence: %q", line)
	}
	var vals [7]float64
	for i := range vals {
		if vals[i], err = strconv.ParseFloat(fields[i+1], 64); err != nil {
			return pointtracker.Sample{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	return pointtracker.Sample{
		Valid: vals[0] != 0,
		Pose: pointtracker.HeadPose{
			Yaw: vals[1], Pitch: vals[2], Roll: vals[3],
			X: vals[4], Y: vals[5], Z: vals[6],
		},
	}, nil
}

func checksum(body string) byte {
	var c byte
	for i := 0; i < len(body); i++ {
		c ^= body[i]
	}
	return c
}

// Command is a control request sent by the device.
type Command string

const (
	CommandCenter Command = "CENTER"
	CommandReset  Command = "RESET"
	CommandPause  Command = "PAUSE"
	CommandResume Command = "RESUME"
)

// ParseCommand recognises a bare command word, case-insensitively.
func ParseCommand(line string) (Command, bool) {
	switch c := Command(strings.ToUpper(strings.TrimSpace(line))); c {
	case CommandCenter, CommandReset, CommandPause, CommandResume:
		return c, true
	}
	return "", false
}

func (c Command) apply(ctrl Controller) {
	switch c {
	case CommandCenter:
		ctrl.Center()
	case CommandReset:
		ctrl.Reset()
	case CommandPause:
		ctrl.Pause()
	case CommandResume:
		ctrl.Resume()
	}
}
