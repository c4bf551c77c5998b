package builder

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/docker/docker/pkg/jsonmessage"
)

const summaryLines = 20

var stepPattern = regexp.MustCompile(`^Step \d+/\d+ : `)

// buildOutput is what the engine keeps from a build stream.
type buildOutput struct {
	imageID     string
	currentStep string
	failedLayer string
	errMessage  string
	lines       []string
}

func (o *buildOutput) add(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	if stepPattern.MatchString(line) {
		o.currentStep = line
	}
	o.lines = append(o.lines, line)
	if len(o.lines) > summaryLines {
		o.lines = o.lines[len(o.lines)-summaryLines:]
	}
}

func (o *buildOutput) summary() string {
	return strings.Join(o.lines, "\n")
}

func (o *buildOutput) failed() bool {
	return o.errMessage != ""
}

// parseBuildStream decodes the daemon's JSON message stream until EOF. A
// non-nil error means the stream itself broke, not that the build failed.
func parseBuildStream(r io.Reader) (*buildOutput, error) {
	out := &buildOutput{}
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}

		if msg.Stream != "" {
			for _, line := range strings.Split(msg.Stream, "\n") {
				out.add(line)
			}
		}

		if msg.Aux != nil {
			var aux struct {
				ID string `json:"ID"`
			}
			if err := json.Unmarshal(*msg.Aux, &aux); err == nil && aux.ID != "" {
				out.imageID = aux.ID
			}
		}

		errText := msg.ErrorMessage
		if msg.Error != nil && msg.Error.Message != "" {
			errText = msg.Error.Message
		}
		if errText != "" {
			out.errMessage = strings.TrimSpace(errText)
			out.failedLayer = out.currentStep
			out.add(out.errMessage)
		}
	}
}
