package timeline

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotIMSC1 is returned when payload does not parse as a TTML/IMSC1
// document.
var ErrNotIMSC1 = fmt.Errorf("timeline: not an IMSC1 payload")

// IMSC1Codec is the textCodec value adopted once an IMSC1 parse succeeds,
// once an IMSC1 parse succeeds.
const IMSC1Codec = "stpp"

type ttDocument struct {
	XMLName xml.Name `xml:"tt"`
	Body    ttBody   `xml:"body"`
}

type ttBody struct {
	Divs []ttDiv `xml:"div"`
}

type ttDiv struct {
	Paragraphs []ttParagraph `xml:"p"`
}

type ttParagraph struct {
	Begin string `xml:"begin,attr"`
	End   string `xml:"end,attr"`
	Text  string `xml:",chardata"`
}

// parseIMSC1 parses a TTML/IMSC1 payload into presentation-time cue ranges.
func parseIMSC1(payload []byte) ([]CueRange, error) {
	var doc ttDocument
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return nil, ErrNotIMSC1
	}

	var cues []CueRange
	for _, div := range doc.Body.Divs {
		for _, p := range div.Paragraphs {
			start, err := parseTTMLTime(p.Begin)
			if err != nil {
				continue
			}
			end, err := parseTTMLTime(p.End)
			if err != nil {
				continue
			}
			cues = append(cues, CueRange{Start: start, End: end, Text: strings.TrimSpace(p.Text)})
		}
	}
	if len(cues) == 0 {
		return nil, ErrNotIMSC1
	}
	return cues, nil
}

// parseTTMLTime parses the clock-time form of a TTML timeExpression:
// "HH:MM:SS.mmm" or "HH:MM:SS:FF" (frames dropped).
func parseTTMLTime(t string) (float64, error) {
	fields := strings.Split(t, ":")
	if len(fields) < 3 {
		return 0, fmt.Errorf("timeline: malformed ttml time %q", t)
	}
	hours, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return 0, err
	}
	return float64(hours*3600+minutes*60) + seconds, nil
}
