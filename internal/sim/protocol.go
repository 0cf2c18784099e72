package sim

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// The engine writes blank-line separated blocks to stdout. A block's first
// line names its audience:
//
//	update              omniscient lines for both players
//	sideupdate
//	p1                  lines for one side only
//
// Everything after the header is opaque protocol text.
const (
	blockUpdate     = "update"
	blockSideUpdate = "sideupdate"

	requestPrefix = "|request|"
	winPrefix     = "|win|"
	tieLine       = "|tie"
	errorPrefix   = "|error|"
)

// readEvents frames r into Events and sends them on out in order, closing
// out at EOF. Malformed blocks are skipped rather than killing the stream.
func readEvents(r io.Reader, out chan<- Event) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var block []string
	flush := func() {
		if len(block) == 0 {
			return
		}
		if ev, ok := parseBlock(block); ok {
			out <- ev
		}
		block = nil
	}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			flush()
			continue
		}
		block = append(block, line)
	}
	flush()
}

func parseBlock(block []string) (Event, bool) {
	switch block[0] {
	case blockUpdate:
		if len(block) < 2 {
			return Event{}, false
		}
		return Event{Scope: ScopeOmniscient, Lines: block[1:]}, true
	case blockSideUpdate:
		if len(block) < 3 {
			return Event{}, false
		}
		side := Side(strings.TrimSpace(block[1]))
		if !side.Valid() {
			return Event{}, false
		}
		return Event{Scope: ScopeSide, Side: side, Lines: block[2:]}, true
	default:
		return Event{}, false
	}
}

// RequestPayload returns the decision-request blob carried by ev, if any.
// The payload is engine-defined JSON and is stored and replayed verbatim.
func RequestPayload(ev Event) (json.RawMessage, bool) {
	for _, line := range ev.Lines {
		if rest, ok := strings.CutPrefix(line, requestPrefix); ok && rest != "" {
			return json.RawMessage(rest), true
		}
	}
	return nil, false
}

// Terminal reports whether ev carries the battle's terminal outcome. The
// returned winner is the engine's player name, empty on a tie.
func Terminal(ev Event) (winner string, terminal bool) {
	for _, line := range ev.Lines {
		if rest, ok := strings.CutPrefix(line, winPrefix); ok {
			return rest, true
		}
		if line == tieLine {
			return "", true
		}
	}
	return "", false
}

// IsErrorLine reports whether a line is an engine-side choice error.
func IsErrorLine(line string) bool {
	return strings.HasPrefix(line, errorPrefix)
}
