// Package runconfig loads the per-milestone config file: which of PL,
// FRB, or LA mode to run and that mode's parameters.
package runconfig

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Mode selects which milestone the process runs.
type Mode int

const (
	ModePL Mode = iota
	ModeFRB
	ModeLA
)

// PLConfig is the PL-mode config: send the strings "1".."M" to
// ReceiverID from every non-receiver process.
type PLConfig struct {
	M          int
	ReceiverID uint16
}

// FRBConfig is the FRB-mode config: FIFO-URB-broadcast "1".."M".
type FRBConfig struct {
	M int
}

// LARound is one round's line from an LA-mode config file: a set of
// distinct integers to propose.
type LARound struct {
	Values []int32
}

// LAConfig is the LA-mode config: NumRounds rounds, each proposing a set
// of at most MaxProposalSize distinct values drawn from
// NumDistinctElements possibilities.
type LAConfig struct {
	NumRounds           int
	MaxProposalSize     int
	NumDistinctElements int
	Rounds              []LARound
}

// Config is the parsed config file: exactly one of PL, FRB, LA is set,
// selected by Mode.
type Config struct {
	Mode Mode
	PL   PLConfig
	FRB  FRBConfig
	LA   LAConfig
}

// Load parses path according to mode. The file format varies per
// milestone: PL mode is "M ReceiverID"; FRB mode is "M"; LA mode is a
// header line "NumRounds MaxProposalSize NumDistinctElements" followed by
// one line of space-separated integers per round.
func Load(path string, mode Mode) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("runconfig: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := make([]string, 0)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r\n"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("runconfig: read %s: %w", path, err)
	}

	switch mode {
	case ModePL:
		return loadPL(path, lines)
	case ModeFRB:
		return loadFRB(path, lines)
	case ModeLA:
		return loadLA(path, lines)
	default:
		return nil, fmt.Errorf("runconfig: unknown mode %d", mode)
	}
}

func loadPL(path string, lines []string) (*Config, error) {
	if len(lines) < 1 {
		return nil, fmt.Errorf("runconfig: %s: expected `m receiver_id`", path)
	}
	fields := strings.Fields(lines[0])
	if len(fields) != 2 {
		return nil, fmt.Errorf("runconfig: %s: expected `m receiver_id`, got %q", path, lines[0])
	}
	m, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("runconfig: %s: invalid m %q: %w", path, fields[0], err)
	}
	receiver, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("runconfig: %s: invalid receiver_id %q: %w", path, fields[1], err)
	}
	return &Config{Mode: ModePL, PL: PLConfig{M: m, ReceiverID: uint16(receiver)}}, nil
}

func loadFRB(path string, lines []string) (*Config, error) {
	if len(lines) < 1 {
		return nil, fmt.Errorf("runconfig: %s: expected `m`", path)
	}
	m, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, fmt.Errorf("runconfig: %s: invalid m %q: %w", path, lines[0], err)
	}
	return &Config{Mode: ModeFRB, FRB: FRBConfig{M: m}}, nil
}

func loadLA(path string, lines []string) (*Config, error) {
	if len(lines) < 1 {
		return nil, fmt.Errorf("runconfig: %s: expected header `num_rounds max_proposal_size num_distinct_elements`", path)
	}
	header := strings.Fields(lines[0])
	if len(header) != 3 {
		return nil, fmt.Errorf("runconfig: %s: malformed header %q", path, lines[0])
	}
	numRounds, err := strconv.Atoi(header[0])
	if err != nil {
		return nil, fmt.Errorf("runconfig: %s: invalid num_rounds %q: %w", path, header[0], err)
	}
	maxProposalSize, err := strconv.Atoi(header[1])
	if err != nil {
		return nil, fmt.Errorf("runconfig: %s: invalid max_proposal_size %q: %w", path, header[1], err)
	}
	numDistinct, err := strconv.Atoi(header[2])
	if err != nil {
		return nil, fmt.Errorf("runconfig: %s: invalid num_distinct_elements %q: %w", path, header[2], err)
	}

	if len(lines)-1 < numRounds {
		return nil, fmt.Errorf("runconfig: %s: header declares %d rounds but only %d round lines follow", path, numRounds, len(lines)-1)
	}

	rounds := make([]LARound, numRounds)
	for i := 0; i < numRounds; i++ {
		fields := strings.Fields(lines[1+i])
		values := make([]int32, 0, len(fields))
		for _, field := range fields {
			v, err := strconv.ParseInt(field, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("runconfig: %s: round %d: invalid value %q: %w", path, i, field, err)
			}
			values = append(values, int32(v))
		}
		if maxProposalSize > 0 && len(values) > maxProposalSize {
			return nil, fmt.Errorf("runconfig: %s: round %d: %d values exceeds max_proposal_size %d", path, i, len(values), maxProposalSize)
		}
		rounds[i] = LARound{Values: values}
	}

	return &Config{Mode: ModeLA, LA: LAConfig{
		NumRounds:           numRounds,
		MaxProposalSize:     maxProposalSize,
		NumDistinctElements: numDistinct,
		Rounds:              rounds,
	}}, nil
}
