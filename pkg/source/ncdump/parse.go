package ncdump

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/siterun/pkg/source"
)

const fillToken = "_"

var errVariableAbsent = errors.New("variable absent from dump")

// Parse extracts the time coordinate and one variable from CDL text.
//
// Variables with dimensions beyond time are reduced to one value per step
// by averaging the non-fill cells; a step whose cells are all fill is
// missing.
func Parse(cdl string, variable string) (*source.Array, error) {
	header, data, ok := strings.Cut(cdl, "\ndata:")
	if !ok {
		return nil, errors.New("no data section")
	}

	if !declares(header, variable) {
		return nil, errVariableAbsent
	}

	epoch, err := timeEpoch(header)
	if err != nil {
		return nil, err
	}

	values := map[string][]string{}
	if end := strings.LastIndex(data, "}"); end >= 0 {
		data = data[:end]
	}
	for _, stmt := range strings.Split(data, ";") {
		name, rhs, ok := strings.Cut(stmt, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		var toks []string
		for _, f := range strings.Split(rhs, ",") {
			f = strings.TrimSpace(f)
			if f != "" {
				toks = append(toks, f)
			}
		}
		values[name] = toks
	}

	timeToks, ok := values["time"]
	if !ok {
		return nil, errors.New("no time coordinate in dump")
	}
	varToks, ok := values[variable]
	if !ok {
		return nil, errVariableAbsent
	}

	arr := &source.Array{
		Time:    make([]float64, len(timeToks)),
		Values:  make([]float64, len(timeToks)),
		Missing: make([]bool, len(timeToks)),
		Epoch:   epoch,
	}
	for i, tok := range timeToks {
		if tok == fillToken {
			return nil, fmt.Errorf("time[%d] is a fill value", i)
		}
		v, err := parseNumber(tok)
		if err != nil {
			return nil, fmt.Errorf("time[%d]: %w", i, err)
		}
		arr.Time[i] = v
	}

	steps := len(timeToks)
	if steps == 0 {
		if len(varToks) != 0 {
			return nil, fmt.Errorf("%s has %d values but time is empty", variable, len(varToks))
		}
		return arr, nil
	}
	if len(varToks)%steps != 0 {
		return nil, fmt.Errorf("%s has %d values for %d time steps", variable, len(varToks), steps)
	}
	cells := len(varToks) / steps

	for i := 0; i < steps; i++ {
		var sum float64
		var n int
		for _, tok := range varToks[i*cells : (i+1)*cells] {
			if tok == fillToken {
				continue
			}
			v, err := parseNumber(tok)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", variable, i, err)
			}
			// Non-finite cells count as fill.
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sum += v
			n++
		}
		if n == 0 {
			arr.Missing[i] = true
			continue
		}
		arr.Values[i] = sum / float64(n)
	}
	return arr, nil
}

// declares reports whether the header section lists the variable.
func declares(header, variable string) bool {
	for _, line := range strings.Split(header, "\n") {
		line = strings.TrimSpace(line)
		typ, rest, ok := strings.Cut(line, " ")
		if !ok || typ == "" {
			continue
		}
		rest = strings.TrimSpace(rest)
		if strings.HasPrefix(rest, variable+"(") || rest == variable+" ;" {
			return true
		}
	}
	return false
}

// timeEpoch reads "days since Y-M-D" from the time units attribute.
func timeEpoch(header string) (time.Time, error) {
	for _, line := range strings.Split(header, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "time:units") {
			continue
		}
		_, rhs, _ := strings.Cut(line, "=")
		units := strings.Trim(strings.TrimSuffix(strings.TrimSpace(rhs), ";"), " \"")
		rest, ok := strings.CutPrefix(units, "days since ")
		if !ok {
			return time.Time{}, fmt.Errorf("unsupported time units %q", units)
		}
		datePart, _, _ := strings.Cut(strings.TrimSpace(rest), " ")
		datePart, _, _ = strings.Cut(datePart, "T")
		var y, m, d int
		if _, err := fmt.Sscanf(datePart, "%d-%d-%d", &y, &m, &d); err != nil {
			return time.Time{}, fmt.Errorf("unparseable time units %q: %w", units, err)
		}
		return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, nil
}

func parseNumber(tok string) (float64, error) {
	tok = strings.TrimRight(tok, "fFdDLlsSbB")
	if tok == "" {
		return 0, errors.New("empty number")
	}
	return strconv.ParseFloat(tok, 64)
}
