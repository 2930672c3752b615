package runconfig

import (
	"fmt"
	"sort"
)

// Resolution is the time granularity of an output file.
type Resolution string

const (
	Daily  Resolution = "daily"
	Annual Resolution = "annual"
)

// Code returns the single-letter code used in output file names.
func (r Resolution) Code() string {
	switch r {
	case Daily:
		return "d"
	case Annual:
		return "a"
	default:
		return ""
	}
}

func (r Resolution) String() string {
	return string(r)
}

// ParseResolution accepts "daily"/"annual" and the file codes "d"/"a".
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "daily", "d":
		return Daily, nil
	case "annual", "a":
		return Annual, nil
	default:
		return "", fmt.Errorf("unknown resolution %q", s)
	}
}

// VariableSpec names one output variable at one resolution.
type VariableSpec struct {
	Name       string
	Resolution Resolution
}

func (v VariableSpec) String() string {
	return v.Resolution.Code() + "." + v.Name
}

// CatalogEntry binds an output variable to the switch that enables it.
type CatalogEntry struct {
	VariableSpec
	Flag string
}

// catalog lists the variables the simulation can write, in fetch order.
// The first enabled entry of a resolution probes a site's existence.
var catalog = []CatalogEntry{
	{VariableSpec{"gpp", Daily}, "loutdgpp"},
	{VariableSpec{"rd", Daily}, "loutdrd"},
	{VariableSpec{"transp", Daily}, "loutdtransp"},
	{VariableSpec{"wcont", Daily}, "loutwaterbal"},
	{VariableSpec{"aet", Daily}, "loutwaterbal"},
	{VariableSpec{"pet", Daily}, "loutwaterbal"},
	{VariableSpec{"fapar", Daily}, "loutdfapar"},
	{VariableSpec{"temp", Daily}, "loutdtemp"},

	{VariableSpec{"gpp", Annual}, "loutagpp"},
	{VariableSpec{"aet", Annual}, "loutaaet"},
	{VariableSpec{"pet", Annual}, "loutapet"},
	{VariableSpec{"transp", Annual}, "loutatransp"},
}

// Catalog returns a copy of the variable catalog.
func Catalog() []CatalogEntry {
	out := make([]CatalogEntry, len(catalog))
	copy(out, catalog)
	return out
}

// Variables returns the enabled variables for res in catalog order.
//
// The list is recomputed on every call.
func (c *RunConfiguration) Variables(res Resolution) []VariableSpec {
	var out []VariableSpec
	for _, e := range catalog {
		if e.Resolution == res && c.Flags[e.Flag] {
			out = append(out, e.VariableSpec)
		}
	}
	return out
}

// UnusedFlags returns the enabled switches that control no catalog
// variable, sorted.
func (c *RunConfiguration) UnusedFlags() []string {
	var out []string
	for name, on := range c.Flags {
		if on && !knownFlag(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// knownFlag reports whether a switch controls any catalog variable.
func knownFlag(name string) bool {
	for _, e := range catalog {
		if e.Flag == name {
			return true
		}
	}
	return false
}
