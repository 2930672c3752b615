// Package consolidate merges per-year output files of a site into
// multi-year files.
//
// Yearly files are named {site}.{yyyy}.{rest}.nc; each group sharing {rest}
// merges into {site}.{rest}.nc. After a successful merge the yearly inputs are
// removed, so calling Consolidate again on the same directory reports the
// site as already consolidated and does not invoke the merger.
package consolidate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// Status summarises one Consolidate call.
type Status string

const (
	// StatusMerged means every group merged.
	StatusMerged Status = "merged"

	// StatusAlreadyConsolidated means no yearly files were found.
	StatusAlreadyConsolidated Status = "already_consolidated"

	// StatusPartial means at least one group failed to merge.
	StatusPartial Status = "partial"
)

// Defaults.
const (
	DefaultMaxAttempts  = 1
	DefaultRetryBackoff = 2 * time.Second
)

// LogPaths names the files a merge writes its output streams to.
type LogPaths struct {
	Stdout string
	Stderr string
}

// Merger concatenates inputs along time into target.
type Merger interface {
	Merge(ctx context.Context, inputs []string, target string, logs LogPaths) error
}

// Group is one set of yearly files sharing a merged target.
type Group struct {
	// Name is the merged file name without directory.
	Name   string
	Target string
	Inputs []string
	Years  []int
}

// GroupOutcome reports one group's merge.
type GroupOutcome struct {
	Group
	Attempts int
	Err      error
}

// Outcome reports one site's consolidation.
type Outcome struct {
	Site   string
	Status Status
	Groups []GroupOutcome
}

// Failed returns the groups that did not merge.
func (o *Outcome) Failed() []GroupOutcome {
	var out []GroupOutcome
	for _, g := range o.Groups {
		if g.Err != nil {
			out = append(out, g)
		}
	}
	return out
}

// Config configures a Consolidator.
type Config struct {
	Merger Merger

	// LogDir receives {site}/{group}.merge.stdout.log and .stderr.log.
	// Empty disables merge logs.
	LogDir string

	// MaxAttempts bounds merge attempts per group. Default: 1.
	MaxAttempts int

	// RetryBackoff is multiplied by the attempt number between attempts.
	RetryBackoff time.Duration

	Logger *zap.Logger
}

// Consolidator merges yearly files.
type Consolidator struct {
	cfg Config
}

// New creates a Consolidator with defaults applied.
func New(cfg Config) *Consolidator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Consolidator{cfg: cfg}
}

// Consolidate merges the site's yearly files under outputPath.
//
// Merge failures are recorded in the Outcome and do not stop other groups.
// An error is returned only when outputPath cannot be listed or ctx ends.
func (c *Consolidator) Consolidate(ctx context.Context, site, outputPath string) (*Outcome, error) {
	groups, err := Discover(outputPath, site)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Site: site}
	if len(groups) == 0 {
		out.Status = StatusAlreadyConsolidated
		c.cfg.Logger.Warn("No yearly files to merge, outputs already consolidated",
			zap.String("site", site),
			zap.String("path", outputPath),
		)
		return out, nil
	}
	if c.cfg.Merger == nil {
		return nil, fmt.Errorf("consolidate %s: no merger configured", site)
	}

	out.Status = StatusMerged
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := c.mergeGroup(ctx, site, g)
		if res.Err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			out.Status = StatusPartial
			c.cfg.Logger.Warn("Merge failed, yearly files kept",
				zap.String("site", site),
				zap.String("target", g.Target),
				zap.Int("attempts", res.Attempts),
				zap.Error(res.Err),
			)
		}
		out.Groups = append(out.Groups, res)
	}
	return out, nil
}

func (c *Consolidator) mergeGroup(ctx context.Context, site string, g Group) GroupOutcome {
	logs := c.logPaths(site, g)
	partial := g.Target + ".partial"

	res := GroupOutcome{Group: g}
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt
		if attempt > 1 {
			wait := time.Duration(attempt-1) * c.cfg.RetryBackoff
			select {
			case <-ctx.Done():
				res.Err = ctx.Err()
				return res
			case <-time.After(wait):
			}
		}

		_ = os.Remove(partial)
		lastErr = c.cfg.Merger.Merge(ctx, g.Inputs, partial, logs)
		if lastErr == nil {
			lastErr = os.Rename(partial, g.Target)
		}
		if lastErr == nil {
			break
		}
		c.cfg.Logger.Debug("Merge attempt failed",
			zap.String("site", site),
			zap.String("target", g.Target),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}
	if lastErr != nil {
		_ = os.Remove(partial)
		res.Err = &MergeError{Site: site, Target: g.Target, Attempts: res.Attempts, Err: lastErr}
		return res
	}

	for _, in := range g.Inputs {
		if err := os.Remove(in); err != nil && !os.IsNotExist(err) {
			c.cfg.Logger.Warn("Failed to remove merged yearly file",
				zap.String("path", in),
				zap.Error(err),
			)
		}
	}
	c.cfg.Logger.Info("Merged yearly files",
		zap.String("site", site),
		zap.String("target", g.Target),
		zap.Int("inputs", len(g.Inputs)),
	)
	return res
}

func (c *Consolidator) logPaths(site string, g Group) LogPaths {
	if c.cfg.LogDir == "" {
		return LogPaths{}
	}
	base := filepath.Join(c.cfg.LogDir, site, strings.TrimSuffix(g.Name, ".nc"))
	return LogPaths{
		Stdout: base + ".merge.stdout.log",
		Stderr: base + ".merge.stderr.log",
	}
}

// Discover lists the site's yearly files under dir grouped by target.
//
// Groups are ordered by name; inputs within a group are ordered by year.
func Discover(dir, site string) ([]Group, error) {
	pattern := escapeGlob(site) + ".[0-9][0-9][0-9][0-9].*.nc"
	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil {
		return nil, fmt.Errorf("list yearly files for %s in %s: %w", site, dir, err)
	}
	if len(matches) == 0 {
		if _, statErr := os.Stat(dir); statErr != nil {
			return nil, fmt.Errorf("list yearly files for %s: %w", site, statErr)
		}
		return nil, nil
	}

	type entry struct {
		year int
		path string
	}
	byName := map[string][]entry{}
	prefix := site + "."
	for _, m := range matches {
		rest := strings.TrimPrefix(m, prefix)
		year, err := strconv.Atoi(rest[:4])
		if err != nil {
			continue
		}
		name := prefix + rest[5:]
		byName[name] = append(byName[name], entry{year: year, path: filepath.Join(dir, m)})
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	groups := make([]Group, 0, len(names))
	for _, n := range names {
		entries := byName[n]
		sort.Slice(entries, func(i, j int) bool { return entries[i].year < entries[j].year })
		g := Group{Name: n, Target: filepath.Join(dir, n)}
		for _, e := range entries {
			g.Inputs = append(g.Inputs, e.path)
			g.Years = append(g.Years, e.year)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
