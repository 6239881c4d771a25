package schedulecache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"ironclad.dev/dpm/model"
)

// Fingerprint is the content hash of a program's scheduling inputs. Two
// networks with the same activities (id, duration, constraint) and the
// same dependency edges hash identically, so cached CPM output for one is
// valid for the other.
func Fingerprint(programID uuid.UUID, activities []*model.Activity, deps []*model.Dependency) string {
	lines := make([]string, 0, len(activities)+len(deps)+1)
	lines = append(lines, "program:"+programID.String())
	for _, a := range activities {
		date := ""
		if a.ConstraintDate != nil {
			date = a.ConstraintDate.UTC().Format("2006-01-02")
		}
		lines = append(lines, fmt.Sprintf("a:%s:%d:%s:%s", a.ID, a.Duration, a.Constraint, date))
	}
	for _, d := range deps {
		lines = append(lines, fmt.Sprintf("d:%s:%s:%s:%d", d.PredecessorID, d.SuccessorID, d.Type, d.Lag))
	}
	// Input order must not change the hash.
	sort.Strings(lines[1:])
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// SimulationFingerprint extends the network fingerprint with the
// simulation configuration, so a changed distribution or iteration count
// misses the cache.
func SimulationFingerprint(networkFingerprint string, cfg *model.SimulationConfig) string {
	lines := []string{
		"net:" + networkFingerprint,
		fmt.Sprintf("iter:%d", cfg.Iterations),
		fmt.Sprintf("mode:%v", cfg.NetworkMode),
	}
	if cfg.Seed != nil {
		lines = append(lines, fmt.Sprintf("seed:%d", *cfg.Seed))
	}
	dist := make([]string, 0, len(cfg.Distributions))
	for _, d := range cfg.Distributions {
		dist = append(dist, fmt.Sprintf("dist:%s:%s:%g:%g:%g:%g:%g",
			d.ActivityID, d.Kind, d.Min, d.Mode, d.Max, d.Mean, d.StdDev))
	}
	sort.Strings(dist)
	sum := sha256.Sum256([]byte(strings.Join(append(lines, dist...), "\n")))
	return hex.EncodeToString(sum[:])
}
