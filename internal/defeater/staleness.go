package defeater

import (
	_ "embed"
	"fmt"
	"math"
	"time"

	"github.com/BurntSushi/toml"

	"ctxpack/internal/knowledge"
)

//go:embed decay.toml
var defaultDecayProfile []byte

// Profile declares per-section half-lives and the sections each pack type
// decays on.
type Profile struct {
	HalfLives map[string]float64  `toml:"halfLives"`
	Packs     map[string][]string `toml:"packs"`
}

// LoadProfile parses a decay profile from TOML.
func LoadProfile(data []byte) (*Profile, error) {
	var p Profile
	if _, err := toml.Decode(string(data), &p); err != nil {
		return nil, fmt.Errorf("parse decay profile: %w", err)
	}
	if len(p.Packs["default"]) == 0 {
		return nil, fmt.Errorf("decay profile has no default sections")
	}
	for packType, sections := range p.Packs {
		for _, s := range sections {
			if hl, ok := p.HalfLives[s]; !ok || hl <= 0 {
				return nil, fmt.Errorf("pack type %s uses section %q without a positive half-life", packType, s)
			}
		}
	}
	return &p, nil
}

// DefaultProfile returns the built-in decay profile.
func DefaultProfile() *Profile {
	p, err := LoadProfile(defaultDecayProfile)
	if err != nil {
		panic(err)
	}
	return p
}

// Sections returns the sections a pack type decays on.
func (p *Profile) Sections(t knowledge.PackType) []string {
	if s, ok := p.Packs[string(t)]; ok && len(s) > 0 {
		return s
	}
	return p.Packs["default"]
}

// Factor returns the decay multiplier for a pack of type t and the given age:
// the mean over its sections of 0.5^(ageDays/halfLife).
func (p *Profile) Factor(t knowledge.PackType, age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	ageDays := age.Hours() / 24

	sections := p.Sections(t)
	total := 0.0
	for _, s := range sections {
		total += math.Pow(0.5, ageDays/p.HalfLives[s])
	}
	return total / float64(len(sections))
}

// Decay returns copies of packs with confidence lowered by age. Confidence is
// never raised and never drops below floor.
func (p *Profile) Decay(packs []knowledge.ContextPack, now time.Time, floor float64) []knowledge.ContextPack {
	out := make([]knowledge.ContextPack, len(packs))
	for i, pack := range packs {
		out[i] = pack.Clone()
		if pack.CreatedAt.IsZero() {
			continue
		}
		decayed := pack.Confidence * p.Factor(pack.PackType, now.Sub(pack.CreatedAt))
		out[i].Confidence = lower(pack.Confidence, decayed, floor)
	}
	return out
}

// lower returns candidate bounded below by floor, but never more than current.
func lower(current, candidate, floor float64) float64 {
	if math.IsNaN(candidate) || math.IsInf(candidate, 0) {
		return current
	}
	return math.Min(current, math.Max(floor, candidate))
}
