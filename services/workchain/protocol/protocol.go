// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol provides named presets for the self-consistent
// Hubbard cycle.
//
// A preset bundles the sampling density, numerical thresholds and loop
// policy for a target accuracy. Callers may override any field; the
// overrides are respected verbatim.
package protocol

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/viper"

	"github.com/AleutianAI/hubbardflow/services/scheduler"
	"github.com/AleutianAI/hubbardflow/services/workchain"
)

// ErrUnknownProtocol indicates a preset name that is not registered.
var ErrUnknownProtocol = errors.New("unknown protocol")

// =============================================================================
// PRESET
// =============================================================================

// Preset is one named configuration of the cycle.
type Preset struct {
	// Name is the preset identifier.
	Name string `mapstructure:"name"`

	// Description is a one-line summary for CLI listings.
	Description string `mapstructure:"description"`

	// KPoints is the SCF sampling mesh.
	KPoints [3]int `mapstructure:"kpoints"`

	// QPoints is the linear-response perturbation mesh.
	QPoints [3]int `mapstructure:"qpoints"`

	// ConvThrSCF is the SCF energy threshold in Ry for the smeared run.
	ConvThrSCF float64 `mapstructure:"conv_thr_scf"`

	// ConvThrChi is the response function threshold of the
	// linear-response run.
	ConvThrChi float64 `mapstructure:"conv_thr_chi"`

	// ToleranceOnsite is the |dU| convergence tolerance in eV.
	ToleranceOnsite float64 `mapstructure:"tolerance_onsite"`

	// ToleranceIntersite is the |dV| convergence tolerance in eV.
	ToleranceIntersite float64 `mapstructure:"tolerance_intersite"`

	// MaxIterations is the cycle iteration budget.
	MaxIterations int `mapstructure:"max_iterations"`

	// MetaConvergence enables the self-consistent loop.
	MetaConvergence bool `mapstructure:"meta_convergence"`

	// CleanWorkdir removes stage work directories per iteration.
	CleanWorkdir bool `mapstructure:"clean_workdir"`
}

// builtins holds the registered presets. The moderate preset is the
// default trade-off; fast sacrifices sampling density for turnaround,
// precise is for production numbers.
var builtins = map[string]Preset{
	"fast": {
		Name:               "fast",
		Description:        "Coarse sampling and loose thresholds for quick checks",
		KPoints:            [3]int{2, 2, 2},
		QPoints:            [3]int{1, 1, 1},
		ConvThrSCF:         1e-8,
		ConvThrChi:         1e-4,
		ToleranceOnsite:    0.5,
		ToleranceIntersite: 0.1,
		MaxIterations:      5,
		MetaConvergence:    true,
		CleanWorkdir:       true,
	},
	"moderate": {
		Name:               "moderate",
		Description:        "Balanced sampling and thresholds for general use",
		KPoints:            [3]int{4, 4, 4},
		QPoints:            [3]int{2, 2, 2},
		ConvThrSCF:         1e-10,
		ConvThrChi:         1e-6,
		ToleranceOnsite:    0.1,
		ToleranceIntersite: 0.01,
		MaxIterations:      10,
		MetaConvergence:    true,
		CleanWorkdir:       true,
	},
	"precise": {
		Name:               "precise",
		Description:        "Dense sampling and tight thresholds for production numbers",
		KPoints:            [3]int{6, 6, 6},
		QPoints:            [3]int{3, 3, 3},
		ConvThrSCF:         1e-12,
		ConvThrChi:         1e-8,
		ToleranceOnsite:    0.05,
		ToleranceIntersite: 0.005,
		MaxIterations:      15,
		MetaConvergence:    true,
		CleanWorkdir:       true,
	},
}

// DefaultName is the preset used when none is requested.
const DefaultName = "moderate"

// Names returns the registered preset names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the description of each registered preset.
func Describe() map[string]string {
	out := make(map[string]string, len(builtins))
	for name, preset := range builtins {
		out[name] = preset.Description
	}
	return out
}

// Load returns the preset with the given name; an empty name selects
// the default.
func Load(name string) (*Preset, error) {
	return LoadWithOverrides(name, nil)
}

// LoadWithOverrides returns the named preset with the given fields
// replaced verbatim.
//
// Description:
//
//	Overrides are keyed by the preset's mapstructure tags, e.g.
//	"max_iterations" or "tolerance_onsite". Unknown keys are ignored;
//	provided values are taken as-is with no clamping, since the caller
//	explicitly asked for them.
func LoadWithOverrides(name string, overrides map[string]any) (*Preset, error) {
	if name == "" {
		name = DefaultName
	}
	base, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownProtocol, name, Names())
	}
	if len(overrides) == 0 {
		preset := base
		return &preset, nil
	}

	v := viper.New()
	v.SetDefault("name", base.Name)
	v.SetDefault("description", base.Description)
	v.SetDefault("kpoints", base.KPoints[:])
	v.SetDefault("qpoints", base.QPoints[:])
	v.SetDefault("conv_thr_scf", base.ConvThrSCF)
	v.SetDefault("conv_thr_chi", base.ConvThrChi)
	v.SetDefault("tolerance_onsite", base.ToleranceOnsite)
	v.SetDefault("tolerance_intersite", base.ToleranceIntersite)
	v.SetDefault("max_iterations", base.MaxIterations)
	v.SetDefault("meta_convergence", base.MetaConvergence)
	v.SetDefault("clean_workdir", base.CleanWorkdir)

	if err := v.MergeConfigMap(overrides); err != nil {
		return nil, fmt.Errorf("merge overrides: %w", err)
	}

	var preset Preset
	if err := v.Unmarshal(&preset); err != nil {
		return nil, fmt.Errorf("decode protocol %q: %w", name, err)
	}
	return &preset, nil
}

// =============================================================================
// DERIVED CONFIGURATION
// =============================================================================

// Config builds the cycle configuration for this preset.
func (p *Preset) Config() *workchain.Config {
	cfg := workchain.DefaultConfig()
	cfg.ToleranceOnsite = p.ToleranceOnsite
	cfg.ToleranceIntersite = p.ToleranceIntersite
	cfg.MaxIterations = p.MaxIterations
	cfg.MetaConvergence = p.MetaConvergence
	cfg.CleanWorkdir = p.CleanWorkdir
	_ = cfg.Validate()
	return cfg
}

// StageSpecs builds the relax, scf and hp stage templates for this
// preset. The structure is attached by the controller per iteration.
func (p *Preset) StageSpecs() (relax, scf, hp *scheduler.StageSpec) {
	relax = &scheduler.StageSpec{
		KPoints:   p.KPoints,
		Projector: scheduler.ProjectorAtomic,
	}
	scf = &scheduler.StageSpec{
		KPoints:       p.KPoints,
		ConvThreshold: p.ConvThrSCF,
		Projector:     scheduler.ProjectorOrthoAtomic,
	}
	hp = &scheduler.StageSpec{
		KPoints:       p.QPoints,
		ConvThreshold: p.ConvThrChi,
	}
	return relax, scf, hp
}
