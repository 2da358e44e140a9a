package config

import (
	"errors"
	"sort"
	"strings"
)

// LevelCap is the highest attainable player level.
const LevelCap = 100

// ErrUnknownJob is returned when a job group names an abbreviation outside the registry.
var ErrUnknownJob = errors.New("unknown job")

// Job is a job or base class abbreviation that owns a group of trackers.
type Job string

// Role groups jobs that share role-wide trackers.
type Role string

const (
	RoleTank    Role = "tank"
	RoleHealer  Role = "healer"
	RoleMelee   Role = "melee"
	RoleRanged  Role = "ranged"
	RoleCaster  Role = "caster"
	RoleUnknown Role = ""
)

type jobInfo struct {
	Role  Role
	Class Job
}

var jobs = map[Job]jobInfo{
	"PLD": {RoleTank, "GLA"},
	"WAR": {RoleTank, "MRD"},
	"DRK": {RoleTank, ""},
	"GNB": {RoleTank, ""},
	"WHM": {RoleHealer, "CNJ"},
	"SCH": {RoleHealer, "ACN"},
	"AST": {RoleHealer, ""},
	"SGE": {RoleHealer, ""},
	"MNK": {RoleMelee, "PGL"},
	"DRG": {RoleMelee, "LNC"},
	"NIN": {RoleMelee, "ROG"},
	"SAM": {RoleMelee, ""},
	"RPR": {RoleMelee, ""},
	"VPR": {RoleMelee, ""},
	"BRD": {RoleRanged, "ARC"},
	"MCH": {RoleRanged, ""},
	"DNC": {RoleRanged, ""},
	"BLM": {RoleCaster, "THM"},
	"SMN": {RoleCaster, "ACN"},
	"RDM": {RoleCaster, ""},
	"PCT": {RoleCaster, ""},
	"BLU": {RoleCaster, ""},
}

// ParseJob normalizes an abbreviation and reports whether it is a known job.
func ParseJob(s string) (Job, error) {
	j := Job(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := jobs[j]; !ok {
		return "", ErrUnknownJob
	}
	return j, nil
}

// Jobs returns every registered job in alphabetical order.
func Jobs() []Job {
	out := make([]Job, 0, len(jobs))
	for j := range jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Known reports whether the job is in the registry.
func (j Job) Known() bool {
	_, ok := jobs[j]
	return ok
}

// Role returns the role the job belongs to.
func (j Job) Role() Role {
	return jobs[j].Role
}

// Class returns the base class the job advances from, if any.
func (j Job) Class() Job {
	return jobs[j].Class
}
