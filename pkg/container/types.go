// Package container tracks shared containerized workers. Containers are
// expensive to pull and start, so one container serves every session that
// needs the same node type; set-based membership decides, under one lock,
// when the underlying container may actually be stopped.
package container

import (
	"regexp"
	"strings"
	"time"
)

// Health classifies a shared container instance as seen by the engine.
type Health int

const (
	// HealthUnknown - not probed yet
	HealthUnknown Health = iota
	// HealthHealthy - engine reports the container running
	HealthHealthy
	// HealthUnhealthy - engine reports the container stopped or gone
	HealthUnhealthy
)

// String returns the string representation of a Health value
func (h Health) String() string {
	switch h {
	case HealthUnknown:
		return "Unknown"
	case HealthHealthy:
		return "Healthy"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Invalid"
	}
}

// Instance is a point-in-time snapshot of one shared container and its
// member sessions. Mutation happens only inside the Registry.
type Instance struct {
	NodeType    string
	Name        string
	Image       string
	ContainerID string
	Health      Health
	Sessions    []string
	CreatedAt   time.Time
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

// ContainerName returns the deterministic container name for a node type.
// A single name per node type lets the runtime find leftovers from an
// unclean shutdown and clear them before creating, and makes a duplicate
// create fail at the engine instead of silently forking the container.
func ContainerName(nodeType string) string {
	s := strings.ToLower(strings.TrimSpace(nodeType))
	s = invalidNameChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-.")
	if s == "" {
		s = "node"
	}
	return "remotemedia-node-" + s
}
