// Package version exposes build and dependency information embedded by
// the Go toolchain.
package version

import (
	"fmt"
	"runtime/debug"
	"sort"
)

// Service is the binary's name as reported by the version command and
// the health endpoint.
const Service = "dpm"

// DependencyInfo represents a module dependency and its version.
type DependencyInfo struct {
	Path    string `json:"path"`
	Version string `json:"version"`
	Replace string `json:"replace,omitempty"`
}

// BuildInfo contains build-time information.
type BuildInfo struct {
	GoVersion    string           `json:"goVersion"`
	MainModule   string           `json:"mainModule"`
	MainVersion  string           `json:"mainVersion"`
	Dependencies []DependencyInfo `json:"dependencies"`
}

// GetBuildInfo extracts module information embedded at build time.
func GetBuildInfo() *BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return &BuildInfo{
			GoVersion:    "unknown",
			MainModule:   "unknown",
			MainVersion:  "unknown",
			Dependencies: []DependencyInfo{},
		}
	}

	buildInfo := &BuildInfo{
		GoVersion:    info.GoVersion,
		MainModule:   info.Path,
		MainVersion:  info.Main.Version,
		Dependencies: make([]DependencyInfo, 0, len(info.Deps)),
	}
	for _, dep := range info.Deps {
		depInfo := DependencyInfo{Path: dep.Path, Version: dep.Version}
		if dep.Replace != nil {
			depInfo.Replace = dep.Replace.Path + "@" + dep.Replace.Version
		}
		buildInfo.Dependencies = append(buildInfo.Dependencies, depInfo)
	}
	sort.Slice(buildInfo.Dependencies, func(i, j int) bool {
		return buildInfo.Dependencies[i].Path < buildInfo.Dependencies[j].Path
	})
	return buildInfo
}

// Info returns the one-line version string printed by the version
// command.
func Info() string {
	b := GetBuildInfo()
	v := b.MainVersion
	if v == "" || v == "(devel)" {
		v = "dev"
	}
	return fmt.Sprintf("%s %s (%s)", Service, v, b.GoVersion)
}

// GetDependency returns version information for a specific dependency,
// nil when the module is absent from the build.
func GetDependency(modulePath string) *DependencyInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	for _, dep := range info.Deps {
		if dep.Path == modulePath {
			depInfo := &DependencyInfo{Path: dep.Path, Version: dep.Version}
			if dep.Replace != nil {
				depInfo.Replace = dep.Replace.Path + "@" + dep.Replace.Version
			}
			return depInfo
		}
	}
	return nil
}
