// Package prereq verifies the host tools the pipeline shells out to.
package prereq

import (
	"log/slog"
	"os/exec"
	"strings"

	"github.com/piprov/piprov/pkg/errors"
)

// Tool is a binary looked up on PATH.
type Tool struct {
	Name     string
	Required bool
	Purpose  string
	Package  string
}

// DefaultTools returns every tool a provisioning run may invoke.
func DefaultTools() []Tool {
	return []Tool{
		{Name: "dd", Required: true, Purpose: "write the image to the card", Package: "coreutils"},
		{Name: "lsblk", Required: true, Purpose: "find removable devices", Package: "util-linux"},
		{Name: "findmnt", Required: true, Purpose: "inspect mounts", Package: "util-linux"},
		{Name: "mount", Required: true, Purpose: "mount card partitions", Package: "mount"},
		{Name: "umount", Required: true, Purpose: "unmount card partitions", Package: "mount"},
		{Name: "ping", Required: true, Purpose: "probe the network and the new host", Package: "iputils-ping"},
		{Name: "xz", Required: false, Purpose: "fast xz decompression (a slower built-in decoder is used otherwise)", Package: "xz-utils"},
		{Name: "partprobe", Required: false, Purpose: "re-read the partition table after writing", Package: "parted"},
	}
}

// Result is the outcome of looking up one tool.
type Result struct {
	Tool  Tool
	Found bool
	Path  string
}

// Results collects the outcome of a check.
type Results struct {
	Results []Result
	Missing []Tool
}

// Err returns a precondition error naming every missing required tool.
func (r *Results) Err() error {
	var names, pkgs []string
	for _, t := range r.Missing {
		if t.Required {
			names = append(names, t.Name)
			pkgs = append(pkgs, t.Package)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return errors.Precondition(errors.ErrMissingTool, strings.Join(names, ", "), nil).
		WithHint("install " + strings.Join(dedupe(pkgs), " "))
}

var lookPath = exec.LookPath

// Check looks up tools on PATH and logs what it finds.
func Check(tools []Tool) *Results {
	res := &Results{}
	for _, tool := range tools {
		r := Result{Tool: tool}
		if path, err := lookPath(tool.Name); err == nil {
			r.Found, r.Path = true, path
			slog.Debug("tool_found", "tool", tool.Name, "path", path)
		} else {
			res.Missing = append(res.Missing, tool)
			if !tool.Required {
				slog.Warn("optional_tool_missing", "tool", tool.Name, "purpose", tool.Purpose)
			}
		}
		res.Results = append(res.Results, r)
	}
	return res
}

// Found reports whether name was located by the check.
func (r *Results) Found(name string) bool {
	for _, x := range r.Results {
		if x.Tool.Name == name {
			return x.Found
		}
	}
	return false
}

func dedupe(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
