package sdd

import (
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/zjrosen/sddrun/internal/log"
	"github.com/zjrosen/sddrun/internal/paths"
)

// ResolutionKind ranks what a scaffold provides for a command.
type ResolutionKind int

const (
	// Unresolved means neither a script nor an instruction document exists.
	Unresolved ResolutionKind = iota
	// Documented means only an instruction document exists. It is never executed.
	Documented
	// Resolved means a runnable script exists.
	Resolved
)

func (k ResolutionKind) String() string {
	switch k {
	case Resolved:
		return "script"
	case Documented:
		return "instructions"
	default:
		return "none"
	}
}

// MarshalText encodes the kind as its display name.
func (k ResolutionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Resolution is the Resolver's answer for one command.
type Resolution struct {
	Command         Command        `json:"command"`
	Kind            ResolutionKind `json:"kind"`
	ScriptPath      string         `json:"script_path,omitempty"`
	InstructionPath string         `json:"instruction_path,omitempty"`
}

// Executable reports whether the resolution names a script to run.
func (r Resolution) Executable() bool {
	return r.Kind == Resolved && r.ScriptPath != ""
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithScriptExtensions sets the extensions tried, in order, for scripts.
func WithScriptExtensions(exts ...string) ResolverOption {
	return func(r *Resolver) {
		if len(exts) > 0 {
			r.scriptExts = normalizeExts(exts)
		}
	}
}

// WithInstructionExtensions sets the extensions tried, in order, for instruction docs.
func WithInstructionExtensions(exts ...string) ResolverOption {
	return func(r *Resolver) {
		if len(exts) > 0 {
			r.instructionExts = normalizeExts(exts)
		}
	}
}

// Resolver maps commands to files under a scaffold directory.
type Resolver struct {
	fs              afero.Fs
	scriptExts      []string
	instructionExts []string
}

// NewResolver creates a resolver reading through fs.
// Defaults: scripts end in .sh, instruction documents in .md.
func NewResolver(fs afero.Fs, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		fs:              fs,
		scriptExts:      []string{".sh"},
		instructionExts: []string{".md"},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks for scripts/<command><ext> first, then instructions/<command><ext>.
func (r *Resolver) Resolve(c Command, scaffoldDir string) Resolution {
	res := Resolution{Command: c, Kind: Unresolved}

	if path, ok := r.find(paths.ScriptsDir(scaffoldDir), c, r.scriptExts); ok {
		log.Info(log.CatResolve, "found script", "command", c, "path", path)
		res.Kind = Resolved
		res.ScriptPath = path
		return res
	}

	if path, ok := r.find(paths.InstructionsDir(scaffoldDir), c, r.instructionExts); ok {
		log.Info(log.CatResolve, "found instruction file, using fallback execution",
			"command", c, "path", path)
		res.Kind = Documented
		res.InstructionPath = path
		return res
	}

	log.Warn(log.CatResolve, "no script found", "command", c, "scaffold", scaffoldDir)
	return res
}

// InstructionPath returns the instruction document for c even when a script
// also exists.
func (r *Resolver) InstructionPath(c Command, scaffoldDir string) (string, bool) {
	return r.find(paths.InstructionsDir(scaffoldDir), c, r.instructionExts)
}

// Availability resolves every allow-listed command.
func (r *Resolver) Availability(scaffoldDir string) []Resolution {
	cmds := AllCommands()
	out := make([]Resolution, 0, len(cmds))
	for _, c := range cmds {
		res := r.Resolve(c, scaffoldDir)
		if res.Kind == Resolved {
			if doc, ok := r.InstructionPath(c, scaffoldDir); ok {
				res.InstructionPath = doc
			}
		}
		out = append(out, res)
	}
	return out
}

func (r *Resolver) find(dir string, c Command, exts []string) (string, bool) {
	if ok, err := afero.IsDir(r.fs, dir); err != nil || !ok {
		return "", false
	}
	for _, ext := range exts {
		candidate := filepath.Join(dir, c.String()+ext)
		info, err := r.fs.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		return candidate, true
	}
	return "", false
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		if ext == "" {
			continue
		}
		if ext[0] != '.' {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}
