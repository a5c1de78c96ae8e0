package api

// Manifest is the root of a kiln build file (kiln.hcl).
type Manifest struct {
	// Store overrides the state database path, relative to the manifest.
	Store string `hcl:"store,optional"`
	// Steps are the build steps, in declaration order.
	Steps []Step `hcl:"step,block"`
}

// Step declares one build step: a builder applied to sources.
type Step struct {
	// Name is the block label; other steps refer to the step by it.
	Name string `hcl:"name,label"`
	// Builder selects the step kind: "copy" or "command".
	Builder string `hcl:"builder"`

	// Sources are paths relative to the manifest directory.
	Sources []string `hcl:"sources,optional"`
	// Inputs name upstream steps whose targets become sources.
	Inputs []string `hcl:"inputs,optional"`
	// After names steps whose targets are explicit dependencies.
	After []string `hcl:"after,optional"`
	// Depends lists files that are explicit dependencies.
	Depends []string `hcl:"depends,optional"`
	// Values are named strings that are explicit dependencies (flags, versions).
	Values map[string]string `hcl:"values,optional"`

	// Dir is the destination directory of a copy step.
	Dir string `hcl:"dir,optional"`

	// Command is the argv of a command step.
	Command     []string `hcl:"command,optional"`
	Outputs     []string `hcl:"outputs,optional"`
	SideEffects []string `hcl:"side_effects,optional"`
	// Scan enables implicit dependency scanning: "auto", "c" or "cpp".
	Scan        string   `hcl:"scan,optional"`
	IncludeDirs []string `hcl:"include_dirs,optional"`
	// Split builds every source as its own node.
	Split bool `hcl:"split,optional"`

	// Signature is the file signature kind: "checksum" (default) or "timestamp".
	Signature string `hcl:"signature,optional"`
}
