package plugins

// Builtin quality plugins. Each is a CommandSpec so the engine owns all
// subprocess mechanics; enabling/disabling happens in plugins.toml.

// FormatPluginName identifies the formatting plugin skipped by the
// no_format guard-rails flag.
const FormatPluginName = "ruff-format"

type builtinDef struct {
	meta Metadata
	spec CommandSpec
}

func builtinDefs() []builtinDef {
	return []builtinDef{
		{
			meta: Metadata{
				Name:        "ruff-check",
				Version:     "1.0.0",
				Description: "Lint with ruff",
				Author:      "hephaestus",
				Category:    "lint",
				Requires:    []ToolRequirement{{Tool: "ruff"}},
				Order:       10,
			},
			spec: CommandSpec{Program: "ruff", BaseArgs: []string{"check"}, AskForPaths: true, AskForUserArgs: true},
		},
		{
			meta: Metadata{
				Name:        FormatPluginName,
				Version:     "1.0.0",
				Description: "Verify formatting with ruff",
				Author:      "hephaestus",
				Category:    "format",
				Requires:    []ToolRequirement{{Tool: "ruff"}},
				Order:       20,
			},
			spec: CommandSpec{Program: "ruff", BaseArgs: []string{"format", "--check"}, AskForPaths: true},
		},
		{
			meta: Metadata{
				Name:        "mypy",
				Version:     "1.0.0",
				Description: "Static type checking with mypy",
				Author:      "hephaestus",
				Category:    "types",
				Requires:    []ToolRequirement{{Tool: "mypy"}},
				Order:       30,
			},
			spec: CommandSpec{Program: "mypy", AskForPaths: true, AskForUserArgs: true},
		},
		{
			meta: Metadata{
				Name:        "pytest",
				Version:     "1.0.0",
				Description: "Run the test suite",
				Author:      "hephaestus",
				Category:    "tests",
				Requires:    []ToolRequirement{{Tool: "pytest"}},
				Order:       40,
			},
			spec: CommandSpec{Program: "pytest", AskForUserArgs: true},
		},
		{
			meta: Metadata{
				Name:        "pip-audit",
				Version:     "1.0.0",
				Description: "Audit dependencies for known vulnerabilities",
				Author:      "hephaestus",
				Category:    "security",
				Requires:    []ToolRequirement{{Tool: "pip-audit"}},
				Order:       50,
			},
			spec: CommandSpec{Program: "pip-audit", AskForUserArgs: true},
		},
	}
}

// BuiltinNames lists the builtin plugin names in execution order.
func BuiltinNames() []string {
	defs := builtinDefs()
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.meta.Name
	}
	return out
}
