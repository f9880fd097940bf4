package schema

// SkillInfo identifies one skill directory discovered in the workspace
// or the built-in skill set.
type SkillInfo struct {
	Name   string // directory name, doubles as the skill identifier
	Path   string // absolute path to SKILL.md
	Source string // "workspace" or "builtin"
}
