package instruction

import (
	"sort"
	"strings"
)

// Canonical instruction names. The executor collaborators are keyed on these;
// nothing outside this set is ever executed.
const (
	WebSearch    = "web_search"
	Navigate     = "navigate"
	ReadPage     = "read_page"
	Click        = "click"
	TypeText     = "type_text"
	ReadFile     = "read_file"
	WriteFile    = "write_file"
	EditFile     = "edit_file"
	ListDir      = "list_dir"
	RunCommand   = "run_command"
	FetchURL     = "fetch_url"
	GitCommand   = "git_command"
	TaskComplete = "task_complete"
)

// Canonical parameter keys.
const (
	ParamPath      = "path"
	ParamContent   = "content"
	ParamURL       = "url"
	ParamCommand   = "command"
	ParamQuery     = "query"
	ParamSelector  = "selector"
	ParamText      = "text"
	ParamOldText   = "old_text"
	ParamNewText   = "new_text"
	ParamStartLine = "start_line"
	ParamEndLine   = "end_line"
)

// Vocabulary is the injected, immutable lookup configuration for one
// extractor instance: the whitelist, the alias tables, and the keys under
// which models hide their parameters. Sessions with different vocabularies
// coexist; there is no process-wide table.
type Vocabulary struct {
	whitelist    map[string]bool
	aliases      map[string]string
	paramAliases map[string]string

	// containerKeys are accepted wrappers around the parameter object.
	containerKeys []string
	// nameKeys are accepted keys carrying the instruction name.
	nameKeys []string
	// cliBinaries trigger the shell-recovery rule: a rejected name that is a
	// known CLI binary with a command argument becomes run_command.
	cliBinaries map[string]bool
}

// DefaultVocabulary returns the full vocabulary with the stock alias tables.
func DefaultVocabulary() *Vocabulary {
	v := &Vocabulary{
		whitelist:    make(map[string]bool),
		aliases:      make(map[string]string),
		paramAliases: make(map[string]string),
		containerKeys: []string{
			"params", "arguments", "parameters", "input",
		},
		nameKeys: []string{
			"name", "tool", "tool_name", "action", "function",
		},
		cliBinaries: make(map[string]bool),
	}

	for _, name := range []string{
		WebSearch, Navigate, ReadPage, Click, TypeText,
		ReadFile, WriteFile, EditFile, ListDir,
		RunCommand, FetchURL, GitCommand, TaskComplete,
	} {
		v.whitelist[name] = true
	}

	aliases := map[string]string{
		"search":          WebSearch,
		"search_web":      WebSearch,
		"google":          WebSearch,
		"google_search":   WebSearch,
		"duckduckgo":      WebSearch,
		"goto":            Navigate,
		"go_to":           Navigate,
		"open_url":        Navigate,
		"browse":          Navigate,
		"visit":           Navigate,
		"get_page":        ReadPage,
		"page_content":    ReadPage,
		"view_page":       ReadPage,
		"read_browser":    ReadPage,
		"click_element":   Click,
		"press":           Click,
		"input_text":      TypeText,
		"fill":            TypeText,
		"type":            TypeText,
		"open_file":       ReadFile,
		"view_file":       ReadFile,
		"file_read":       ReadFile,
		"cat":             ReadFile,
		"create_file":     WriteFile,
		"save_file":       WriteFile,
		"file_write":      WriteFile,
		"write":           WriteFile,
		"write_to_file":   WriteFile,
		"save":            WriteFile,
		"modify_file":     EditFile,
		"replace_in_file": EditFile,
		"patch_file":      EditFile,
		"str_replace":     EditFile,
		"ls":              ListDir,
		"list_files":      ListDir,
		"list_directory":  ListDir,
		"shell":           RunCommand,
		"bash":            RunCommand,
		"execute":         RunCommand,
		"exec":            RunCommand,
		"run":             RunCommand,
		"run_shell":       RunCommand,
		"terminal":        RunCommand,
		"cmd":             RunCommand,
		"http_get":        FetchURL,
		"download":        FetchURL,
		"fetch":           FetchURL,
		// "git" is deliberately not an alias: a bare git name goes through
		// the CLI-binary recovery rule and becomes run_command.
		"done":          TaskComplete,
		"finish":        TaskComplete,
		"complete_task": TaskComplete,
		"finish_task":   TaskComplete,
	}
	for a, c := range aliases {
		v.aliases[a] = c
	}

	paramAliases := map[string]string{
		"file_path":     ParamPath,
		"filepath":      ParamPath,
		"filename":      ParamPath,
		"file_name":     ParamPath,
		"file":          ParamPath,
		"target_file":   ParamPath,
		"data":          ParamContent,
		"body":          ParamContent,
		"contents":      ParamContent,
		"file_content":  ParamContent,
		"file_contents": ParamContent,
		"uri":           ParamURL,
		"link":          ParamURL,
		"address":       ParamURL,
		"target_url":    ParamURL,
		"cmd":           ParamCommand,
		"script":        ParamCommand,
		"shell_command": ParamCommand,
		"bash_command":  ParamCommand,
		"q":             ParamQuery,
		"search_query":  ParamQuery,
		"search_term":   ParamQuery,
		"keywords":      ParamQuery,
		"old_string":    ParamOldText,
		"old_str":       ParamOldText,
		"find":          ParamOldText,
		"new_string":    ParamNewText,
		"new_str":       ParamNewText,
		"replace":       ParamNewText,
	}
	for a, c := range paramAliases {
		v.paramAliases[a] = c
	}

	for _, bin := range []string{
		"git", "npm", "npx", "pip", "pip3", "python", "python3", "node",
		"go", "cargo", "make", "docker", "kubectl", "curl", "wget",
		"grep", "find", "sed", "awk", "tar", "unzip",
	} {
		v.cliBinaries[bin] = true
	}

	return v
}

// Resolve normalizes a raw name (lower-case, trim, strip namespacing) and
// returns the canonical whitelisted name. ok is false for names that neither
// the whitelist nor the alias table recognizes.
func (v *Vocabulary) Resolve(raw string) (string, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.Trim(name, `"'`)
	// Tolerate "functions.write_file" style namespacing.
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}

	if v.whitelist[name] {
		return name, true
	}
	if canon, ok := v.aliases[name]; ok {
		return canon, true
	}
	return "", false
}

// IsWhitelisted reports whether name is a canonical instruction name.
func (v *Vocabulary) IsWhitelisted(name string) bool {
	return v.whitelist[name]
}

// IsCLIBinary reports whether name is a known command-line binary, for the
// shell-recovery rule.
func (v *Vocabulary) IsCLIBinary(name string) bool {
	return v.cliBinaries[strings.ToLower(strings.TrimSpace(name))]
}

// CanonicalParam maps a parameter key to its canonical form. Unknown keys
// pass through unchanged; executors tolerate them.
func (v *Vocabulary) CanonicalParam(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if canon, ok := v.paramAliases[k]; ok {
		return canon
	}
	return k
}

// CanonicalParamFor maps a parameter key in the context of an instruction.
// "text" is content for a file-write but literal typed text for type_text.
func (v *Vocabulary) CanonicalParamFor(name, key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if name == WriteFile && k == "text" {
		return ParamContent
	}
	return v.CanonicalParam(k)
}

// ContainerKeys returns the accepted parameter-container keys.
func (v *Vocabulary) ContainerKeys() []string {
	return v.containerKeys
}

// NameKeys returns the accepted instruction-name keys.
func (v *Vocabulary) NameKeys() []string {
	return v.nameKeys
}

// Names returns all whitelisted names, sorted for stable disclosure lists.
func (v *Vocabulary) Names() []string {
	out := make([]string, 0, len(v.whitelist))
	for name := range v.whitelist {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
