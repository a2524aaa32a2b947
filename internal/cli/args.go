package cli

import (
	"strings"

	"github.com/palantir/palantir-compute-module-dataset-etl/internal/config"
	"github.com/palantir/palantir-compute-module-dataset-etl/internal/dataset"
)

// folderArgs are the directory tokens of run and list:
//
//	<raw-folder> <script-folder> [project_dir=<dir>] [distributed_root=<dir>]
//
// Every token is suffixed with "/" when it lacks one.
type folderArgs struct {
	RawFolder       string
	ScriptFolder    string
	ProjectDir      string
	DistributedRoot string
}

func parseFolderArgs(args []string) (folderArgs, error) {
	var out folderArgs
	var positional []string
	for _, raw := range args {
		tok := strings.TrimSpace(raw)
		if tok == "" {
			continue
		}
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			positional = append(positional, dataset.WithSlash(tok))
			continue
		}
		if value == "" {
			return folderArgs{}, usageErr("%s needs a directory", key)
		}
		value = dataset.WithSlash(value)
		switch key {
		case "project_dir":
			out.ProjectDir = value
		case "distributed_root":
			out.DistributedRoot = value
		case "raw_folder":
			out.RawFolder = value
		case "script_folder":
			out.ScriptFolder = value
		default:
			return folderArgs{}, usageErr("unknown argument %q (want project_dir=, distributed_root=, raw_folder= or script_folder=)", key)
		}
	}

	if len(positional) > 2 {
		return folderArgs{}, usageErr("expected at most <raw-folder> <script-folder>, got %d folders", len(positional))
	}
	if len(positional) > 0 {
		out.RawFolder = positional[0]
	}
	if len(positional) > 1 {
		out.ScriptFolder = positional[1]
	}
	return out, nil
}

// apply overrides cfg with the tokens that were given.
func (a folderArgs) apply(cfg config.Config) config.Config {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.RawFolder, a.RawFolder)
	set(&cfg.ScriptFolder, a.ScriptFolder)
	set(&cfg.ProjectDir, a.ProjectDir)
	set(&cfg.DistributedRoot, a.DistributedRoot)
	return cfg
}
