// Package blast builds and runs the external commands that index the
// archive, search it against itself and cluster the hits.
package blast

import (
	"context"
	"errors"
	"strconv"

	"github.com/yourorg/textblast/internal/config"
	"github.com/yourorg/textblast/internal/errs"
	"github.com/yourorg/textblast/internal/workspace"
)

// OutFmt is the tabular hit list handed to the clustering collaborator:
// subject title, query start/end, subject start/end, alignment length,
// percent positive.
const OutFmt = "7 stitle qstart qend sstart send length ppos"

const (
	ToolMakeBlastDB = "makeblastdb"
	ToolBlastP      = "blastp"
	ToolCluster     = "cluster"
)

// ClusterRequest carries the arguments of the clustering collaborator.
type ClusterRequest struct {
	MinLength    int
	DataLocation string
	Subgraph     bool
	TSV          bool
	Full         bool
}

// Invoker issues the three external steps. Each call blocks until the
// process exits and returns a *errs.ToolError on non-zero exit.
type Invoker struct {
	Runner Runner
	Tools  config.Tools
	Params config.Search
}

func (in Invoker) IndexCommand(ws *workspace.Workspace) Command {
	return Command{
		Tool: ToolMakeBlastDB,
		Path: in.Tools.MakeBlastDB,
		Args: []string{
			"-dbtype", "prot",
			"-parse_seqids",
			"-hash_index",
			"-title", "database",
			"-out", ws.IndexPrefix(),
			"-in", ws.ArchivePath(),
		},
	}
}

func (in Invoker) SearchCommand(ws *workspace.Workspace, threads int) Command {
	s := in.Params
	return Command{
		Tool: ToolBlastP,
		Path: in.Tools.BlastP,
		Args: []string{
			"-db", ws.IndexPrefix(),
			"-query", ws.ArchivePath(),
			"-matrix", s.Matrix,
			"-gapopen", strconv.Itoa(s.GapOpen),
			"-gapextend", strconv.Itoa(s.GapExtend),
			"-threshold", strconv.Itoa(s.Threshold),
			"-word_size", strconv.Itoa(s.WordSize),
			"-outfmt", OutFmt,
			"-num_threads", strconv.Itoa(threads),
			"-evalue", s.EValue,
			"-out", ws.HitsPath(),
		},
	}
}

// ClusterCommand has an empty Path when no cluster command is configured.
func (in Invoker) ClusterCommand(ws *workspace.Workspace, req ClusterRequest) Command {
	var path string
	var args []string
	if argv := in.Tools.Cluster; len(argv) > 0 {
		path = argv[0]
		args = append(args, argv[1:]...)
	}
	args = append(args,
		"-f", ws.HitsPath(),
		"-l", strconv.Itoa(req.MinLength),
		"-t", "prot",
		"-d", req.DataLocation,
		"-o", ws.Root(),
	)
	if req.Subgraph {
		args = append(args, "--subgraph")
	}
	if req.TSV {
		args = append(args, "--tsv")
	}
	if req.Full {
		args = append(args, "--full")
	}
	return Command{Tool: ToolCluster, Path: path, Args: args}
}

var errNoCommand = errors.New("no command configured")

func (in Invoker) run(ctx context.Context, c Command) error {
	if c.Path == "" {
		return &errs.ToolError{Tool: c.Tool, ExitCode: -1, Err: errNoCommand}
	}
	return in.Runner.Run(ctx, c)
}

func (in Invoker) BuildIndex(ctx context.Context, ws *workspace.Workspace) error {
	return in.run(ctx, in.IndexCommand(ws))
}

func (in Invoker) Search(ctx context.Context, ws *workspace.Workspace, threads int) error {
	return in.run(ctx, in.SearchCommand(ws, threads))
}

func (in Invoker) Cluster(ctx context.Context, ws *workspace.Workspace, req ClusterRequest) error {
	return in.run(ctx, in.ClusterCommand(ws, req))
}
