package cli

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pabot-dev/pabot/internal/config"
	"github.com/pabot-dev/pabot/internal/errors"
)

// ArgFile is one --argumentfileN option: the numeric suffix and the path.
type ArgFile struct {
	Index string
	Path  string
}

// Args is the parsed pabot command line. Pabot's own options come first;
// everything it does not recognize passes through to the runner, with the
// trailing existing paths taken as datasources.
type Args struct {
	Verbose               bool
	Help                  bool
	Version               bool
	TestLevelSplit        bool
	Command               []string
	Processes             int
	ProcessesAll          bool
	CoordinationEnabled   bool
	CoordinationHost      string
	CoordinationPort      int
	ProcessTimeout        int
	Artifacts             []string
	ArtifactsInSubfolders bool
	ResourceFile          string
	Ordering              string
	SuitesFrom            string
	PrerunModifier        string
	ShardIndex            int
	ShardCount            int
	Chunk                 bool
	NoRebot               bool
	ArgumentFiles         []ArgFile

	// Remaining are runner-native options passed through untouched.
	Remaining []string
	// Datasources are the trailing input paths.
	Datasources []string
}

var argFilePattern = regexp.MustCompile(`^--argumentfile(\d+)$`)

// ParseArgs extracts pabot's options from the command line, applying cfg as
// the defaults the flags override.
func ParseArgs(argv []string, cfg *config.Configuration) (*Args, error) {
	args := &Args{
		Command:               cfg.Command,
		Processes:             cfg.Processes,
		CoordinationEnabled:   cfg.CoordinationEnabled,
		CoordinationHost:      cfg.CoordinationHost,
		CoordinationPort:      cfg.CoordinationPort,
		ProcessTimeout:        cfg.ProcessTimeout,
		Artifacts:             cfg.Artifacts,
		ArtifactsInSubfolders: cfg.ArtifactsInSubfolders,
		ResourceFile:          cfg.ResourceFile,
		Verbose:               cfg.Verbose,
		TestLevelSplit:        cfg.TestLevelSplit,
		ShardIndex:            1,
		ShardCount:            1,
	}

	sawLib, sawNoLib := false, false
	i := 0
	for i < len(argv) {
		arg := argv[i]
		if !strings.HasPrefix(arg, "--") {
			args.Remaining = append(args.Remaining, arg)
			i++
			continue
		}
		name := arg[2:]

		if m := argFilePattern.FindStringSubmatch(arg); m != nil {
			value, err := takeValue(argv, i, arg)
			if err != nil {
				return nil, err
			}
			args.ArgumentFiles = append(args.ArgumentFiles, ArgFile{Index: m[1], Path: value})
			i += 2
			continue
		}

		switch name {
		case "help":
			args.Help = true
			i++
		case "version":
			args.Version = true
			i++
		case "verbose":
			args.Verbose = true
			i++
		case "testlevelsplit":
			args.TestLevelSplit = true
			i++
		case "chunk":
			args.Chunk = true
			i++
		case "no-rebot":
			args.NoRebot = true
			i++
		case "artifactsinsubfolders":
			args.ArtifactsInSubfolders = true
			i++
		case "pabotlib":
			sawLib = true
			args.CoordinationEnabled = true
			i++
		case "no-pabotlib":
			sawNoLib = true
			args.CoordinationEnabled = false
			i++
		case "command":
			end := indexOf(argv[i:], "--end-command")
			if end < 0 {
				return nil, errors.NewUsageErrorWithSyntax(
					"--command requires a matching --end-command",
					"pabot --command <runner invocation> --end-command ...")
			}
			if end == 1 {
				return nil, errors.NewUsageError("--command requires at least one word")
			}
			args.Command = argv[i+1 : i+end]
			i += end + 1
		case "processes":
			value, err := takeValue(argv, i, arg)
			if err != nil {
				return nil, err
			}
			if value == "all" {
				args.ProcessesAll = true
			} else {
				n, err := strconv.Atoi(value)
				if err != nil || n < 1 {
					return nil, errors.NewUsageErrorWithSyntax(
						"invalid value for --processes: "+value,
						"pabot --processes <N|all> ...")
				}
				args.Processes = n
			}
			i += 2
		case "pabotlibhost":
			value, err := takeValue(argv, i, arg)
			if err != nil {
				return nil, err
			}
			// Pointing at a remote coordination server means pabot does
			// not start its own.
			args.CoordinationEnabled = false
			args.CoordinationHost = value
			i += 2
		case "pabotlibport":
			n, err := takeIntValue(argv, i, arg)
			if err != nil {
				return nil, err
			}
			args.CoordinationPort = n
			i += 2
		case "processtimeout":
			n, err := takeIntValue(argv, i, arg)
			if err != nil {
				return nil, err
			}
			args.ProcessTimeout = n
			i += 2
		case "resourcefile":
			value, err := takeValue(argv, i, arg)
			if err != nil {
				return nil, err
			}
			args.ResourceFile = value
			i += 2
		case "ordering":
			value, err := takeValue(argv, i, arg)
			if err != nil {
				return nil, err
			}
			args.Ordering = value
			i += 2
		case "suitesfrom":
			value, err := takeValue(argv, i, arg)
			if err != nil {
				return nil, err
			}
			args.SuitesFrom = value
			i += 2
		case "pabotprerunmodifier":
			value, err := takeValue(argv, i, arg)
			if err != nil {
				return nil, err
			}
			args.PrerunModifier = value
			i += 2
		case "artifacts":
			value, err := takeValue(argv, i, arg)
			if err != nil {
				return nil, err
			}
			args.Artifacts = splitComma(value)
			i += 2
		case "shard":
			value, err := takeValue(argv, i, arg)
			if err != nil {
				return nil, err
			}
			index, count, ok := parseShard(value)
			if !ok {
				return nil, errors.NewUsageErrorWithSyntax(
					"invalid value for --shard: "+value,
					"pabot --shard <index>/<count> ...")
			}
			args.ShardIndex, args.ShardCount = index, count
			i += 2
		default:
			args.Remaining = append(args.Remaining, arg)
			i++
		}
	}

	if sawLib && sawNoLib {
		return nil, errors.NewUsageError("cannot use both --pabotlib and --no-pabotlib")
	}

	args.splitDatasources()
	return args, nil
}

// takeValue returns the token after position i.
func takeValue(argv []string, i int, flag string) (string, error) {
	if i+1 >= len(argv) {
		return "", errors.NewUsageError(flag + " requires a value")
	}
	return argv[i+1], nil
}

func takeIntValue(argv []string, i int, flag string) (int, error) {
	value, err := takeValue(argv, i, flag)
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(value)
	if convErr != nil {
		return 0, errors.NewUsageError("invalid value for " + flag + ": " + value)
	}
	return n, nil
}

func indexOf(items []string, want string) int {
	for i, item := range items {
		if item == want {
			return i
		}
	}
	return -1
}

func splitComma(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseShard(value string) (index, count int, ok bool) {
	left, right, found := strings.Cut(value, "/")
	if !found {
		return 0, 0, false
	}
	index, err1 := strconv.Atoi(left)
	count, err2 := strconv.Atoi(right)
	if err1 != nil || err2 != nil || count < 1 || index < 1 || index > count {
		return 0, 0, false
	}
	return index, count, true
}

// splitDatasources moves the trailing run of existing paths from Remaining
// into Datasources. Runner options always precede datasources, so the split
// point is the last pass-through token that is not a path on disk.
func (a *Args) splitDatasources() {
	cut := len(a.Remaining)
	for cut > 0 {
		candidate := a.Remaining[cut-1]
		if strings.HasPrefix(candidate, "-") {
			break
		}
		if _, err := os.Stat(candidate); err != nil {
			break
		}
		cut--
	}
	a.Datasources = a.Remaining[cut:]
	a.Remaining = a.Remaining[:cut]
}
